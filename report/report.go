package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// PrintConsole writes the human-facing run summary to stdout.
func PrintConsole(s *model.RunSummary) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("  Run %s  dataset=%s  mode=%s\n", s.RunID, s.Dataset, s.Mode)
	fmt.Println(strings.Repeat("=", 80))

	for _, r := range s.Results {
		fmt.Printf("  %s %-40s %6dms", verdictBadge(r.Verdict), truncate(r.ScenarioID, 40), r.DurationMs)
		if len(r.Tags) > 0 {
			fmt.Printf("  [%s]", strings.Join(r.Tags, ", "))
		}
		fmt.Println()
		if r.Diff != "" {
			fmt.Printf("      %s\n", r.Diff)
		}
		if r.Error != "" {
			fmt.Printf("      error: %s\n", r.Error)
		}
		for _, score := range r.Scores {
			if !score.Pass && r.Verdict != model.VerdictPassed {
				fmt.Printf("      %s: %s\n", score.Name, score.Detail)
			}
		}
	}

	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("  Total: %d   Passed: %d   Failed: %d   Changed: %d   Errored: %d\n",
		len(s.Results),
		s.Count(model.VerdictPassed),
		s.Count(model.VerdictFailed),
		s.Count(model.VerdictChanged),
		s.Count(model.VerdictErrored))
	if changed := s.Count(model.VerdictChanged); changed > 0 {
		fmt.Printf("  %s%d scenario(s) need human review (run review to accept or reject)%s\n",
			colorYellow, changed, colorReset)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func verdictBadge(v model.Verdict) string {
	switch v {
	case model.VerdictPassed:
		return colorGreen + "PASS " + colorReset
	case model.VerdictFailed:
		return colorRed + "FAIL " + colorReset
	case model.VerdictChanged:
		return colorYellow + "CHNG " + colorReset
	default:
		return colorRed + "ERR  " + colorReset
	}
}

// GenerateMarkdown renders the summary as a markdown report.
func GenerateMarkdown(s *model.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Snapshot Run Report\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n- Dataset: %s\n- Mode: %s\n- Started: %s\n- Duration: %s\n\n",
		s.RunID, s.Dataset, s.Mode,
		s.StartedAt.Format("2006-01-02 15:04:05"),
		s.FinishedAt.Sub(s.StartedAt).Round(1e6).String())

	fmt.Fprintf(&b, "| Verdict | Count |\n|---|---|\n")
	for _, v := range []model.Verdict{model.VerdictPassed, model.VerdictFailed, model.VerdictChanged, model.VerdictErrored} {
		fmt.Fprintf(&b, "| %s | %d |\n", v, s.Count(v))
	}
	b.WriteString("\n## Scenarios\n\n")
	fmt.Fprintf(&b, "| Scenario | Verdict | Duration | Detail |\n|---|---|---|---|\n")
	for _, r := range s.Results {
		detail := r.Diff
		if detail == "" {
			detail = r.Error
		}
		fmt.Fprintf(&b, "| %s | %s | %dms | %s |\n",
			r.ScenarioID, r.Verdict, r.DurationMs, strings.ReplaceAll(detail, "|", "\\|"))
	}

	if len(s.TagCounts) > 0 {
		b.WriteString("\n## By tag\n\n")
		tags := make([]string, 0, len(s.TagCounts))
		for tag := range s.TagCounts {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		fmt.Fprintf(&b, "| Tag | Passed | Failed | Changed | Errored |\n|---|---|---|---|---|\n")
		for _, tag := range tags {
			counts := s.TagCounts[tag]
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d |\n", tag,
				counts[model.VerdictPassed], counts[model.VerdictFailed],
				counts[model.VerdictChanged], counts[model.VerdictErrored])
		}
	}
	return b.String()
}

// GenerateJSON renders the summary as machine-readable JSON.
func GenerateJSON(s *model.RunSummary) (string, error) {
	data, err := sonic.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run summary: %w", err)
	}
	return string(data), nil
}

// Write persists the report in the requested format next to outputPath.
func Write(s *model.RunSummary, format, outputPath string) error {
	var content string
	var err error
	switch format {
	case "json":
		content, err = GenerateJSON(s)
		if err != nil {
			return err
		}
	case "md":
		content = GenerateMarkdown(s)
	default:
		return fmt.Errorf("unknown report format %q, supported: json, md", format)
	}

	dir := filepath.Dir(outputPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(content), logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	logger.Logger.Info("Report written", "path", outputPath, "format", format)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
