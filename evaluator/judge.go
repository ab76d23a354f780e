package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/tmc/langchaingo/llms"
)

type JudgePolicy string

const (
	// FailOpen treats a judge failure as a pass: the scenario is not
	// blocked on external scoring availability.
	FailOpen JudgePolicy = "fail-open"
	// FailClosed treats a judge failure as a fail.
	FailClosed JudgePolicy = "fail-closed"
)

const (
	DefaultJudgeThreshold = 0.7
	DefaultJudgeTimeout   = 60 * time.Second
)

// Judge delegates scoring to an external model. The model is a black box
// returning a 0.0-1.0 score plus rationale; a JudgeError degrades per the
// configured policy and never crashes the run.
type Judge struct {
	LLM       llms.Model
	Prompt    string
	Threshold float64
	Policy    JudgePolicy
	Timeout   time.Duration
}

func (j *Judge) Name() string { return "judge" }

type judgeVerdict struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

func (j *Judge) Score(ctx context.Context, trajectory *model.Trajectory, scenario *model.Scenario) (Score, error) {
	if j.LLM == nil {
		return j.degrade(fmt.Errorf("judge provider not configured"))
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultJudgeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := llms.GenerateFromSinglePrompt(ctx, j.LLM, j.buildPrompt(trajectory, scenario))
	if err != nil {
		return j.degrade(fmt.Errorf("judge call failed: %w", err))
	}

	verdict, err := parseJudgeResponse(response)
	if err != nil {
		return j.degrade(err)
	}

	threshold := j.Threshold
	if threshold <= 0 {
		threshold = DefaultJudgeThreshold
	}
	return Score{
		Pass:   verdict.Score >= threshold,
		Value:  verdict.Score,
		Detail: verdict.Rationale,
	}, nil
}

// degrade applies the configured policy to a judge failure.
func (j *Judge) degrade(err error) (Score, error) {
	logger.Logger.Warn("Judge degraded", "policy", j.Policy, "error", err)
	if j.Policy == FailClosed {
		return Score{Pass: false, Detail: "judge unavailable (fail-closed): " + err.Error()}, nil
	}
	return Score{Pass: true, Detail: "judge unavailable (fail-open): " + err.Error()}, nil
}

func (j *Judge) buildPrompt(trajectory *model.Trajectory, scenario *model.Scenario) string {
	var b strings.Builder
	b.WriteString("You are grading an autonomous agent's recorded behavior on a test scenario.\n\n")
	if j.Prompt != "" {
		b.WriteString(j.Prompt)
		b.WriteString("\n\n")
	}
	if len(scenario.SuccessCriteria) > 0 {
		b.WriteString("Success criteria:\n")
		for _, c := range scenario.SuccessCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(renderTranscript(trajectory))
	b.WriteString("\nRespond with a single JSON object: {\"score\": <0.0-1.0>, \"rationale\": \"<one sentence>\"}")
	return b.String()
}

func renderTranscript(t *model.Trajectory) string {
	var b strings.Builder
	for _, step := range t.Steps {
		switch step.Role {
		case model.RoleTool:
			fmt.Fprintf(&b, "[tool] %s(%s) -> %s\n", step.Tool, model.NormalizeValue(step.Arguments), step.Response)
		case model.RoleApproval:
			fmt.Fprintf(&b, "[approval] %s\n", step.Content)
		default:
			fmt.Fprintf(&b, "[%s] %s\n", step.Role, step.Content)
		}
	}
	return b.String()
}

func parseJudgeResponse(response string) (*judgeVerdict, error) {
	cleaned := strings.TrimSpace(response)
	// Models love fencing JSON even when told not to.
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var verdict judgeVerdict
	if err := sonic.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, fmt.Errorf("unparseable judge response %q: %w", preview(response), err)
	}
	if verdict.Score < 0 || verdict.Score > 1 {
		return nil, fmt.Errorf("judge score %v out of range [0,1]", verdict.Score)
	}
	return &verdict, nil
}

func preview(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
