package compare

import (
	"fmt"
	"sort"
	"strings"

	"github.com/life4/genesis/slices"
	"github.com/mykhaliev/agent-snapshot/model"
)

type Outcome string

const (
	Match        Outcome = "match"
	Diverged     Outcome = "diverged"
	ModeMismatch Outcome = "mode_mismatch"
)

// Result reports the comparison of a stored trajectory against a live
// one. Index is the first diverging step (-1 when not applicable).
type Result struct {
	Outcome Outcome
	Index   int
	Detail  string
}

// Options tunes a comparison. IgnoreFields nil means the default list
// (call identifiers, timestamps); SuccessCriteria is consulted only in
// semantic mode.
type Options struct {
	Mode            model.CompareMode
	IgnoreFields    []string
	SuccessCriteria []string
}

// Compare decides whether a freshly recorded trajectory still matches the
// stored one under the selected mode. Field-ignore normalization is
// applied identically in all modes before any comparison.
func Compare(stored, live model.Trajectory, opts Options) (Result, error) {
	a := stored.Normalize(opts.IgnoreFields)
	b := live.Normalize(opts.IgnoreFields)

	mode := opts.Mode
	if mode == "" {
		mode = model.CompareStructural
	}

	switch mode {
	case model.CompareStrict:
		return compareStrict(a, b), nil
	case model.CompareStructural:
		return compareStructural(a, b), nil
	case model.CompareSemantic:
		return compareSemantic(a, b, opts.SuccessCriteria), nil
	default:
		return Result{}, fmt.Errorf("unknown compare mode %q", mode)
	}
}

// compareStrict requires steps to match 1:1 in order, including tool
// arguments at value level and response content.
func compareStrict(stored, live model.Trajectory) Result {
	limit := len(stored.Steps)
	if len(live.Steps) < limit {
		limit = len(live.Steps)
	}

	for i := 0; i < limit; i++ {
		a, b := stored.Steps[i], live.Steps[i]
		if detail := strictStepDiff(a, b); detail != "" {
			return Result{Outcome: Diverged, Index: i, Detail: detail}
		}
	}
	if len(stored.Steps) != len(live.Steps) {
		return lengthDivergence(len(stored.Steps), len(live.Steps))
	}
	return Result{Outcome: Match, Index: -1}
}

func strictStepDiff(a, b model.Step) string {
	switch {
	case a.Role != b.Role:
		return fmt.Sprintf("role %q became %q", a.Role, b.Role)
	case a.Tool != b.Tool:
		return fmt.Sprintf("tool %q became %q", displayTool(a), displayTool(b))
	case !model.DeepEqual(a.Arguments, b.Arguments):
		return fmt.Sprintf("tool %q arguments %s became %s",
			a.Tool, model.NormalizeValue(a.Arguments), model.NormalizeValue(b.Arguments))
	case a.Content != b.Content:
		return fmt.Sprintf("%s content %q became %q", a.Role, preview(a.Content), preview(b.Content))
	case a.Response != b.Response:
		return fmt.Sprintf("tool %q response %q became %q", a.Tool, preview(a.Response), preview(b.Response))
	}
	return ""
}

// compareStructural requires a 1:1 in-order match on role, tool name and
// argument key set. Message text and response bodies are ignored, which
// tolerates non-deterministic wording while catching tool-selection and
// parameter-shape regressions.
func compareStructural(stored, live model.Trajectory) Result {
	limit := len(stored.Steps)
	if len(live.Steps) < limit {
		limit = len(live.Steps)
	}

	for i := 0; i < limit; i++ {
		a, b := stored.Steps[i], live.Steps[i]
		switch {
		case a.Role != b.Role:
			return Result{Outcome: Diverged, Index: i,
				Detail: fmt.Sprintf("role %q became %q", a.Role, b.Role)}
		case a.Tool != b.Tool:
			return Result{Outcome: Diverged, Index: i,
				Detail: fmt.Sprintf("tool %q became %q", displayTool(a), displayTool(b))}
		default:
			ka, kb := a.ArgumentKeys(), b.ArgumentKeys()
			if !slices.Equal(ka, kb) {
				return Result{Outcome: Diverged, Index: i,
					Detail: fmt.Sprintf("tool %q argument keys [%s] became [%s]",
						a.Tool, strings.Join(ka, ", "), strings.Join(kb, ", "))}
			}
		}
	}
	if len(stored.Steps) != len(live.Steps) {
		return lengthDivergence(len(stored.Steps), len(live.Steps))
	}
	return Result{Outcome: Match, Index: -1}
}

// compareSemantic checks only the set of tool names invoked (order and
// count ignored) and the declared success criteria against the live final
// assistant output. Intended for exploratory agents whose path varies but
// whose outcome must not.
func compareSemantic(stored, live model.Trajectory, criteria []string) Result {
	want := toolSet(stored)
	got := toolSet(live)

	var missing, extra []string
	for name := range want {
		if !got[name] {
			missing = append(missing, name)
		}
	}
	for name := range got {
		if !want[name] {
			extra = append(extra, name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return Result{Outcome: Diverged, Index: -1,
			Detail: fmt.Sprintf("tool set changed: missing [%s], unexpected [%s]",
				strings.Join(missing, ", "), strings.Join(extra, ", "))}
	}

	output := strings.ToLower(live.FinalOutput())
	for _, criterion := range criteria {
		if !strings.Contains(output, strings.ToLower(criterion)) {
			return Result{Outcome: Diverged, Index: -1,
				Detail: fmt.Sprintf("success criterion not met: %q", criterion)}
		}
	}
	return Result{Outcome: Match, Index: -1}
}

func toolSet(t model.Trajectory) map[string]bool {
	set := make(map[string]bool)
	for _, name := range t.ToolNames() {
		set[name] = true
	}
	return set
}

func lengthDivergence(stored, live int) Result {
	idx := stored
	if live < stored {
		idx = live
	}
	return Result{Outcome: Diverged, Index: idx,
		Detail: fmt.Sprintf("step count %d became %d", stored, live)}
}

func displayTool(s model.Step) string {
	if s.Tool != "" {
		return s.Tool
	}
	return "(" + s.Role + ")"
}

func preview(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
