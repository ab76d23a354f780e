package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/mykhaliev/agent-snapshot/templates"
	"github.com/yalp/jsonpath"
)

// ScriptedAssertions runs deterministic predicates over the trajectory.
// Assertion values are template-rendered against the run context before
// evaluation.
type ScriptedAssertions struct {
	Assertions  []model.Assertion
	TemplateCtx map[string]string
	// SideEffects reports the mock responder's side-effect counter for a
	// tool; required by the idempotent_replay assertion.
	SideEffects func(tool string) int
}

func (s *ScriptedAssertions) Name() string { return "assertions" }

func (s *ScriptedAssertions) Score(_ context.Context, trajectory *model.Trajectory, _ *model.Scenario) (Score, error) {
	if len(s.Assertions) == 0 {
		return Score{}, fmt.Errorf("assertion evaluator configured with no assertions")
	}

	passed := 0
	var failures []string
	for _, a := range s.Assertions {
		a.Value = templates.Render(a.Value, s.TemplateCtx)
		ok, detail := s.eval(a, trajectory)
		if ok {
			passed++
		} else {
			failures = append(failures, detail)
		}
	}

	score := Score{
		Pass:  len(failures) == 0,
		Value: float64(passed) / float64(len(s.Assertions)),
	}
	if score.Pass {
		score.Detail = fmt.Sprintf("all %d assertions passed", len(s.Assertions))
	} else {
		score.Detail = strings.Join(failures, "; ")
	}
	return score, nil
}

func (s *ScriptedAssertions) eval(a model.Assertion, trajectory *model.Trajectory) (bool, string) {
	switch a.Type {
	case "max_turns":
		if len(trajectory.Steps) > a.Count {
			return false, fmt.Sprintf("trajectory has %d steps, max %d", len(trajectory.Steps), a.Count)
		}
		return true, ""

	case "output_contains":
		if !strings.Contains(trajectory.FinalOutput(), a.Value) {
			return false, fmt.Sprintf("final output does not contain %q", a.Value)
		}
		return true, ""

	case "output_not_contains":
		if strings.Contains(trajectory.FinalOutput(), a.Value) {
			return false, fmt.Sprintf("final output contains forbidden %q", a.Value)
		}
		return true, ""

	case "tool_not_called":
		for _, name := range trajectory.ToolNames() {
			if name == a.Tool {
				return false, fmt.Sprintf("forbidden tool %q was called", a.Tool)
			}
		}
		return true, ""

	case "tool_result_matches_json":
		return s.evalToolResultJSON(a, trajectory)

	case "idempotent_replay":
		if s.SideEffects == nil {
			return false, "idempotent_replay requires responder side-effect stats"
		}
		if count := s.SideEffects(a.Tool); count > 1 {
			return false, fmt.Sprintf("tool %q side effect executed %d times, want at most once", a.Tool, count)
		}
		return true, ""

	default:
		return false, fmt.Sprintf("unknown assertion type %q", a.Type)
	}
}

func (s *ScriptedAssertions) evalToolResultJSON(a model.Assertion, trajectory *model.Trajectory) (bool, string) {
	found := false
	for _, step := range trajectory.ToolSteps() {
		if step.Tool != a.Tool {
			continue
		}
		found = true

		var data interface{}
		if err := sonic.Unmarshal([]byte(step.Response), &data); err != nil {
			continue
		}
		res, err := jsonpath.Read(data, a.Path)
		if err != nil {
			continue
		}
		if model.DeepEqual(res, a.Value) {
			return true, ""
		}
	}
	if !found {
		return false, fmt.Sprintf("tool %q was not called", a.Tool)
	}
	return false, fmt.Sprintf("no %q result matched %s == %q", a.Tool, a.Path, a.Value)
}
