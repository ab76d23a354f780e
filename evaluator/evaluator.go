package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mykhaliev/agent-snapshot/compare"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
)

// Score is one evaluator's judgment of a trajectory.
type Score struct {
	Pass   bool
	Value  float64
	Detail string
}

// Evaluator scores a recorded trajectory against its scenario. A returned
// error means the evaluator itself broke (infrastructure), not that the
// trajectory is wrong.
type Evaluator interface {
	Name() string
	Score(ctx context.Context, trajectory *model.Trajectory, scenario *model.Scenario) (Score, error)
}

// Composer folds the comparator's result and any additional evaluators
// into one per-scenario verdict.
type Composer struct {
	Evaluators []Evaluator
}

// Evaluate applies every evaluator and aggregates.
//
// Precedence: Errored > Failed > Changed > Passed. Any evaluator error is
// an infrastructure failure and is never coerced into Failed. A single
// failing evaluator fails the scenario, and dominates Changed. A stale
// fingerprint with an otherwise matching comparison yields Changed: no
// evaluator declared the new behavior wrong, so the judgment call is
// deferred to a human.
func (c *Composer) Evaluate(ctx context.Context, trajectory *model.Trajectory, scenario *model.Scenario, comparison compare.Result, stale bool) model.EvaluationResult {
	result := model.EvaluationResult{
		ScenarioID: scenario.ID,
		Tags:       scenario.Tags,
	}

	switch comparison.Outcome {
	case compare.Match:
		result.Scores = append(result.Scores, model.EvaluatorScore{
			Name: "snapshot", Pass: true, Value: 1,
		})
	case compare.Diverged:
		result.Diff = divergenceDetail(comparison)
		result.Scores = append(result.Scores, model.EvaluatorScore{
			Name: "snapshot", Pass: false, Detail: result.Diff,
		})
	case compare.ModeMismatch:
		result.Verdict = model.VerdictErrored
		result.Error = comparison.Detail
		return result
	}

	var errs []string
	anyFail := comparison.Outcome == compare.Diverged

	for _, ev := range c.Evaluators {
		score, err := ev.Score(ctx, trajectory, scenario)
		if err != nil {
			logger.Logger.Warn("Evaluator errored",
				"scenario", scenario.ID, "evaluator", ev.Name(), "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", ev.Name(), err))
			result.Scores = append(result.Scores, model.EvaluatorScore{
				Name: ev.Name(), Detail: err.Error(),
			})
			continue
		}
		result.Scores = append(result.Scores, model.EvaluatorScore{
			Name: ev.Name(), Pass: score.Pass, Value: score.Value, Detail: score.Detail,
		})
		if !score.Pass {
			anyFail = true
		}
	}

	// A fingerprint change demotes an otherwise-matching comparison to
	// Changed; a real divergence is the stronger signal and stays Failed.
	changed := stale && comparison.Outcome == compare.Match

	switch {
	case len(errs) > 0:
		result.Verdict = model.VerdictErrored
		result.Error = strings.Join(errs, "; ")
	case anyFail:
		result.Verdict = model.VerdictFailed
	case changed:
		result.Verdict = model.VerdictChanged
	default:
		result.Verdict = model.VerdictPassed
	}
	return result
}

func divergenceDetail(r compare.Result) string {
	if r.Index >= 0 {
		return fmt.Sprintf("diverged at step %d: %s", r.Index, r.Detail)
	}
	return "diverged: " + r.Detail
}
