package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/life4/genesis/slices"
	"github.com/mykhaliev/agent-snapshot/model"
)

type TrajectoryMode string

const (
	TrajectoryStrict      TrajectoryMode = "strict"
	TrajectoryUnordered   TrajectoryMode = "unordered"
	TrajectorySubsequence TrajectoryMode = "subsequence"
)

// TrajectoryMatch checks the recorded tool calls against the scenario's
// declared expected_tools lists. Unlike snapshot comparison this is a
// check against the authored expectation, not against a prior recording.
type TrajectoryMatch struct {
	Mode TrajectoryMode
}

func (t *TrajectoryMatch) Name() string { return "trajectory_match" }

func (t *TrajectoryMatch) Score(_ context.Context, trajectory *model.Trajectory, scenario *model.Scenario) (Score, error) {
	expected := scenario.ExpectedTools()
	actual := trajectory.ToolNames()

	mode := t.Mode
	if mode == "" {
		mode = TrajectoryStrict
	}

	switch mode {
	case TrajectoryStrict:
		// Exact order, no extras.
		if slices.Equal(expected, actual) {
			return pass(fmt.Sprintf("tool sequence matched exactly: [%s]", strings.Join(actual, ", "))), nil
		}
		return fail(fmt.Sprintf("expected tool sequence [%s], got [%s]",
			strings.Join(expected, ", "), strings.Join(actual, ", "))), nil

	case TrajectoryUnordered:
		// Same multiset, any order.
		if sameMultiset(expected, actual) {
			return pass(fmt.Sprintf("all %d expected tools called", len(expected))), nil
		}
		return fail(fmt.Sprintf("expected tools [%s] in any order, got [%s]",
			strings.Join(expected, ", "), strings.Join(actual, ", "))), nil

	case TrajectorySubsequence:
		// Expected tools appear in order; extra calls permitted.
		matched := 0
		for _, name := range actual {
			if matched < len(expected) && name == expected[matched] {
				matched++
			}
		}
		if matched == len(expected) {
			return pass(fmt.Sprintf("expected tools appear in order within [%s]", strings.Join(actual, ", "))), nil
		}
		return fail(fmt.Sprintf("matched %d/%d expected tools in order: expected [%s], got [%s]",
			matched, len(expected), strings.Join(expected, ", "), strings.Join(actual, ", "))), nil

	default:
		return Score{}, fmt.Errorf("unknown trajectory mode %q", mode)
	}
}

func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, name := range a {
		counts[name]++
	}
	for _, name := range b {
		counts[name]--
		if counts[name] < 0 {
			return false
		}
	}
	return true
}

func pass(detail string) Score { return Score{Pass: true, Value: 1, Detail: detail} }
func fail(detail string) Score { return Score{Pass: false, Value: 0, Detail: detail} }
