package evaluator

import (
	"context"
	"testing"

	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectationScenario(tools ...string) *model.Scenario {
	return &model.Scenario{
		ID:    "s1",
		Turns: []model.Turn{{Tools: &model.ToolExpectation{Expect: tools}}},
	}
}

func toolTrajectory(tools ...string) *model.Trajectory {
	traj := &model.Trajectory{ScenarioID: "s1"}
	for _, name := range tools {
		traj.Append(model.Step{Role: model.RoleTool, Tool: name})
	}
	return traj
}

func TestTrajectoryMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Strict", func(t *testing.T) {
		ev := &TrajectoryMatch{Mode: TrajectoryStrict}

		score, err := ev.Score(ctx, toolTrajectory("a", "b"), expectationScenario("a", "b"))
		require.NoError(t, err)
		assert.True(t, score.Pass)

		score, err = ev.Score(ctx, toolTrajectory("b", "a"), expectationScenario("a", "b"))
		require.NoError(t, err)
		assert.False(t, score.Pass)

		// extras fail strict mode
		score, err = ev.Score(ctx, toolTrajectory("a", "b", "c"), expectationScenario("a", "b"))
		require.NoError(t, err)
		assert.False(t, score.Pass)
	})

	t.Run("Strict is the default mode", func(t *testing.T) {
		ev := &TrajectoryMatch{}
		score, err := ev.Score(ctx, toolTrajectory("b", "a"), expectationScenario("a", "b"))
		require.NoError(t, err)
		assert.False(t, score.Pass)
	})

	t.Run("Unordered", func(t *testing.T) {
		ev := &TrajectoryMatch{Mode: TrajectoryUnordered}

		score, err := ev.Score(ctx, toolTrajectory("b", "a"), expectationScenario("a", "b"))
		require.NoError(t, err)
		assert.True(t, score.Pass)

		// multiset semantics: counts matter
		score, err = ev.Score(ctx, toolTrajectory("a", "a"), expectationScenario("a", "b"))
		require.NoError(t, err)
		assert.False(t, score.Pass)

		// extras are not permitted, unlike subsequence mode
		score, err = ev.Score(ctx, toolTrajectory("a", "b", "c"), expectationScenario("a", "b"))
		require.NoError(t, err)
		assert.False(t, score.Pass)
	})

	t.Run("Subsequence", func(t *testing.T) {
		ev := &TrajectoryMatch{Mode: TrajectorySubsequence}

		score, err := ev.Score(ctx, toolTrajectory("a", "b", "c", "d"), expectationScenario("a", "c"))
		require.NoError(t, err)
		assert.True(t, score.Pass)

		// order must hold
		score, err = ev.Score(ctx, toolTrajectory("c", "a"), expectationScenario("a", "c"))
		require.NoError(t, err)
		assert.False(t, score.Pass)
		assert.Contains(t, score.Detail, "1/2")
	})

	t.Run("Unknown mode errors", func(t *testing.T) {
		ev := &TrajectoryMatch{Mode: "loose"}
		_, err := ev.Score(ctx, toolTrajectory("a"), expectationScenario("a"))
		require.Error(t, err)
	})
}
