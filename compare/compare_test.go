package compare

import (
	"testing"
	"time"

	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refundTrajectory() model.Trajectory {
	return model.Trajectory{
		ScenarioID: "refund-request",
		Steps: []model.Step{
			{Role: model.RoleUser, Content: "I want a refund for order A-100"},
			{Role: model.RoleTool, Tool: "lookup_order",
				Arguments: map[string]interface{}{"id": "A-100"},
				Response:  `{"status":"delivered"}`, CallID: "call-1", Timestamp: time.Now()},
			{Role: model.RoleTool, Tool: "issue_refund",
				Arguments: map[string]interface{}{"id": "A-100", "amount": 42},
				Response:  `{"ok":true}`, CallID: "call-2"},
			{Role: model.RoleAssistant, Content: "Your refund has been issued."},
		},
	}
}

func TestCompareSelfMatch(t *testing.T) {
	traj := refundTrajectory()
	for _, mode := range []model.CompareMode{model.CompareStrict, model.CompareStructural, model.CompareSemantic} {
		t.Run(string(mode), func(t *testing.T) {
			result, err := Compare(traj, refundTrajectory(), Options{Mode: mode})
			require.NoError(t, err)
			assert.Equal(t, Match, result.Outcome)
		})
	}
}

func TestCompareIgnoresVolatileFields(t *testing.T) {
	live := refundTrajectory()
	live.Steps[1].CallID = "call-99"
	live.Steps[1].Timestamp = time.Now().Add(time.Hour)

	result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStrict})
	require.NoError(t, err)
	assert.Equal(t, Match, result.Outcome)
}

func TestCompareCustomIgnoreField(t *testing.T) {
	live := refundTrajectory()
	live.Steps[2].Arguments["amount"] = 99

	strict, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStrict})
	require.NoError(t, err)
	assert.Equal(t, Diverged, strict.Outcome)

	ignored, err := Compare(refundTrajectory(), live, Options{
		Mode:         model.CompareStrict,
		IgnoreFields: []string{"callId", "timestamp", "amount"},
	})
	require.NoError(t, err)
	assert.Equal(t, Match, ignored.Outcome)
}

func TestCompareStrict(t *testing.T) {
	t.Run("Response change diverges", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[1].Response = `{"status":"pending"}`

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStrict})
		require.NoError(t, err)
		assert.Equal(t, Diverged, result.Outcome)
		assert.Equal(t, 1, result.Index)
		assert.Contains(t, result.Detail, "response")
	})

	t.Run("Equivalent numeric types match", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[2].Arguments["amount"] = 42.0

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStrict})
		require.NoError(t, err)
		assert.Equal(t, Match, result.Outcome)
	})
}

func TestCompareStructural(t *testing.T) {
	t.Run("Wording and responses are ignored", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[1].Response = `{"status":"shipped"}`
		live.Steps[3].Content = "Done, the refund is on its way."

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStructural})
		require.NoError(t, err)
		assert.Equal(t, Match, result.Outcome)
	})

	t.Run("Tool substitution diverges and names both tools", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[1].Tool = "escalate_to_human"

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStructural})
		require.NoError(t, err)
		assert.Equal(t, Diverged, result.Outcome)
		assert.Equal(t, 1, result.Index)
		assert.Contains(t, result.Detail, "lookup_order")
		assert.Contains(t, result.Detail, "escalate_to_human")
	})

	t.Run("Argument key change diverges", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[2].Arguments = map[string]interface{}{"id": "A-100", "reason": "late"}

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStructural})
		require.NoError(t, err)
		assert.Equal(t, Diverged, result.Outcome)
		assert.Equal(t, 2, result.Index)
		assert.Contains(t, result.Detail, "argument keys")
	})

	t.Run("Extra step diverges at the tail", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps = append(live.Steps, model.Step{Role: model.RoleTool, Tool: "send_survey"})

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStructural})
		require.NoError(t, err)
		assert.Equal(t, Diverged, result.Outcome)
		assert.Equal(t, 4, result.Index)
		assert.Contains(t, result.Detail, "step count")
	})
}

func TestCompareSemantic(t *testing.T) {
	t.Run("Reordered tools with same set match", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[1].Tool, live.Steps[2].Tool = live.Steps[2].Tool, live.Steps[1].Tool

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareSemantic})
		require.NoError(t, err)
		assert.Equal(t, Match, result.Outcome)
	})

	t.Run("Missing tool diverges", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps = live.Steps[:2]

		result, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareSemantic})
		require.NoError(t, err)
		assert.Equal(t, Diverged, result.Outcome)
		assert.Contains(t, result.Detail, "issue_refund")
	})

	t.Run("Success criteria are case insensitive", func(t *testing.T) {
		result, err := Compare(refundTrajectory(), refundTrajectory(), Options{
			Mode:            model.CompareSemantic,
			SuccessCriteria: []string{"REFUND has been ISSUED"},
		})
		require.NoError(t, err)
		assert.Equal(t, Match, result.Outcome)
	})

	t.Run("Unmet criterion diverges", func(t *testing.T) {
		result, err := Compare(refundTrajectory(), refundTrajectory(), Options{
			Mode:            model.CompareSemantic,
			SuccessCriteria: []string{"store credit"},
		})
		require.NoError(t, err)
		assert.Equal(t, Diverged, result.Outcome)
		assert.Contains(t, result.Detail, "store credit")
	})
}

// A trajectory accepted by a stricter mode is accepted by every looser
// one (with empty criteria in semantic mode).
func TestModeMonotonicity(t *testing.T) {
	t.Run("Structural match can strict-diverge", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[1].Response = `{"status":"shipped"}`

		strict, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStrict})
		require.NoError(t, err)
		structural, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStructural})
		require.NoError(t, err)

		assert.Equal(t, Diverged, strict.Outcome)
		assert.Equal(t, Match, structural.Outcome)
	})

	t.Run("Semantic match can structural-diverge", func(t *testing.T) {
		live := refundTrajectory()
		live.Steps[2].Arguments = map[string]interface{}{"order": "A-100"}

		structural, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareStructural})
		require.NoError(t, err)
		semantic, err := Compare(refundTrajectory(), live, Options{Mode: model.CompareSemantic})
		require.NoError(t, err)

		assert.Equal(t, Diverged, structural.Outcome)
		assert.Equal(t, Match, semantic.Outcome)
	})
}

func TestCompareUnknownMode(t *testing.T) {
	_, err := Compare(refundTrajectory(), refundTrajectory(), Options{Mode: "fuzzy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown compare mode")
}
