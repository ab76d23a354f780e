package evaluator

import (
	"context"
	"fmt"
	"testing"

	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeLLM returns a canned completion or error.
type fakeLLM struct {
	response string
	err      error
	prompt   string
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			f.prompt = text.Text
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func judgeTrajectory() *model.Trajectory {
	return &model.Trajectory{
		ScenarioID: "refund-request",
		Steps: []model.Step{
			{Role: model.RoleUser, Content: "refund order A-100"},
			{Role: model.RoleTool, Tool: "issue_refund",
				Arguments: map[string]interface{}{"id": "A-100"}, Response: `{"ok":true}`},
			{Role: model.RoleAssistant, Content: "Refund issued."},
		},
	}
}

func judgeScenario() *model.Scenario {
	return &model.Scenario{
		ID:              "refund-request",
		SuccessCriteria: []string{"refund is issued"},
	}
}

func TestJudgeScore(t *testing.T) {
	ctx := context.Background()

	t.Run("Score above threshold passes", func(t *testing.T) {
		llm := &fakeLLM{response: `{"score": 0.9, "rationale": "refund issued as asked"}`}
		j := &Judge{LLM: llm, Threshold: 0.7}

		score, err := j.Score(ctx, judgeTrajectory(), judgeScenario())
		require.NoError(t, err)
		assert.True(t, score.Pass)
		assert.InDelta(t, 0.9, score.Value, 1e-9)
		assert.Equal(t, "refund issued as asked", score.Detail)
	})

	t.Run("Score below threshold fails", func(t *testing.T) {
		llm := &fakeLLM{response: `{"score": 0.4, "rationale": "never confirmed the amount"}`}
		j := &Judge{LLM: llm, Threshold: 0.7}

		score, err := j.Score(ctx, judgeTrajectory(), judgeScenario())
		require.NoError(t, err)
		assert.False(t, score.Pass)
	})

	t.Run("Fenced JSON is tolerated", func(t *testing.T) {
		llm := &fakeLLM{response: "```json\n{\"score\": 1.0, \"rationale\": \"ok\"}\n```"}
		j := &Judge{LLM: llm}

		score, err := j.Score(ctx, judgeTrajectory(), judgeScenario())
		require.NoError(t, err)
		assert.True(t, score.Pass)
	})

	t.Run("Prompt carries criteria and transcript", func(t *testing.T) {
		llm := &fakeLLM{response: `{"score": 1, "rationale": "ok"}`}
		j := &Judge{LLM: llm, Prompt: "Grade the refund handling."}

		_, err := j.Score(ctx, judgeTrajectory(), judgeScenario())
		require.NoError(t, err)
		assert.Contains(t, llm.prompt, "Grade the refund handling.")
		assert.Contains(t, llm.prompt, "refund is issued")
		assert.Contains(t, llm.prompt, "issue_refund")
	})
}

func TestJudgeDegrades(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		llm  llms.Model
	}{
		{"Provider error", &fakeLLM{err: fmt.Errorf("rate limited")}},
		{"Garbage response", &fakeLLM{response: "I think it went fine!"}},
		{"Out of range score", &fakeLLM{response: `{"score": 7, "rationale": "scale confusion"}`}},
		{"No provider configured", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			open := &Judge{LLM: tc.llm, Policy: FailOpen}
			score, err := open.Score(ctx, judgeTrajectory(), judgeScenario())
			require.NoError(t, err)
			assert.True(t, score.Pass)
			assert.Contains(t, score.Detail, "fail-open")

			closed := &Judge{LLM: tc.llm, Policy: FailClosed}
			score, err = closed.Score(ctx, judgeTrajectory(), judgeScenario())
			require.NoError(t, err)
			assert.False(t, score.Pass)
			assert.Contains(t, score.Detail, "fail-closed")
		})
	}
}

func TestParseJudgeResponse(t *testing.T) {
	verdict, err := parseJudgeResponse(`Sure! Here is my grade: {"score": 0.85, "rationale": "solid"} hope that helps`)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, verdict.Score, 1e-9)

	_, err = parseJudgeResponse("no json here")
	require.Error(t, err)

	_, err = parseJudgeResponse(`{"score": -0.2}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
