package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDataset = `
name: customer-service
jobs:
  - name: orders
    scenarios:
      - id: refund-request
        tags: [billing, critical]
        compare_mode: strict
        turns:
          - user: "I want a refund for order A-100"
          - tools:
              expect: [lookup_order, issue_refund]
              mocks:
                lookup_order: '{"status":"delivered"}'
                issue_refund: '{"ok":true}'
      - id: order-status
        tags: [billing]
        turns:
          - user: "Where is my order?"
  - name: escalations
    scenarios:
      - id: angry-customer
        turns:
          - user: "This is unacceptable"
          - tools:
              expect: [escalate_to_human]
              interrupt: true
          - approval: approve
`

func TestParseDataset(t *testing.T) {
	ds, err := ParseDatasetFromBytes([]byte(sampleDataset))
	require.NoError(t, err)

	assert.Equal(t, "customer-service", ds.Name)
	require.Len(t, ds.Jobs, 2)
	require.Len(t, ds.Jobs[0].Scenarios, 2)

	sc := ds.Jobs[0].Scenarios[0]
	assert.Equal(t, "refund-request", sc.ID)
	assert.Equal(t, CompareStrict, sc.Mode())
	assert.Equal(t, []string{"lookup_order", "issue_refund"}, sc.ExpectedTools())
	assert.True(t, sc.HasTag("critical"))
	assert.False(t, sc.HasTag("smoke"))

	// compare_mode defaults to structural
	assert.Equal(t, CompareStructural, ds.Jobs[0].Scenarios[1].Mode())

	approval := ds.Jobs[1].Scenarios[0].Turns[2]
	require.NotNil(t, approval.Approval)
	assert.Equal(t, DecisionApprove, approval.Approval.Decision)
}

func TestTurnUnion(t *testing.T) {
	t.Run("Two variants on one turn", func(t *testing.T) {
		_, err := ParseDatasetFromBytes([]byte(`
name: bad
jobs:
  - name: j
    scenarios:
      - id: s1
        turns:
          - user: "hello"
            tools:
              expect: [ping]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one")
	})

	t.Run("Empty turn", func(t *testing.T) {
		_, err := ParseDatasetFromBytes([]byte(`
name: bad
jobs:
  - name: j
    scenarios:
      - id: s1
        turns:
          - {}
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one")
	})

	t.Run("Invalid approval decision", func(t *testing.T) {
		_, err := ParseDatasetFromBytes([]byte(`
name: bad
jobs:
  - name: j
    scenarios:
      - id: s1
        turns:
          - approval: maybe
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid approval decision")
	})
}

func TestValidateDataset(t *testing.T) {
	t.Run("Duplicate scenario ids across jobs", func(t *testing.T) {
		_, err := ParseDatasetFromBytes([]byte(`
name: bad
jobs:
  - name: a
    scenarios:
      - id: dup
        turns: [{user: "x"}]
  - name: b
    scenarios:
      - id: dup
        turns: [{user: "y"}]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate scenario id")
	})

	t.Run("Unknown compare mode", func(t *testing.T) {
		_, err := ParseDatasetFromBytes([]byte(`
name: bad
jobs:
  - name: a
    scenarios:
      - id: s1
        compare_mode: fuzzy
        turns: [{user: "x"}]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown compare mode")
	})

	t.Run("Scenario with no turns", func(t *testing.T) {
		_, err := ParseDatasetFromBytes([]byte(`
name: bad
jobs:
  - name: a
    scenarios:
      - id: s1
        turns: []
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no turns")
	})

	t.Run("Unknown evaluator type", func(t *testing.T) {
		_, err := ParseDatasetFromBytes([]byte(`
name: bad
jobs:
  - name: a
    scenarios:
      - id: s1
        turns: [{user: "x"}]
        evaluators:
          - type: oracle
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown evaluator type")
	})
}

func TestScenariosTagFilter(t *testing.T) {
	ds, err := ParseDatasetFromBytes([]byte(sampleDataset))
	require.NoError(t, err)

	all := ds.Scenarios(nil)
	assert.Len(t, all, 3)

	billing := ds.Scenarios([]string{"billing"})
	require.Len(t, billing, 2)
	assert.Equal(t, "refund-request", billing[0].ID)

	// any-of semantics
	mixed := ds.Scenarios([]string{"critical", "nope"})
	require.Len(t, mixed, 1)
	assert.Equal(t, "refund-request", mixed[0].ID)

	assert.Empty(t, ds.Scenarios([]string{"nope"}))
}
