package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyEntry(i int) HistoryEntry {
	return HistoryEntry{
		RunID:     fmt.Sprintf("run-%d", i),
		Timestamp: time.Now().UTC(),
		Mode:      "snapshot",
		Counts:    map[model.Verdict]int{model.VerdictPassed: i},
		Results: []model.EvaluationResult{
			{ScenarioID: "refund-request", Verdict: model.VerdictPassed},
		},
	}
}

func TestHistoryAppendOrder(t *testing.T) {
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.json"), 10)
	require.NoError(t, err)

	latest, err := h.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Append(historyEntry(i)))
	}

	entries, err := h.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// most recent first
	assert.Equal(t, "run-3", entries[0].RunID)
	assert.Equal(t, "run-1", entries[2].RunID)

	latest, err = h.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-3", latest.RunID)
}

func TestHistoryRetention(t *testing.T) {
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.json"), 2)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Append(historyEntry(i)))
	}

	entries, err := h.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// oldest entries were evicted
	assert.Equal(t, "run-5", entries[0].RunID)
	assert.Equal(t, "run-4", entries[1].RunID)
}

func TestHistoryConcurrentAppends(t *testing.T) {
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.json"), DefaultHistoryRetention)
	require.NoError(t, err)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			done <- h.Append(historyEntry(i))
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	entries, err := h.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}
