package store

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetupWriter(io.Discard, false)
	os.Exit(m.Run())
}

func testSnapshot(scenarioID, fingerprint string) *model.Snapshot {
	return &model.Snapshot{
		ScenarioID: scenarioID,
		Trajectory: model.Trajectory{
			ScenarioID: scenarioID,
			Steps: []model.Step{
				{Role: model.RoleUser, Content: "refund please"},
				{Role: model.RoleTool, Tool: "issue_refund",
					Arguments: map[string]interface{}{"id": "A-100"}},
			},
		},
		Fingerprint: fingerprint,
		CompareMode: model.CompareStructural,
		RecordedAt:  time.Now().UTC(),
	}
}

func TestSnapshotStoreCreateLoad(t *testing.T) {
	s, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load("refund-request")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, s.Create(testSnapshot("refund-request", "fp-1")))

	loaded, err := s.Load("refund-request")
	require.NoError(t, err)
	assert.Equal(t, "refund-request", loaded.ScenarioID)
	assert.Equal(t, "fp-1", loaded.Fingerprint)
	assert.Equal(t, model.CompareStructural, loaded.CompareMode)
	require.Len(t, loaded.Trajectory.Steps, 2)
	// JSON round-trip keeps argument values comparable
	assert.True(t, model.DeepEqual(
		map[string]interface{}{"id": "A-100"},
		loaded.Trajectory.Steps[1].Arguments))
}

func TestSnapshotStoreCreateRefusesOverwrite(t *testing.T) {
	s, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Create(testSnapshot("refund-request", "fp-1")))

	err = s.Create(testSnapshot("refund-request", "fp-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	loaded, err := s.Load("refund-request")
	require.NoError(t, err)
	assert.Equal(t, "fp-1", loaded.Fingerprint)
}

func TestSnapshotStoreReview(t *testing.T) {
	t.Run("Accept promotes the candidate", func(t *testing.T) {
		s, err := NewSnapshotStore(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, s.Create(testSnapshot("refund-request", "fp-old")))
		require.NoError(t, s.StageCandidate(testSnapshot("refund-request", "fp-new")))

		candidate, err := s.Candidate("refund-request")
		require.NoError(t, err)
		assert.Equal(t, "fp-new", candidate.Fingerprint)

		require.NoError(t, s.Review("refund-request", ReviewAccept))

		loaded, err := s.Load("refund-request")
		require.NoError(t, err)
		assert.Equal(t, "fp-new", loaded.Fingerprint)
		_, err = s.Candidate("refund-request")
		assert.ErrorIs(t, err, ErrNoCandidate)
	})

	t.Run("Reject keeps the snapshot", func(t *testing.T) {
		s, err := NewSnapshotStore(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, s.Create(testSnapshot("refund-request", "fp-old")))
		require.NoError(t, s.StageCandidate(testSnapshot("refund-request", "fp-new")))

		require.NoError(t, s.Review("refund-request", ReviewReject))

		loaded, err := s.Load("refund-request")
		require.NoError(t, err)
		assert.Equal(t, "fp-old", loaded.Fingerprint)
		_, err = s.Candidate("refund-request")
		assert.ErrorIs(t, err, ErrNoCandidate)
	})

	t.Run("Nothing staged", func(t *testing.T) {
		s, err := NewSnapshotStore(t.TempDir())
		require.NoError(t, err)
		err = s.Review("refund-request", ReviewAccept)
		assert.ErrorIs(t, err, ErrNoCandidate)
	})

	t.Run("Unknown decision", func(t *testing.T) {
		s, err := NewSnapshotStore(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, s.StageCandidate(testSnapshot("refund-request", "fp-new")))
		err = s.Review("refund-request", "maybe")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown review decision")
	})
}

func TestSnapshotStoreDetectsMislabeledFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSnapshotStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Create(testSnapshot("order-status", "fp-1")))

	// file claims a different scenario than its name
	require.NoError(t, os.Rename(
		dir+"/order-status"+snapshotSuffix,
		dir+"/refund-request"+snapshotSuffix))

	_, err = s.Load("refund-request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claims scenario")
}
