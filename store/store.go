package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
)

// ErrNoSnapshot is returned when a scenario has never been recorded.
var ErrNoSnapshot = errors.New("no snapshot recorded")

// ErrNoCandidate is returned by Review when there is nothing to accept.
var ErrNoCandidate = errors.New("no candidate recording awaiting review")

const (
	snapshotSuffix  = ".snapshot.json"
	candidateSuffix = ".candidate.json"
	filePermission  = 0644
)

// SnapshotStore persists one trusted trajectory per scenario as a JSON
// file. A normal run never overwrites a snapshot: it may create one for a
// previously unrecorded scenario, or stage a candidate for human review.
// Only Review mutates an existing snapshot.
type SnapshotStore struct {
	dir string
	mu  sync.RWMutex
}

func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) snapshotPath(scenarioID string) string {
	return filepath.Join(s.dir, scenarioID+snapshotSuffix)
}

func (s *SnapshotStore) candidatePath(scenarioID string) string {
	return filepath.Join(s.dir, scenarioID+candidateSuffix)
}

// Load returns the stored snapshot for a scenario, or ErrNoSnapshot.
func (s *SnapshotStore) Load(scenarioID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readSnapshot(s.snapshotPath(scenarioID), scenarioID)
}

// Create records the first snapshot for a scenario. It refuses to replace
// an existing one; that path goes through Review.
func (s *SnapshotStore) Create(snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.snapshotPath(snap.ScenarioID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot for %q already exists; use review to replace it", snap.ScenarioID)
	}
	return writeSnapshot(path, snap)
}

// StageCandidate saves a fresh recording that differs from the stored
// snapshot, awaiting an accept/reject decision.
func (s *SnapshotStore) StageCandidate(snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSnapshot(s.candidatePath(snap.ScenarioID), snap)
}

// Candidate returns the staged recording for a scenario, or ErrNoCandidate.
func (s *SnapshotStore) Candidate(scenarioID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := readSnapshot(s.candidatePath(scenarioID), scenarioID)
	if errors.Is(err, ErrNoSnapshot) {
		return nil, ErrNoCandidate
	}
	return snap, err
}

type ReviewDecision string

const (
	ReviewAccept ReviewDecision = "accept"
	ReviewReject ReviewDecision = "reject"
)

// Review resolves a staged candidate. Accept promotes the candidate over
// the stored snapshot (trajectory and fingerprint); reject discards the
// candidate and keeps the trusted snapshot, so the scenario keeps failing
// until the agent is fixed.
func (s *SnapshotStore) Review(scenarioID string, decision ReviewDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.candidatePath(scenarioID)
	if _, err := os.Stat(candidate); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoCandidate, scenarioID)
		}
		return fmt.Errorf("failed to access candidate for %q: %w", scenarioID, err)
	}

	switch decision {
	case ReviewAccept:
		if err := os.Rename(candidate, s.snapshotPath(scenarioID)); err != nil {
			return fmt.Errorf("failed to accept candidate for %q: %w", scenarioID, err)
		}
		logger.Logger.Info("Candidate accepted as new snapshot", "scenario", scenarioID)
	case ReviewReject:
		if err := os.Remove(candidate); err != nil {
			return fmt.Errorf("failed to reject candidate for %q: %w", scenarioID, err)
		}
		logger.Logger.Info("Candidate rejected, snapshot kept", "scenario", scenarioID)
	default:
		return fmt.Errorf("unknown review decision %q (want accept or reject)", decision)
	}
	return nil
}

func readSnapshot(path, scenarioID string) (*model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, scenarioID)
		}
		return nil, fmt.Errorf("failed to read snapshot for %q: %w", scenarioID, err)
	}

	var snap model.Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("malformed snapshot for %q: %w", scenarioID, err)
	}
	if snap.ScenarioID != scenarioID {
		return nil, fmt.Errorf("malformed snapshot: file for %q claims scenario %q", scenarioID, snap.ScenarioID)
	}
	return &snap, nil
}

func writeSnapshot(path string, snap *model.Snapshot) error {
	data, err := sonic.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %q: %w", snap.ScenarioID, err)
	}
	if err := os.WriteFile(path, data, filePermission); err != nil {
		return fmt.Errorf("failed to write snapshot for %q: %w", snap.ScenarioID, err)
	}
	return nil
}
