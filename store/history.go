package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
)

const DefaultHistoryRetention = 50

// HistoryEntry is one full run in the ledger.
type HistoryEntry struct {
	RunID     string                   `json:"runId"`
	Timestamp time.Time                `json:"timestamp"`
	Mode      string                   `json:"mode"`
	Counts    map[model.Verdict]int    `json:"counts"`
	Results   []model.EvaluationResult `json:"results"`
}

// History is the append-only run ledger: most-recent-first, bounded by a
// retention count with FIFO eviction. Appends are serialized so runs keep
// a total order; every reader sees a consistent snapshot of the file.
type History struct {
	path      string
	retention int
	mu        sync.Mutex
}

func NewHistory(path string, retention int) (*History, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	return &History{path: path, retention: retention}, nil
}

// Append prepends one entry and evicts the oldest beyond the retention
// bound.
func (h *History) Append(entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load()
	if err != nil {
		return err
	}

	entries = append([]HistoryEntry{entry}, entries...)
	if len(entries) > h.retention {
		evicted := len(entries) - h.retention
		entries = entries[:h.retention]
		logger.Logger.Debug("Evicted old history entries", "count", evicted)
	}

	data, err := sonic.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run history: %w", err)
	}
	if err := os.WriteFile(h.path, data, filePermission); err != nil {
		return fmt.Errorf("failed to write run history: %w", err)
	}
	return nil
}

// Entries returns the ledger, most recent first.
func (h *History) Entries() ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

// Latest returns the most recent entry, or nil when no run has happened.
func (h *History) Latest() (*HistoryEntry, error) {
	entries, err := h.Entries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (h *History) load() ([]HistoryEntry, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}

	var entries []HistoryEntry
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("malformed run history: %w", err)
	}
	return entries, nil
}
