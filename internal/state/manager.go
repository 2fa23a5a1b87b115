package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	stateFileMode = 0600
	stateDirMode  = 0755
	stateVersion  = 1
)

// CounterState is the persisted form of the auto-approve usage counters.
type CounterState struct {
	Version   int            `json:"version"`
	Uses      map[string]int `json:"uses"`
	WindowEnd time.Time      `json:"window_end,omitempty"`
	SavedAt   time.Time      `json:"saved_at,omitempty"`
}

// Manager persists lightweight runtime state under <baseDir>/state.
type Manager struct {
	countersPath string
	mu           sync.Mutex
}

// NewManager creates a state manager under <baseDir>/state.
func NewManager(baseDir string) *Manager {
	return &Manager{
		countersPath: filepath.Join(baseDir, "state", "auto_approve_uses.json"),
	}
}

// LoadCounters reads counter state from disk.
// Missing or malformed files are treated as empty state.
func (m *Manager) LoadCounters(_ context.Context) (CounterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.countersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyCounters(), nil
		}
		return CounterState{}, fmt.Errorf("read counter state: %w", err)
	}

	var st CounterState
	if err := json.Unmarshal(data, &st); err != nil {
		return emptyCounters(), nil
	}
	return normalizeCounters(st), nil
}

// SaveCounters atomically replaces the counter state on disk.
func (m *Manager) SaveCounters(_ context.Context, st CounterState) error {
	st = normalizeCounters(st)

	m.mu.Lock()
	defer m.mu.Unlock()

	encoded, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal counter state: %w", err)
	}

	dir := filepath.Dir(m.countersPath)
	if err := os.MkdirAll(dir, stateDirMode); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "auto_approve_uses-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp counter state: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp counter state: %w", err)
	}
	if err := tmpFile.Chmod(stateFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp counter state: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp counter state: %w", err)
	}

	if err := os.Rename(tmpPath, m.countersPath); err != nil {
		if removeErr := os.Remove(m.countersPath); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("replace counter state: rename failed (%v), remove failed (%v)", err, removeErr)
		}
		if retryErr := os.Rename(tmpPath, m.countersPath); retryErr != nil {
			return fmt.Errorf("replace counter state after remove: %w", retryErr)
		}
	}
	return nil
}

func emptyCounters() CounterState {
	return CounterState{Version: stateVersion, Uses: map[string]int{}}
}

func normalizeCounters(st CounterState) CounterState {
	if st.Version <= 0 {
		st.Version = stateVersion
	}
	uses := make(map[string]int, len(st.Uses))
	for requester, count := range st.Uses {
		requester = strings.TrimSpace(requester)
		if requester == "" || count <= 0 {
			continue
		}
		uses[requester] = count
	}
	st.Uses = uses
	return st
}
