package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const runtimeMetricsFileName = "runtime_metrics.json"

// RuntimeSnapshot is the persisted summary read by `accessbot status`.
type RuntimeSnapshot struct {
	UpdatedAt         time.Time    `json:"updated_at"`
	Requests          RequestStats `json:"requests"`
	Channel           ChannelStats `json:"channel"`
	ConsecutiveErrors int64        `json:"consecutive_errors"`
}

// RequestStats tracks grant request flow.
type RequestStats struct {
	Submitted     int64 `json:"submitted"`
	AutoApproved  int64 `json:"auto_approved"`
	Granted       int64 `json:"granted"`
	Denied        int64 `json:"denied"`
	Expired       int64 `json:"expired"`
	GrantFailures int64 `json:"grant_failures"`
	Pending       int64 `json:"pending"`
}

// ApprovalRatio returns granted/(granted+denied+expired) in [0,1].
func (r RequestStats) ApprovalRatio() float64 {
	resolved := r.Granted + r.Denied + r.Expired
	if resolved <= 0 {
		return 0
	}
	return float64(r.Granted) / float64(resolved)
}

// ChannelStats tracks chat traffic.
type ChannelStats struct {
	Received     int64 `json:"received"`
	SendAttempts int64 `json:"send_attempts"`
	SendFailures int64 `json:"send_failures"`
}

// FailureRatio returns failures/attempts in [0,1].
func (c ChannelStats) FailureRatio() float64 {
	if c.SendAttempts <= 0 {
		return 0
	}
	return float64(c.SendFailures) / float64(c.SendAttempts)
}

// HasData reports whether anything was recorded.
func (s RuntimeSnapshot) HasData() bool {
	return s.Requests.Submitted > 0 || s.Channel.Received > 0 || s.Channel.SendAttempts > 0
}

// runtimeRecorder keeps the snapshot in memory and persists it after every
// update. An empty path disables persistence.
type runtimeRecorder struct {
	path string

	mu   sync.Mutex
	snap RuntimeSnapshot
}

func newRuntimeRecorder(baseDir string) *runtimeRecorder {
	r := &runtimeRecorder{}
	if strings.TrimSpace(baseDir) != "" {
		r.path = runtimeMetricsPath(baseDir)
	}
	return r
}

func (r *runtimeRecorder) update(fn func(*RuntimeSnapshot)) (RuntimeSnapshot, error) {
	r.mu.Lock()
	fn(&r.snap)
	r.snap.UpdatedAt = time.Now().UTC()
	snapshot := r.snap
	r.mu.Unlock()

	return snapshot, persistRuntimeSnapshot(r.path, snapshot)
}

func (r *runtimeRecorder) snapshot() RuntimeSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// ReadRuntimeSnapshot reads the persisted snapshot under baseDir.
// A missing file yields a zero snapshot and nil error.
func ReadRuntimeSnapshot(baseDir string) (RuntimeSnapshot, error) {
	raw, err := os.ReadFile(runtimeMetricsPath(baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeSnapshot{}, nil
		}
		return RuntimeSnapshot{}, fmt.Errorf("read runtime metrics: %w", err)
	}

	var snap RuntimeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return RuntimeSnapshot{}, fmt.Errorf("decode runtime metrics: %w", err)
	}
	return snap, nil
}

func runtimeMetricsPath(baseDir string) string {
	return filepath.Join(baseDir, "state", runtimeMetricsFileName)
}

func persistRuntimeSnapshot(path string, snapshot RuntimeSnapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode runtime metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write runtime metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename runtime metrics file: %w", err)
	}
	return nil
}
