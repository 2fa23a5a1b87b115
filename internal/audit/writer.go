// Package audit keeps an append-only JSONL trail of every grant decision.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/grant"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755
)

// Event types.
const (
	TypeRequested    = "requested"
	TypeAutoApproved = "auto_approved"
	TypeGranted      = "granted"
	TypeGrantFailed  = "grant_failed"
	TypeDenied       = "denied"
	TypeExpired      = "expired"
)

// Event is one audit record written as a single JSON line.
type Event struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	GrantID string    `json:"grant_id,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Target  string    `json:"target,omitempty"`
	Account string    `json:"account,omitempty"`
	Actor   string    `json:"actor,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// RequestEvent describes a request entering the system.
func RequestEvent(typ string, req grant.Request, at time.Time) Event {
	return Event{
		Time:    at,
		Type:    typ,
		GrantID: req.ID,
		Kind:    string(req.Kind),
		Target:  req.Target.Name,
		Account: req.Account.Email,
		Actor:   req.RequesterHandle,
		Reason:  req.Reason(),
	}
}

// OutcomeEvent describes a resolved request.
func OutcomeEvent(out approval.Outcome, at time.Time) Event {
	ev := RequestEvent(string(out.Decision), out.Request, at)
	ev.Actor = out.Actor
	if out.Reason != "" {
		ev.Reason = out.Reason
	}
	if out.GrantErr != nil {
		ev.Type = TypeGrantFailed
		ev.Error = out.GrantErr.Error()
	}
	return ev
}

// Writer appends audit events to <base>/state/audit.jsonl.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer rooted at baseDir.
func NewWriter(baseDir string) *Writer {
	return &Writer{
		path: filepath.Join(baseDir, "state", "audit.jsonl"),
	}
}

// Path returns the file events are appended to.
func (w *Writer) Path() string { return w.path }

// Append writes one event as one JSONL line.
func (w *Writer) Append(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}
