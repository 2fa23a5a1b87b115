package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/grant"
)

func readLines(t *testing.T, path string) []Event {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open audit file error: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal line error: %v", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan audit file error: %v", err)
	}
	return events
}

func TestWriter_AppendOutcomes(t *testing.T) {
	baseDir := t.TempDir()
	writer := NewWriter(baseDir)
	at := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)

	req := grant.Request{
		ID:              "ABCD",
		Kind:            grant.KindResource,
		Target:          grant.Target{Name: "prod-db"},
		Account:         grant.Account{Email: "alice@example.com"},
		RequesterHandle: "@alice",
		Flags:           grant.Flags{grant.FlagReason: "incident"},
	}

	if err := writer.Append(RequestEvent(TypeRequested, req, at)); err != nil {
		t.Fatalf("Append requested error: %v", err)
	}
	failed := approval.Outcome{Decision: approval.DecisionGranted, Request: req, Actor: "bob", GrantErr: errors.New("timeout")}
	if err := writer.Append(OutcomeEvent(failed, at.Add(time.Second))); err != nil {
		t.Fatalf("Append outcome error: %v", err)
	}
	denied := approval.Outcome{Decision: approval.DecisionDenied, Request: req, Actor: "bob", Reason: "no ticket"}
	if err := writer.Append(OutcomeEvent(denied, at.Add(2*time.Second))); err != nil {
		t.Fatalf("Append outcome error: %v", err)
	}

	events := readLines(t, filepath.Join(baseDir, "state", "audit.jsonl"))
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != TypeRequested || events[0].Actor != "@alice" || events[0].Reason != "incident" {
		t.Fatalf("unexpected requested event: %+v", events[0])
	}
	if !events[0].Time.Equal(at) {
		t.Fatalf("expected time %s, got %s", at, events[0].Time)
	}
	if events[1].Type != TypeGrantFailed || events[1].Error != "timeout" || events[1].Actor != "bob" {
		t.Fatalf("unexpected grant failed event: %+v", events[1])
	}
	if events[2].Type != TypeDenied || events[2].Reason != "no ticket" || events[2].GrantID != "ABCD" {
		t.Fatalf("unexpected denied event: %+v", events[2])
	}
}

func TestWriter_AppendEvent_MkdirAllFailure(t *testing.T) {
	baseDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(baseDir, "state"), []byte("not-a-dir"), 0644); err != nil {
		t.Fatalf("WriteFile state blocker error: %v", err)
	}

	err := NewWriter(baseDir).Append(Event{Time: time.Now().UTC(), Type: TypeExpired})
	if err == nil {
		t.Fatal("expected append error when state path is a file")
	}
}

func TestWriter_AppendEvent_Concurrent(t *testing.T) {
	writer := NewWriter(t.TempDir())

	const total = 20
	var wg sync.WaitGroup
	errCh := make(chan error, total)
	wg.Add(total)
	for i := 0; i < total; i++ {
		i := i
		go func() {
			defer wg.Done()
			if err := writer.Append(Event{
				Time:    time.Date(2026, 2, 15, 9, 0, i, 0, time.UTC),
				Type:    TypeExpired,
				GrantID: fmt.Sprintf("G%03d", i),
			}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("append failed in concurrent path: %v", err)
	}

	if got := len(readLines(t, writer.Path())); got != total {
		t.Fatalf("expected %d lines, got %d", total, got)
	}
}
