package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/lendkey/accessbot/internal/autoapprove"
	"github.com/lendkey/accessbot/internal/state"
)

func TestCounter_ResetsAndPersists(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	counters := autoapprove.NewStore(time.Hour, clock)
	mgr := state.NewManager(t.TempDir())
	sweeper := NewCounter(counters, mgr, time.Second, nil)
	ctx := context.Background()

	counters.Increment("U1")
	counters.Increment("U1")
	if err := sweeper.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if got := counters.Get("U1"); got != 2 {
		t.Fatalf("expected counts to survive before window end, got %d", got)
	}
	saved, err := mgr.LoadCounters(ctx)
	if err != nil {
		t.Fatalf("LoadCounters error: %v", err)
	}
	if saved.Uses["u1"] != 2 {
		t.Fatalf("expected snapshot with u1=2, got %+v", saved.Uses)
	}

	now = now.Add(time.Hour)
	if err := sweeper.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if got := counters.Get("U1"); got != 0 {
		t.Fatalf("expected reset, got %d", got)
	}
	if want := now.Add(time.Hour); !counters.WindowEnd().Equal(want) {
		t.Fatalf("expected window end %s, got %s", want, counters.WindowEnd())
	}
	saved, _ = mgr.LoadCounters(ctx)
	if len(saved.Uses) != 0 {
		t.Fatalf("expected cleared snapshot, got %+v", saved.Uses)
	}
}

func TestCounter_NilPersister(t *testing.T) {
	counters := autoapprove.NewStore(time.Hour, nil)
	if err := NewCounter(counters, nil, 0, nil).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
}
