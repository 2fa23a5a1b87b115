// Package autoapprove tracks how many times each requester has been
// auto-approved within a shared rolling window.
package autoapprove

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lendkey/accessbot/internal/state"
)

// Persister is the snapshot boundary for counters. The in-memory store
// stays the source of truth; persistence is a side effect.
type Persister interface {
	LoadCounters(ctx context.Context) (state.CounterState, error)
	SaveCounters(ctx context.Context, st state.CounterState) error
}

// Store holds per-requester use counts and the next reset boundary.
type Store struct {
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	uses      map[string]int
	windowEnd time.Time
}

// NewStore creates a counter store whose window resets every interval.
func NewStore(interval time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Store{
		interval:  interval,
		now:       now,
		uses:      make(map[string]int),
		windowEnd: now().Add(interval),
	}
}

// Increment records one more use by requester and returns the new count.
func (s *Store) Increment(requester string) int {
	requester = normalizeRequester(requester)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uses[requester]++
	return s.uses[requester]
}

// Get returns the current count for requester, 0 if unseen.
func (s *Store) Get(requester string) int {
	requester = normalizeRequester(requester)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses[requester]
}

// ClearAll resets every requester's count.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uses = make(map[string]int)
}

// BumpWindow advances the reset boundary by one interval and returns it.
// A boundary that has fallen more than an interval behind is realigned
// to now+interval.
func (s *Store) BumpWindow() time.Time {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bumpWindowLocked(now)
}

func (s *Store) bumpWindowLocked(now time.Time) time.Time {
	next := s.windowEnd.Add(s.interval)
	if !next.After(now) {
		next = now.Add(s.interval)
	}
	s.windowEnd = next
	return next
}

// WindowEnd returns the next scheduled reset time.
func (s *Store) WindowEnd() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowEnd
}

// ResetIfElapsed clears all counts and bumps the window when the boundary
// has passed. It reports whether a reset happened. Concurrent callers see
// at most one reset per elapsed boundary.
func (s *Store) ResetIfElapsed() (bool, time.Time) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.windowEnd) {
		return false, s.windowEnd
	}
	s.uses = make(map[string]int)
	return true, s.bumpWindowLocked(now)
}

// Snapshot returns the persistable form of the counters.
func (s *Store) Snapshot() state.CounterState {
	s.mu.Lock()
	defer s.mu.Unlock()

	uses := make(map[string]int, len(s.uses))
	for k, v := range s.uses {
		uses[k] = v
	}
	return state.CounterState{
		Uses:      uses,
		WindowEnd: s.windowEnd,
		SavedAt:   s.now().UTC(),
	}
}

// Restore replaces in-memory counters with st. A zero window keeps the
// current boundary.
func (s *Store) Restore(st state.CounterState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uses = make(map[string]int, len(st.Uses))
	for k, v := range st.Uses {
		s.uses[normalizeRequester(k)] = v
	}
	if !st.WindowEnd.IsZero() {
		s.windowEnd = st.WindowEnd
	}
}

// Load restores counters from p.
func (s *Store) Load(ctx context.Context, p Persister) error {
	if p == nil {
		return nil
	}
	st, err := p.LoadCounters(ctx)
	if err != nil {
		return fmt.Errorf("load auto-approve counters: %w", err)
	}
	s.Restore(st)
	return nil
}

// Save snapshots counters to p.
func (s *Store) Save(ctx context.Context, p Persister) error {
	if p == nil {
		return nil
	}
	if err := p.SaveCounters(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save auto-approve counters: %w", err)
	}
	return nil
}

func normalizeRequester(requester string) string {
	return strings.ToLower(strings.TrimSpace(requester))
}
