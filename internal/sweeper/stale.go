package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/grant"
)

const defaultStaleInterval = 5 * time.Second

// Expirer resolves a pending request as expired.
type Expirer interface {
	Expire(ctx context.Context, id string) (approval.Outcome, error)
}

// Stale purges pending requests whose deadline has passed.
type Stale struct {
	store   *grant.Store
	expirer Expirer
	now     func() time.Time
	logger  *slog.Logger
	loop    *loop
}

// NewStale creates a stale-request sweeper. A non-positive interval uses
// the default of five seconds.
func NewStale(store *grant.Store, expirer Expirer, interval time.Duration, logger *slog.Logger) *Stale {
	if interval <= 0 {
		interval = defaultStaleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stale{
		store:   store,
		expirer: expirer,
		now:     time.Now,
		logger:  logger,
	}
	s.loop = &loop{name: "stale", interval: interval, fn: s.RunOnce, logger: logger}
	return s
}

// SetClock replaces the time source.
func (s *Stale) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Start launches the periodic loop. It stops when ctx is done or Stop is called.
func (s *Stale) Start(ctx context.Context) { s.loop.start(ctx) }

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Stale) Stop() { s.loop.stop() }

func (s *Stale) IsRunning() bool { return s.loop.isRunning() }

// RunOnce expires every request past its deadline. A request resolved
// concurrently by an admin is skipped; any other failure is logged and the
// pass moves on.
func (s *Stale) RunOnce(ctx context.Context) error {
	now := s.now()
	for _, id := range s.store.ListIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := s.store.Get(id)
		if err != nil || !req.Expired(now) {
			continue
		}
		if _, err := s.expirer.Expire(ctx, id); err != nil {
			if errors.Is(err, approval.ErrRequestNotFound) {
				continue
			}
			s.logger.Warn("failed to expire grant request", "grant_id", id, "error", err)
		}
	}
	return nil
}
