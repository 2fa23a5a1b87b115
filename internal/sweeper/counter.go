package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/lendkey/accessbot/internal/autoapprove"
)

const defaultCounterInterval = time.Minute

// Counter resets the auto-approve counters when their window elapses and
// snapshots them to the persister.
type Counter struct {
	counters  *autoapprove.Store
	persister autoapprove.Persister
	logger    *slog.Logger
	loop      *loop
}

// NewCounter creates a counter sweeper. persister may be nil.
func NewCounter(counters *autoapprove.Store, persister autoapprove.Persister, interval time.Duration, logger *slog.Logger) *Counter {
	if interval <= 0 {
		interval = defaultCounterInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Counter{counters: counters, persister: persister, logger: logger}
	c.loop = &loop{name: "auto_approve_counter", interval: interval, fn: c.RunOnce, logger: logger}
	return c
}

func (c *Counter) Start(ctx context.Context) { c.loop.start(ctx) }

func (c *Counter) Stop() { c.loop.stop() }

func (c *Counter) IsRunning() bool { return c.loop.isRunning() }

// RunOnce resets the counters if the window has passed, then saves them.
func (c *Counter) RunOnce(ctx context.Context) error {
	if reset, next := c.counters.ResetIfElapsed(); reset {
		c.logger.Info("auto-approve counters reset", "next_reset", next.Format(time.RFC3339))
	}
	return c.counters.Save(ctx, c.persister)
}
