// Package sweeper runs the periodic background passes that purge stale
// grant requests and reset the auto-approve window.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// loop drives fn every interval until stopped.
type loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *slog.Logger

	mu      sync.RWMutex
	cancel  context.CancelFunc
	stopped chan struct{}
	running bool
}

func (l *loop) isRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

func (l *loop) start(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.stopped = make(chan struct{})
	l.running = true

	go l.run(ctx, l.stopped)
	l.logger.Info("sweeper started", "sweeper", l.name, "interval", l.interval.String())
}

func (l *loop) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	stopped := l.stopped
	l.running = false
	l.cancel = nil
	l.stopped = nil
	l.mu.Unlock()

	cancel()
	<-stopped
	l.logger.Info("sweeper stopped", "sweeper", l.name)
}

func (l *loop) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	defer l.exited(stopped)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.fn(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("sweeper pass failed", "sweeper", l.name, "error", err)
			}
		}
	}
}

// exited clears the running state when the loop ended because its parent
// context was cancelled. After stop the state is already cleared and
// belongs to nobody, or to a newer start.
func (l *loop) exited(stopped chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.stopped != stopped {
		return
	}
	l.cancel()
	l.running = false
	l.cancel = nil
	l.stopped = nil
	l.logger.Info("sweeper stopped", "sweeper", l.name, "reason", "context done")
}
