package channel

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/metrics"
)

const defaultMaxConcurrentSends = 16

// DeliveryPolicy bounds outbound sends.
type DeliveryPolicy struct {
	MaxConcurrentSends int
	RetryMaxAttempts   int
	RetryBaseBackoff   time.Duration
	RetryMaxBackoff    time.Duration
}

// DefaultDeliveryPolicy retries a failed send twice with a short backoff.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxConcurrentSends: defaultMaxConcurrentSends,
		RetryMaxAttempts:   3,
		RetryBaseBackoff:   200 * time.Millisecond,
		RetryMaxBackoff:    2 * time.Second,
	}
}

// Manager coordinates all channels
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	policy   DeliveryPolicy
	sendSem  chan struct{}
	metrics  *metrics.Metrics
	mu       sync.RWMutex
}

// NewManager creates a channel manager
func NewManager(msgBus *bus.MessageBus) *Manager {
	return NewManagerWithPolicy(msgBus, DefaultDeliveryPolicy())
}

// NewManagerWithPolicy creates a channel manager with explicit delivery bounds.
func NewManagerWithPolicy(msgBus *bus.MessageBus, policy DeliveryPolicy) *Manager {
	if policy.MaxConcurrentSends <= 0 {
		policy.MaxConcurrentSends = 1
	}
	if policy.RetryMaxAttempts <= 0 {
		policy.RetryMaxAttempts = 1
	}
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
		policy:   policy,
		sendSem:  make(chan struct{}, policy.MaxConcurrentSends),
	}
}

// Register adds a channel
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// SetMetrics attaches the recorder used for outbound send metrics.
func (m *Manager) SetMetrics(recorder *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = recorder
}

// Names returns registered channel names
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Platform returns the platform capabilities of channel name.
func (m *Manager) Platform(name string) (Platform, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[name]
	if !ok {
		return nil, false
	}
	p, ok := ch.(Platform)
	return p, ok
}

// StartAll starts all channels
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		go func(n string, c Channel) {
			slog.Info("starting channel", "name", n)
			if err := c.Start(ctx); err != nil {
				slog.Error("channel error", "name", n, "error", err)
			}
		}(name, ch)
	}
}

// RouteOutbound sends outbound messages to appropriate channels
func (m *Manager) RouteOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.bus.Outbound():
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			m.mu.RLock()
			ch, found := m.channels[msg.Channel]
			recorder := m.metrics
			m.mu.RUnlock()
			if !found {
				slog.Warn("no channel for outbound message", "request_id", msg.RequestID, "channel", msg.Channel)
				continue
			}

			select {
			case m.sendSem <- struct{}{}:
				go func(c Channel, outbound *bus.OutboundMessage) {
					defer func() { <-m.sendSem }()
					err := m.deliver(ctx, c, outbound)
					recorder.MessageSent(outbound.Channel, err)
					if err != nil {
						slog.Error("send outbound failed", "request_id", outbound.RequestID, "channel", outbound.Channel, "chat_id", outbound.ChatID, "error", err)
					}
				}(ch, msg)
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) deliver(ctx context.Context, c Channel, msg *bus.OutboundMessage) error {
	backoff := m.policy.RetryBaseBackoff
	var err error
	for attempt := 1; attempt <= m.policy.RetryMaxAttempts; attempt++ {
		if err = c.Send(ctx, msg); err == nil {
			return nil
		}
		if attempt == m.policy.RetryMaxAttempts {
			break
		}
		slog.Debug("retrying outbound send", "request_id", msg.RequestID, "channel", msg.Channel, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if m.policy.RetryMaxBackoff > 0 && backoff > m.policy.RetryMaxBackoff {
			backoff = m.policy.RetryMaxBackoff
		}
	}
	return err
}

// StopAll stops all channels
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		_ = ch.Stop(ctx)
	}
}
