// Package metrics exposes bot counters to Prometheus and keeps a small
// on-disk summary for the status command.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records bot activity. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	// AccessRequests counts admitted requests.
	// Labels: kind (resource|role), path (auto|manual)
	AccessRequests *prometheus.CounterVec

	// AdmissionErrors counts requests rejected before being stored.
	// Labels: reason (account_not_found|target_not_found|auto_approve_failed|invalid|other)
	AdmissionErrors *prometheus.CounterVec

	// Outcomes counts resolved requests.
	// Labels: decision (granted|denied|expired), grant (ok|failed|none)
	Outcomes *prometheus.CounterVec

	// PendingRequests is the current number of requests awaiting a decision.
	PendingRequests prometheus.Gauge

	// ReceivedMessages counts inbound chat messages.
	// Labels: channel
	ReceivedMessages *prometheus.CounterVec

	// SentMessages counts outbound chat messages.
	// Labels: channel, status (success|error)
	SentMessages *prometheus.CounterVec

	// ConsecutiveErrors is the number of command failures since the last success.
	ConsecutiveErrors prometheus.Gauge

	runtime *runtimeRecorder
}

// New registers collectors with reg (prometheus.DefaultRegisterer when nil)
// and persists a runtime snapshot under baseDir when it is non-empty.
func New(reg prometheus.Registerer, baseDir string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AccessRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessbot_access_requests_total",
				Help: "Total number of admitted access requests by kind and approval path",
			},
			[]string{"kind", "path"},
		),
		AdmissionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessbot_admission_errors_total",
				Help: "Total number of access requests rejected at admission",
			},
			[]string{"reason"},
		),
		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessbot_request_outcomes_total",
				Help: "Total number of resolved access requests by decision",
			},
			[]string{"decision", "grant"},
		),
		PendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "accessbot_pending_requests",
			Help: "Number of access requests awaiting an admin decision",
		}),
		ReceivedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessbot_received_messages_total",
				Help: "Total number of inbound chat messages by channel",
			},
			[]string{"channel"},
		),
		SentMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessbot_sent_messages_total",
				Help: "Total number of outbound chat messages by channel and status",
			},
			[]string{"channel", "status"},
		),
		ConsecutiveErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "accessbot_consecutive_errors",
			Help: "Command failures since the last successful command",
		}),
		runtime: newRuntimeRecorder(baseDir),
	}
}

// RequestSubmitted records an admitted request.
func (m *Metrics) RequestSubmitted(kind string, auto bool) {
	if m == nil {
		return
	}
	path := "manual"
	if auto {
		path = "auto"
	}
	m.AccessRequests.WithLabelValues(kind, path).Inc()
	m.record(func(s *RuntimeSnapshot) {
		s.Requests.Submitted++
		if auto {
			s.Requests.AutoApproved++
		}
	})
}

// AdmissionFailed records a rejected request.
func (m *Metrics) AdmissionFailed(reason string) {
	if m == nil {
		return
	}
	m.AdmissionErrors.WithLabelValues(reason).Inc()
}

// RequestResolved records a terminal decision.
func (m *Metrics) RequestResolved(decision string, grantFailed bool) {
	if m == nil {
		return
	}
	grant := "none"
	if decision == "granted" {
		grant = "ok"
		if grantFailed {
			grant = "failed"
		}
	}
	m.Outcomes.WithLabelValues(decision, grant).Inc()
	m.record(func(s *RuntimeSnapshot) {
		switch decision {
		case "granted":
			s.Requests.Granted++
			if grantFailed {
				s.Requests.GrantFailures++
			}
		case "denied":
			s.Requests.Denied++
		case "expired":
			s.Requests.Expired++
		}
	})
}

// SetPending updates the pending gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
	m.record(func(s *RuntimeSnapshot) { s.Requests.Pending = int64(n) })
}

// MessageReceived counts one inbound message.
func (m *Metrics) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.ReceivedMessages.WithLabelValues(channel).Inc()
	m.record(func(s *RuntimeSnapshot) { s.Channel.Received++ })
}

// MessageSent counts one outbound send attempt.
func (m *Metrics) MessageSent(channel string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SentMessages.WithLabelValues(channel, status).Inc()
	m.record(func(s *RuntimeSnapshot) {
		s.Channel.SendAttempts++
		if err != nil {
			s.Channel.SendFailures++
		}
	})
}

// CommandSucceeded resets the consecutive error gauge.
func (m *Metrics) CommandSucceeded() {
	if m == nil {
		return
	}
	m.ConsecutiveErrors.Set(0)
	m.record(func(s *RuntimeSnapshot) { s.ConsecutiveErrors = 0 })
}

// CommandFailed bumps the consecutive error gauge.
func (m *Metrics) CommandFailed() {
	if m == nil {
		return
	}
	m.ConsecutiveErrors.Inc()
	m.record(func(s *RuntimeSnapshot) { s.ConsecutiveErrors++ })
}

// Snapshot returns the in-memory runtime summary.
func (m *Metrics) Snapshot() RuntimeSnapshot {
	if m == nil || m.runtime == nil {
		return RuntimeSnapshot{}
	}
	return m.runtime.snapshot()
}

func (m *Metrics) record(fn func(*RuntimeSnapshot)) {
	if m.runtime == nil {
		return
	}
	if _, err := m.runtime.update(fn); err != nil {
		slog.Warn("failed to persist runtime metrics", "error", err)
	}
}
