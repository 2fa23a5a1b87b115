// Package approval resolves pending grant requests exactly once:
// approved by an admin, denied by an admin, or expired by the sweeper.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lendkey/accessbot/internal/grant"
)

// Machine moves requests out of the pending store into a terminal state.
type Machine struct {
	store    *grant.Store
	admins   AdminChecker
	granter  Granter
	notifier Notifier
	logger   *slog.Logger

	mu        sync.RWMutex
	observers []func(context.Context, Outcome)
}

// NewMachine wires a state machine over store. notifier may be nil.
func NewMachine(store *grant.Store, admins AdminChecker, granter Granter, notifier Notifier, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:    store,
		admins:   admins,
		granter:  granter,
		notifier: notifier,
		logger:   logger,
	}
}

// Observe registers fn to be called after every resolution.
func (m *Machine) Observe(fn func(context.Context, Outcome)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Approve grants the pending request id on behalf of approver.
func (m *Machine) Approve(ctx context.Context, approver, id string) (Outcome, error) {
	req, err := m.takeAuthorized(ctx, approver, id)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Decision: DecisionGranted, Request: req, Actor: approver}
	if err := m.granter.Grant(ctx, req); err != nil {
		out.GrantErr = err
		m.logger.Warn("grant failed after approval",
			"grant_id", req.ID, "target", req.Target.Name, "approver", approver, "error", err)
		m.notify(ctx, req.Origin, NotifyGrantFailed,
			fmt.Sprintf("Access request %s to %s was approved but the grant failed: %v", req.ID, req.Target.Name, err))
	} else {
		m.logger.Info("grant request approved", "grant_id", req.ID, "target", req.Target.Name, "approver", approver)
		m.notify(ctx, req.Origin, NotifyGranted, grantedMessage(req))
	}
	m.emit(ctx, out)
	return out, nil
}

// Deny rejects the pending request id. reason is only passed on to the
// requester.
func (m *Machine) Deny(ctx context.Context, approver, id, reason string) (Outcome, error) {
	req, err := m.takeAuthorized(ctx, approver, id)
	if err != nil {
		return Outcome{}, err
	}

	m.logger.Info("grant request denied", "grant_id", req.ID, "target", req.Target.Name, "approver", approver)
	detail := fmt.Sprintf("Your access request %s to %s has been denied.", req.ID, req.Target.Name)
	if reason != "" {
		detail += " Reason: " + reason
	}
	m.notify(ctx, req.Origin, NotifyDenied, detail)

	out := Outcome{Decision: DecisionDenied, Request: req, Actor: approver, Reason: reason}
	m.emit(ctx, out)
	return out, nil
}

// Expire removes a request whose deadline passed without a decision.
func (m *Machine) Expire(ctx context.Context, id string) (Outcome, error) {
	req, err := m.store.Take(id)
	if err != nil {
		return Outcome{}, fmt.Errorf("expire %s: %w", grant.NormalizeID(id), err)
	}

	m.logger.Info("grant request expired", "grant_id", req.ID, "target", req.Target.Name)
	m.notify(ctx, req.Origin, NotifyExpired,
		fmt.Sprintf("Your access request %s to %s timed out without an admin decision.", req.ID, req.Target.Name))

	out := Outcome{Decision: DecisionExpired, Request: req}
	m.emit(ctx, out)
	return out, nil
}

func (m *Machine) takeAuthorized(ctx context.Context, approver, id string) (grant.Request, error) {
	id = grant.NormalizeID(id)
	if !m.store.Exists(id) {
		return grant.Request{}, fmt.Errorf("request %s: %w", id, ErrRequestNotFound)
	}
	if m.admins == nil || !m.admins.IsAdmin(ctx, approver) {
		return grant.Request{}, fmt.Errorf("%s on %s: %w", approver, id, ErrNotAuthorized)
	}
	req, err := m.store.Take(id)
	if err != nil {
		return grant.Request{}, fmt.Errorf("request %s: %w", id, err)
	}
	return req, nil
}

func (m *Machine) notify(ctx context.Context, origin grant.Origin, kind NotifyKind, detail string) {
	if m.notifier == nil {
		return
	}
	m.notifier.NotifyOriginator(ctx, origin, kind, detail)
}

func (m *Machine) emit(ctx context.Context, out Outcome) {
	m.mu.RLock()
	observers := append([]func(context.Context, Outcome){}, m.observers...)
	m.mu.RUnlock()

	for _, fn := range observers {
		fn(ctx, out)
	}
}

func grantedMessage(req grant.Request) string {
	if req.Kind == grant.KindRole {
		return fmt.Sprintf("Granted role %s to %s.", req.Target.Name, req.Account.Email)
	}
	if req.GrantDuration > 0 {
		return fmt.Sprintf("Granted %s to %s for %s.", req.Target.Name, req.Account.Email, req.GrantDuration)
	}
	return fmt.Sprintf("Granted %s to %s.", req.Target.Name, req.Account.Email)
}
