// Package accessbot assembles the grant-request lifecycle: admission,
// approval, expiry sweeping and auto-approve throttling.
package accessbot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lendkey/accessbot/internal/admission"
	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/audit"
	"github.com/lendkey/accessbot/internal/autoapprove"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/directory"
	"github.com/lendkey/accessbot/internal/grant"
	"github.com/lendkey/accessbot/internal/metrics"
	"github.com/lendkey/accessbot/internal/sweeper"
)

// Options wires an Engine. Directory and Admins are required; the rest
// may be left nil.
type Options struct {
	Bot       config.BotConfig
	Sweeper   config.SweeperConfig
	Directory directory.Service
	Admins    approval.AdminChecker
	Notifier  approval.Notifier
	Prompter  admission.Prompter
	Persister autoapprove.Persister
	Metrics   *metrics.Metrics
	Audit     *audit.Writer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine is the entry point used by chat handlers and the gateway.
type Engine struct {
	store     *grant.Store
	counters  *autoapprove.Store
	machine   *approval.Machine
	admission *admission.Service
	stale     *sweeper.Stale
	counter   *sweeper.Counter

	persister autoapprove.Persister
	metrics   *metrics.Metrics
	audit     *audit.Writer
	logger    *slog.Logger
	now       func() time.Time
}

// New builds an engine. Sweepers are not started until Start.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store := grant.NewStore()
	counters := autoapprove.NewStore(opts.Bot.AutoApproveWindow(), now)
	granter := directory.NewGranter(opts.Directory)
	machine := approval.NewMachine(store, opts.Admins, granter, opts.Notifier, logger)

	adm := admission.NewService(opts.Bot, opts.Directory, store, counters, granter, opts.Prompter, logger)
	adm.SetClock(now)

	stale := sweeper.NewStale(store, machine, time.Duration(opts.Sweeper.StaleInterval)*time.Second, logger)
	stale.SetClock(now)

	e := &Engine{
		store:     store,
		counters:  counters,
		machine:   machine,
		admission: adm,
		stale:     stale,
		counter:   sweeper.NewCounter(counters, opts.Persister, time.Duration(opts.Sweeper.CounterInterval)*time.Second, logger),
		persister: opts.Persister,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		logger:    logger,
		now:       now,
	}
	machine.Observe(e.recordOutcome)
	return e
}

// Start restores the auto-approve counters and launches both sweepers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.counters.Load(ctx, e.persister); err != nil {
		e.logger.Warn("starting with empty auto-approve counters", "error", err)
	}
	e.stale.Start(ctx)
	e.counter.Start(ctx)
	return nil
}

// Stop halts the sweepers and snapshots the counters.
func (e *Engine) Stop(ctx context.Context) error {
	e.stale.Stop()
	e.counter.Stop()
	return e.counters.Save(ctx, e.persister)
}

// Run starts the engine and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return e.Stop(stopCtx)
}

// SubmitResourceRequest admits a request for one resource.
func (e *Engine) SubmitResourceRequest(ctx context.Context, sub admission.Submission) (admission.Result, error) {
	res, err := e.admission.SubmitResourceRequest(ctx, sub)
	return e.recordAdmission(res, err)
}

// SubmitRoleRequest admits a request for a role.
func (e *Engine) SubmitRoleRequest(ctx context.Context, sub admission.Submission) (admission.Result, error) {
	res, err := e.admission.SubmitRoleRequest(ctx, sub)
	return e.recordAdmission(res, err)
}

// Approve grants pending request id.
func (e *Engine) Approve(ctx context.Context, approver, id string) (approval.Outcome, error) {
	return e.machine.Approve(ctx, approver, id)
}

// Deny rejects pending request id.
func (e *Engine) Deny(ctx context.Context, approver, id, reason string) (approval.Outcome, error) {
	return e.machine.Deny(ctx, approver, id, reason)
}

// ListPending returns copies of pending requests in arrival order.
func (e *Engine) ListPending() []grant.Request {
	return e.store.List()
}

// CountPending returns the number of pending requests.
func (e *Engine) CountPending() int {
	return e.store.Count()
}

// VisibleResources lists requestable resources matching filter.
func (e *Engine) VisibleResources(ctx context.Context, filter string) ([]directory.Resource, error) {
	return e.admission.VisibleResources(ctx, filter)
}

// VisibleRoles lists requestable roles.
func (e *Engine) VisibleRoles(ctx context.Context) ([]directory.Role, error) {
	return e.admission.VisibleRoles(ctx)
}

// ResourceAutoApproved reports whether res bypasses admins.
func (e *Engine) ResourceAutoApproved(res directory.Resource) bool {
	return e.admission.ResourceAutoApproved(res)
}

// RoleAutoApproved reports whether role bypasses admins.
func (e *Engine) RoleAutoApproved(role directory.Role) bool {
	return e.admission.RoleAutoApproved(role)
}

// AutoApproveUses returns how often requester was auto-approved in the
// current window.
func (e *Engine) AutoApproveUses(requester string) int {
	return e.counters.Get(requester)
}

// SweepOnce runs one stale pass and one counter pass.
func (e *Engine) SweepOnce(ctx context.Context) error {
	if err := e.stale.RunOnce(ctx); err != nil {
		return err
	}
	return e.counter.RunOnce(ctx)
}

func (e *Engine) recordAdmission(res admission.Result, err error) (admission.Result, error) {
	if err != nil {
		e.metrics.AdmissionFailed(admissionFailureReason(err))
		return res, err
	}

	e.metrics.RequestSubmitted(string(res.Request.Kind), res.AutoApproved)
	typ := audit.TypeRequested
	if res.AutoApproved {
		typ = audit.TypeAutoApproved
	} else {
		e.metrics.SetPending(e.store.Count())
	}
	e.appendAudit(audit.RequestEvent(typ, res.Request, e.now()))
	return res, nil
}

func (e *Engine) recordOutcome(_ context.Context, out approval.Outcome) {
	e.metrics.RequestResolved(string(out.Decision), out.GrantErr != nil)
	e.metrics.SetPending(e.store.Count())
	e.appendAudit(audit.OutcomeEvent(out, e.now()))
}

func (e *Engine) appendAudit(ev audit.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(ev); err != nil {
		e.logger.Warn("failed to append audit event", "type", ev.Type, "grant_id", ev.GrantID, "error", err)
	}
}

func admissionFailureReason(err error) string {
	var nf *admission.NotFoundError
	var aae *admission.AutoApproveError
	switch {
	case errors.Is(err, directory.ErrAccountNotFound):
		return "account_not_found"
	case errors.As(err, &nf):
		return "target_not_found"
	case errors.As(err, &aae):
		return "auto_approve_failed"
	case errors.Is(err, admission.ErrInvalidDuration):
		return "invalid"
	default:
		return "other"
	}
}
