// Package admission turns an access request into either an immediate
// auto-approved grant or a pending request awaiting an admin.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/autoapprove"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/directory"
	"github.com/lendkey/accessbot/internal/grant"
)

const maxIDAttempts = 16

// Prompter asks the admins to decide on a freshly stored request.
// Implementations must not block.
type Prompter interface {
	PromptAdmins(ctx context.Context, req grant.Request)
}

// Submission is one requester asking for one target.
type Submission struct {
	// Identity resolves the directory account, usually an email address.
	Identity string
	// RequesterID keys the auto-approve counter.
	RequesterID     string
	RequesterHandle string
	Target          string
	Flags           grant.Flags
	Origin          grant.Origin
}

// Result is the admission decision.
type Result struct {
	AutoApproved bool
	Request      grant.Request
}

// Service applies admission policy.
type Service struct {
	cfg      config.BotConfig
	dir      directory.Service
	store    *grant.Store
	counters *autoapprove.Store
	granter  approval.Granter
	prompter Prompter
	logger   *slog.Logger

	now   func() time.Time
	newID IDFunc
}

// NewService wires admission. prompter may be nil.
func NewService(cfg config.BotConfig, dir directory.Service, store *grant.Store, counters *autoapprove.Store, granter approval.Granter, prompter Prompter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		dir:      dir,
		store:    store,
		counters: counters,
		granter:  granter,
		prompter: prompter,
		logger:   logger,
		now:      time.Now,
		newID:    RandomID,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SubmitResourceRequest admits a request for a single resource.
func (s *Service) SubmitResourceRequest(ctx context.Context, sub Submission) (Result, error) {
	account, err := s.resolveAccount(ctx, sub.Identity)
	if err != nil {
		return Result{}, err
	}
	res, err := s.lookupResource(ctx, sub.Target)
	if err != nil {
		return Result{}, err
	}

	timeout := s.resourceTimeout(res)
	duration, err := grantDuration(sub.Flags[grant.FlagDuration], timeout)
	if err != nil {
		return Result{}, err
	}

	req := s.newRequest(sub, account, grant.KindResource, grant.Target{ID: res.ID, Name: res.Name}, timeout)
	req.GrantDuration = duration
	return s.admit(ctx, req, sub.RequesterID, s.ResourceAutoApproved(res))
}

// SubmitRoleRequest admits a request for every resource of a role.
func (s *Service) SubmitRoleRequest(ctx context.Context, sub Submission) (Result, error) {
	account, err := s.resolveAccount(ctx, sub.Identity)
	if err != nil {
		return Result{}, err
	}
	role, err := s.lookupRole(ctx, sub.Target)
	if err != nil {
		return Result{}, err
	}

	req := s.newRequest(sub, account, grant.KindRole, grant.Target{ID: role.ID, Name: role.Name}, s.cfg.GrantTimeoutDuration())
	return s.admit(ctx, req, sub.RequesterID, s.RoleAutoApproved(role))
}

// VisibleResources lists resources the requester may ask for, optionally
// narrowed by a case-insensitive substring filter.
func (s *Service) VisibleResources(ctx context.Context, filter string) ([]directory.Resource, error) {
	all, err := s.dir.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]directory.Resource, 0, len(all))
	for _, r := range all {
		if !s.resourceVisible(r) {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(r.Name), filter) &&
			!strings.Contains(strings.ToLower(r.Type), filter) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// VisibleRoles lists roles the requester may ask for.
func (s *Service) VisibleRoles(ctx context.Context) ([]directory.Role, error) {
	all, err := s.dir.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]directory.Role, 0, len(all))
	for _, r := range all {
		if s.cfg.HideRoleTag != "" && directory.HasTag(r.Tags, s.cfg.HideRoleTag) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ResourceAutoApproved reports whether res skips admin approval, before
// throttling.
func (s *Service) ResourceAutoApproved(res directory.Resource) bool {
	return s.cfg.AutoApproveAll || (s.cfg.AutoApproveTag != "" && directory.HasTag(res.Tags, s.cfg.AutoApproveTag))
}

// RoleAutoApproved reports whether role skips admin approval, before
// throttling.
func (s *Service) RoleAutoApproved(role directory.Role) bool {
	return s.cfg.AutoApproveRoleAll || (s.cfg.AutoApproveRoleTag != "" && directory.HasTag(role.Tags, s.cfg.AutoApproveRoleTag))
}

func (s *Service) admit(ctx context.Context, req grant.Request, requesterID string, eligible bool) (Result, error) {
	if eligible && s.withinAutoApproveLimit(requesterID, req.Account.Email) {
		if err := s.granter.Grant(ctx, req); err != nil {
			return Result{}, &AutoApproveError{Target: req.Target.Name, Err: err}
		}
		s.logger.Info("grant auto-approved",
			"kind", req.Kind, "target", req.Target.Name, "account", req.Account.Email)
		return Result{AutoApproved: true, Request: req}, nil
	}

	stored, err := s.enqueue(req)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("grant request pending",
		"grant_id", stored.ID, "kind", stored.Kind, "target", stored.Target.Name,
		"deadline", stored.Deadline.Format(time.RFC3339))
	if s.prompter != nil {
		s.prompter.PromptAdmins(ctx, stored)
	}
	return Result{Request: stored}, nil
}

// withinAutoApproveLimit counts this use when a cap is configured and
// reports whether the requester is still under it.
func (s *Service) withinAutoApproveLimit(requesterID, fallback string) bool {
	if s.cfg.MaxAutoApproveUses <= 0 || s.counters == nil {
		return true
	}
	key := strings.TrimSpace(requesterID)
	if key == "" {
		key = fallback
	}
	return s.counters.Increment(key) <= s.cfg.MaxAutoApproveUses
}

func (s *Service) enqueue(req grant.Request) (grant.Request, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return grant.Request{}, err
		}
		req.ID = id
		err = s.store.Add(req)
		if err == nil {
			req.ID = grant.NormalizeID(id)
			return req, nil
		}
		if !errors.Is(err, grant.ErrDuplicateID) {
			return grant.Request{}, err
		}
	}
	return grant.Request{}, ErrIDExhausted
}

func (s *Service) newRequest(sub Submission, account directory.Account, kind grant.Kind, target grant.Target, timeout time.Duration) grant.Request {
	now := s.now()
	return grant.Request{
		Kind:            kind,
		Target:          target,
		Account:         grant.Account{ID: account.ID, Email: account.Email},
		RequesterHandle: sub.RequesterHandle,
		CreatedAt:       now,
		Deadline:        now.Add(timeout),
		GrantDuration:   timeout,
		Flags:           sub.Flags.Clone(),
		Origin:          sub.Origin,
	}
}

func (s *Service) resolveAccount(ctx context.Context, identity string) (directory.Account, error) {
	account, err := s.dir.ResolveAccount(ctx, identity)
	if err != nil {
		return directory.Account{}, fmt.Errorf("resolve account %s: %w", identity, err)
	}
	return account, nil
}

func (s *Service) lookupResource(ctx context.Context, name string) (directory.Resource, error) {
	res, err := s.dir.GetResource(ctx, name)
	if err == nil && s.resourceVisible(res) {
		return res, nil
	}
	if err != nil && !errors.Is(err, directory.ErrResourceNotFound) {
		return directory.Resource{}, err
	}

	nf := &NotFoundError{Kind: grant.KindResource, Name: name, Err: directory.ErrResourceNotFound}
	if s.cfg.EnableResourcesFuzzyMatching {
		if visible, err := s.VisibleResources(ctx, ""); err == nil {
			names := make([]string, 0, len(visible))
			for _, r := range visible {
				names = append(names, r.Name)
			}
			nf.Suggestion = directory.Suggest(name, names)
		}
	}
	return directory.Resource{}, nf
}

func (s *Service) lookupRole(ctx context.Context, name string) (directory.Role, error) {
	role, err := s.dir.GetRole(ctx, name)
	if err != nil {
		if errors.Is(err, directory.ErrRoleNotFound) {
			return directory.Role{}, &NotFoundError{Kind: grant.KindRole, Name: name, Err: directory.ErrRoleNotFound}
		}
		return directory.Role{}, err
	}
	if s.cfg.HideRoleTag != "" && directory.HasTag(role.Tags, s.cfg.HideRoleTag) {
		return directory.Role{}, &NotFoundError{Kind: grant.KindRole, Name: name, Err: directory.ErrRoleNotFound}
	}
	return role, nil
}

func (s *Service) resourceVisible(res directory.Resource) bool {
	if s.cfg.AllowResourceTag != "" && !directory.HasTag(res.Tags, s.cfg.AllowResourceTag) {
		return false
	}
	if s.cfg.HideResourceTag != "" {
		if v, ok := directory.TagValue(res.Tags, s.cfg.HideResourceTag); ok && !strings.EqualFold(v, "false") {
			return false
		}
	}
	return true
}

// grantDuration parses the --duration flag, bounded by the resource's
// effective timeout. An empty flag means the full timeout.
func grantDuration(raw string, timeout time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return timeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	if d > timeout {
		return 0, fmt.Errorf("%w: %s exceeds the maximum of %s", ErrInvalidDuration, d, timeout)
	}
	return d, nil
}

// resourceTimeout is the pending deadline and default grant length for
// res, honoring the per-resource override tag (minutes).
func (s *Service) resourceTimeout(res directory.Resource) time.Duration {
	def := s.cfg.GrantTimeoutDuration()
	if s.cfg.ResourceGrantTimeoutTag == "" {
		return def
	}
	raw, ok := directory.TagValue(res.Tags, s.cfg.ResourceGrantTimeoutTag)
	if !ok {
		return def
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || minutes <= 0 {
		s.logger.Warn("ignoring invalid grant timeout tag", "resource", res.Name, "value", raw)
		return def
	}
	return time.Duration(minutes) * time.Minute
}
