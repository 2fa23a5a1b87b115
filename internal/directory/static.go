package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lendkey/accessbot/internal/config"
)

// ActiveGrant is a grant recorded by the static directory.
type ActiveGrant struct {
	AccountID string
	Kind      string
	TargetID  string
	Reason    string
	GrantedAt time.Time
	ExpiresAt time.Time
}

// Static is an in-memory directory seeded from configuration.
type Static struct {
	now func() time.Time

	mu        sync.RWMutex
	accounts  []Account
	byIdent   map[string]Account
	resources map[string]Resource
	roles     map[string]Role
	grants    []ActiveGrant
}

// NewStatic builds a directory from cfg.
func NewStatic(cfg config.DirectoryConfig) *Static {
	d := &Static{
		now:       time.Now,
		byIdent:   make(map[string]Account),
		resources: make(map[string]Resource),
		roles:     make(map[string]Role),
	}
	for _, a := range cfg.Accounts {
		acct := Account{ID: strings.TrimSpace(a.ID), Email: strings.TrimSpace(a.Email)}
		if acct.ID == "" {
			acct.ID = acct.Email
		}
		d.accounts = append(d.accounts, acct)
		if acct.Email != "" {
			d.byIdent[identityKey(acct.Email)] = acct
		}
		for _, h := range a.Handles {
			d.byIdent[identityKey(h)] = acct
		}
	}
	for _, r := range cfg.Resources {
		res := Resource{ID: r.ID, Name: strings.TrimSpace(r.Name), Type: r.Type, Tags: copyTags(r.Tags)}
		if res.ID == "" {
			res.ID = res.Name
		}
		d.resources[strings.ToLower(res.Name)] = res
	}
	for _, r := range cfg.Roles {
		role := Role{ID: r.ID, Name: strings.TrimSpace(r.Name), Tags: copyTags(r.Tags)}
		if role.ID == "" {
			role.ID = role.Name
		}
		d.roles[strings.ToLower(role.Name)] = role
	}
	return d
}

func (d *Static) ResolveAccount(_ context.Context, identity string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	acct, ok := d.byIdent[identityKey(identity)]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, identity)
	}
	return acct, nil
}

func (d *Static) GetResource(_ context.Context, name string) (Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	res, ok := d.resources[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Resource{}, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	return res, nil
}

func (d *Static) GetRole(_ context.Context, name string) (Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	role, ok := d.roles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return role, nil
}

func (d *Static) ListResources(_ context.Context) ([]Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Resource, 0, len(d.resources))
	for _, r := range d.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Static) ListRoles(_ context.Context) ([]Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Role, 0, len(d.roles))
	for _, r := range d.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Static) GrantResourceAccess(_ context.Context, account Account, resource Resource, opts GrantOptions) error {
	if account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrExternalService)
	}
	now := d.now()
	g := ActiveGrant{
		AccountID: account.ID,
		Kind:      "resource",
		TargetID:  resource.ID,
		Reason:    opts.Reason,
		GrantedAt: now,
	}
	if opts.Duration > 0 {
		g.ExpiresAt = now.Add(opts.Duration)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.resources[strings.ToLower(resource.Name)]; !ok {
		return fmt.Errorf("%w: unknown resource %s", ErrExternalService, resource.Name)
	}
	d.grants = append(d.grants, g)
	return nil
}

func (d *Static) GrantRoleAccess(_ context.Context, account Account, role Role) error {
	if account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrExternalService)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.roles[strings.ToLower(role.Name)]; !ok {
		return fmt.Errorf("%w: unknown role %s", ErrExternalService, role.Name)
	}
	d.grants = append(d.grants, ActiveGrant{
		AccountID: account.ID,
		Kind:      "role",
		TargetID:  role.ID,
		GrantedAt: d.now(),
	})
	return nil
}

// Grants returns the grants still active at now.
func (d *Static) Grants() []ActiveGrant {
	now := d.now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ActiveGrant, 0, len(d.grants))
	for _, g := range d.grants {
		if !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt) {
			continue
		}
		out = append(out, g)
	}
	return out
}

func identityKey(identity string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(identity)), "@")
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
