// Package directory describes the access-control service that owns
// accounts, resources and roles, and actually enacts grants.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrRoleNotFound     = errors.New("role not found")
	ErrExternalService  = errors.New("access service error")
)

// Account is a directory account.
type Account struct {
	ID    string
	Email string
}

// Resource is a grantable resource.
type Resource struct {
	ID   string
	Name string
	Type string
	Tags map[string]string
}

// Role is a grantable role.
type Role struct {
	ID   string
	Name string
	Tags map[string]string
}

// GrantOptions tune a resource grant.
type GrantOptions struct {
	Duration time.Duration
	Reason   string
}

// Service is the external access-control service.
type Service interface {
	ResolveAccount(ctx context.Context, identity string) (Account, error)
	GetResource(ctx context.Context, name string) (Resource, error)
	GetRole(ctx context.Context, name string) (Role, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GrantResourceAccess(ctx context.Context, account Account, resource Resource, opts GrantOptions) error
	GrantRoleAccess(ctx context.Context, account Account, role Role) error
}

// HasTag reports whether tags contains name (case-insensitive).
func HasTag(tags map[string]string, name string) bool {
	_, ok := TagValue(tags, name)
	return ok
}

// TagValue returns the value of tag name (case-insensitive).
func TagValue(tags map[string]string, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for k, v := range tags {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
