package approval

import (
	"context"
	"errors"

	"github.com/lendkey/accessbot/internal/grant"
)

// Decision is the terminal state a pending request resolved to.
type Decision string

const (
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
	DecisionExpired Decision = "expired"
)

// NotifyKind tells the originator what happened to their request.
type NotifyKind string

const (
	NotifyGranted     NotifyKind = "granted"
	NotifyGrantFailed NotifyKind = "grant_failed"
	NotifyDenied      NotifyKind = "denied"
	NotifyExpired     NotifyKind = "expired"
)

var (
	// ErrRequestNotFound matches grant.ErrNotFound under errors.Is.
	ErrRequestNotFound = grant.ErrNotFound
	ErrNotAuthorized   = errors.New("approver is not an admin")
)

// Outcome describes one resolved request.
type Outcome struct {
	Decision Decision
	Request  grant.Request
	Actor    string
	Reason   string
	// GrantErr is set when an approved request failed to be enacted.
	GrantErr error
}

// AdminChecker decides who may approve or deny.
type AdminChecker interface {
	IsAdmin(ctx context.Context, identity string) bool
}

// Granter enacts an approved request.
type Granter interface {
	Grant(ctx context.Context, req grant.Request) error
}

// Notifier delivers a message back to the conversation a request came
// from. Implementations must not block.
type Notifier interface {
	NotifyOriginator(ctx context.Context, origin grant.Origin, kind NotifyKind, detail string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, origin grant.Origin, kind NotifyKind, detail string)

func (f NotifierFunc) NotifyOriginator(ctx context.Context, origin grant.Origin, kind NotifyKind, detail string) {
	f(ctx, origin, kind, detail)
}
