package grant

import (
	"errors"
	"strings"
	"time"
)

// Kind distinguishes what a request asks for.
type Kind string

const (
	KindResource Kind = "resource"
	KindRole     Kind = "role"
)

var (
	ErrDuplicateID = errors.New("grant request id already exists")
	ErrNotFound    = errors.New("grant request not found")
)

// Well-known flag names accepted with a request.
const (
	FlagReason    = "reason"
	FlagDuration  = "duration"
	FlagRequester = "requester"
)

// Target identifies the resource or role being requested.
type Target struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is the directory account the grant applies to.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Origin points back to the conversation that created a request.
type Origin struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	MessageID string `json:"message_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Flags are the optional modifiers supplied with a request.
type Flags map[string]string

// Clone returns an independent copy.
func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Request is one pending grant awaiting approval, denial or expiry.
type Request struct {
	ID              string        `json:"id"`
	Kind            Kind          `json:"kind"`
	Target          Target        `json:"target"`
	Account         Account       `json:"account"`
	RequesterHandle string        `json:"requester_handle"`
	CreatedAt       time.Time     `json:"created_at"`
	Deadline        time.Time     `json:"deadline"`
	GrantDuration   time.Duration `json:"grant_duration"`
	Flags           Flags         `json:"flags,omitempty"`
	Origin          Origin        `json:"origin"`
}

// Expired reports whether the deadline has passed at now.
func (r Request) Expired(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

// Reason returns the reason flag, if any.
func (r Request) Reason() string {
	return strings.TrimSpace(r.Flags[FlagReason])
}

func (r Request) clone() Request {
	r.Flags = r.Flags.Clone()
	return r
}

// NormalizeID canonicalises a human-typed id for lookup.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
