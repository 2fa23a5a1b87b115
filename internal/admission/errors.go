package admission

import (
	"errors"
	"fmt"

	"github.com/lendkey/accessbot/internal/grant"
)

var (
	ErrInvalidDuration = errors.New("invalid grant duration")
	ErrIDExhausted     = errors.New("could not allocate a unique grant request id")
)

// AutoApproveError reports that an auto-approved grant failed at the
// directory. Nothing was stored.
type AutoApproveError struct {
	Target string
	Err    error
}

func (e *AutoApproveError) Error() string {
	return fmt.Sprintf("auto-approve grant to %s failed: %v", e.Target, e.Err)
}

func (e *AutoApproveError) Unwrap() error { return e.Err }

// NotFoundError is returned when the target is unknown or hidden from the
// requester. Suggestion is filled when fuzzy matching found a near name.
type NotFoundError struct {
	Kind       grant.Kind
	Name       string
	Suggestion string
	Err        error
}

func (e *NotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s %q not found, did you mean %q?", e.Kind, e.Name, e.Suggestion)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return e.Err }
