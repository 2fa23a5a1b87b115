package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/lendkey/accessbot/internal/grant"
)

// Granter enacts a stored grant request against a Service.
type Granter struct {
	svc Service
}

func NewGranter(svc Service) *Granter {
	return &Granter{svc: svc}
}

// Grant gives req.Account access to req.Target. Failures wrap ErrExternalService.
func (g *Granter) Grant(ctx context.Context, req grant.Request) error {
	account := Account{ID: req.Account.ID, Email: req.Account.Email}

	var err error
	switch req.Kind {
	case grant.KindRole:
		err = g.svc.GrantRoleAccess(ctx, account, Role{ID: req.Target.ID, Name: req.Target.Name})
	default:
		err = g.svc.GrantResourceAccess(ctx, account,
			Resource{ID: req.Target.ID, Name: req.Target.Name},
			GrantOptions{Duration: req.GrantDuration, Reason: req.Reason()})
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternalService) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrExternalService, err)
}
