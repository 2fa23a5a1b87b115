package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lendkey/accessbot/internal/grant"
)

var requestIDRe = regexp.MustCompile(`^\w{4}$`)

// ApproveCommand implements "yes <id>".
type ApproveCommand struct{}

func (c *ApproveCommand) Name() string  { return "yes" }
func (c *ApproveCommand) Usage() string { return "yes <request-id>" }
func (c *ApproveCommand) Hidden() bool  { return true }

func (c *ApproveCommand) Accepts(args string) bool {
	id, _, _ := strings.Cut(args, " ")
	return requestIDRe.MatchString(id)
}

func (c *ApproveCommand) Execute(ctx context.Context, args string, env Env) Result {
	id, _, _ := strings.Cut(args, " ")
	id = grant.NormalizeID(id)

	out, err := env.Access.Approve(ctx, env.Sender.Handle(), id)
	if err != nil {
		return failure(err, describeError(err))
	}
	if out.GrantErr != nil {
		return failure(out.GrantErr, fmt.Sprintf("Request *%s* was approved but granting %s failed: %v",
			out.Request.ID, out.Request.Target.Name, out.GrantErr))
	}
	return reply(fmt.Sprintf("Request *%s* approved: %s for %s.",
		out.Request.ID, out.Request.Target.Name, out.Request.Account.Email))
}

// DenyCommand implements "no <id> [reason]".
type DenyCommand struct{}

func (c *DenyCommand) Name() string  { return "no" }
func (c *DenyCommand) Usage() string { return "no <request-id> [reason]" }
func (c *DenyCommand) Hidden() bool  { return true }

func (c *DenyCommand) Accepts(args string) bool {
	id, _, _ := strings.Cut(args, " ")
	return requestIDRe.MatchString(id)
}

func (c *DenyCommand) Execute(ctx context.Context, args string, env Env) Result {
	id, reason, _ := strings.Cut(args, " ")
	id = grant.NormalizeID(id)
	reason = strings.TrimSpace(reason)

	out, err := env.Access.Deny(ctx, env.Sender.Handle(), id, reason)
	if err != nil {
		return failure(err, describeError(err))
	}
	return reply(fmt.Sprintf("Request *%s* denied.", out.Request.ID))
}

