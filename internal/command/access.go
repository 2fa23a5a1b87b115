package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lendkey/accessbot/internal/admission"
	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/directory"
	"github.com/lendkey/accessbot/internal/grant"
)

// AccessResourceCommand implements "access to <resource>".
type AccessResourceCommand struct{}

func (c *AccessResourceCommand) Name() string { return "access to" }
func (c *AccessResourceCommand) Usage() string {
	return "access to <resource-name> [--reason text] [--duration duration]"
}

func (c *AccessResourceCommand) Execute(ctx context.Context, args string, env Env) Result {
	name, flags, err := ParseFlags(args, grant.FlagReason, grant.FlagDuration)
	if err != nil {
		return failure(err, describeError(err))
	}
	if name == "" {
		return failure(errUsage, "Usage: `"+c.Usage()+"`")
	}
	if err := RequireFlags(flags, env.Bot.RequiredFlags); err != nil {
		return failure(err, describeError(err))
	}
	// The upper bound depends on the resource and is checked at admission.
	if raw, ok := flags[grant.FlagDuration]; ok {
		if _, err := ValidateDuration(raw, 0); err != nil {
			return failure(err, describeError(err))
		}
	}

	res, err := env.Access.SubmitResourceRequest(ctx, submission(env, name, flags))
	if err != nil {
		return failure(err, describeError(err))
	}
	return requestReply(env, res)
}

// AccessRoleCommand implements "access to role <role>".
type AccessRoleCommand struct{}

func (c *AccessRoleCommand) Name() string  { return "access to role" }
func (c *AccessRoleCommand) Usage() string { return "access to role <role-name>" }

func (c *AccessRoleCommand) Execute(ctx context.Context, args string, env Env) Result {
	name, flags, err := ParseFlags(args, grant.FlagReason)
	if err != nil {
		return failure(err, describeError(err))
	}
	if name == "" {
		return failure(errUsage, "Usage: `"+c.Usage()+"`")
	}

	res, err := env.Access.SubmitRoleRequest(ctx, submission(env, name, flags))
	if err != nil {
		return failure(err, describeError(err))
	}
	return requestReply(env, res)
}

var errUsage = errors.New("usage")

func submission(env Env, target string, flags grant.Flags) admission.Submission {
	identity := env.Sender.Email
	if identity == "" {
		identity = env.Sender.Handle()
	}
	return admission.Submission{
		Identity:        identity,
		RequesterID:     env.Sender.ID,
		RequesterHandle: env.Sender.Handle(),
		Target:          target,
		Flags:           flags,
		Origin: grant.Origin{
			Channel:   env.Channel,
			ChatID:    env.ChatID,
			SenderID:  env.Sender.ID,
			MessageID: env.MessageID,
			RequestID: env.RequestID,
		},
	}
}

func requestReply(env Env, res admission.Result) Result {
	req := res.Request
	what := req.Target.Name
	if req.Kind == grant.KindRole {
		what = "role " + what
	}
	if res.AutoApproved {
		line := fmt.Sprintf("Granting %s access to %s.", mention(env), what)
		if req.Kind == grant.KindResource && req.GrantDuration > 0 {
			line = fmt.Sprintf("Granting %s access to %s for %s.", mention(env), what, req.GrantDuration)
		}
		return reply(line)
	}
	return reply(
		fmt.Sprintf("Thanks %s, that is a valid request. Let me check with the team admins.", mention(env)),
		fmt.Sprintf("Your access request id for %s is *%s*. It expires at %s if no admin answers.",
			what, req.ID, req.Deadline.UTC().Format("15:04 MST")),
	)
}

func mention(env Env) string {
	if env.Sender.Mention != "" {
		return env.Sender.Mention
	}
	return env.Sender.Handle()
}

// describeError renders a user-facing message for err.
func describeError(err error) string {
	var notFound *admission.NotFoundError
	var autoErr *admission.AutoApproveError
	switch {
	case errors.As(err, &notFound):
		if notFound.Suggestion != "" {
			return fmt.Sprintf("Sorry, I cannot find %s *%s*. Did you mean *%s*?", notFound.Kind, notFound.Name, notFound.Suggestion)
		}
		return fmt.Sprintf("Sorry, I cannot find %s *%s*.", notFound.Kind, notFound.Name)
	case errors.As(err, &autoErr):
		return fmt.Sprintf("Your request for %s was auto-approved but the grant failed. Please contact an admin.", autoErr.Target)
	case errors.Is(err, directory.ErrAccountNotFound):
		return "Sorry, I cannot find an account for your email address."
	case errors.Is(err, ErrFlagDuration):
		return "Invalid duration: " + strings.TrimPrefix(err.Error(), ErrFlagDuration.Error()+": ")
	case errors.Is(err, admission.ErrInvalidDuration):
		return "Invalid duration: " + strings.TrimPrefix(err.Error(), admission.ErrInvalidDuration.Error()+": ")
	case errors.Is(err, ErrMissingFlags):
		return "Missing required flags: " + strings.TrimPrefix(err.Error(), ErrMissingFlags.Error()+": ")
	case errors.Is(err, ErrRequesterFlag):
		return "You cannot use the requester flag."
	case errors.Is(err, ErrUnknownFlag), errors.Is(err, ErrFlagValue), errors.Is(err, ErrDuplicateFlag):
		return "Invalid flags: " + err.Error()
	case errors.Is(err, approval.ErrRequestNotFound):
		return "Invalid access request id, it may have already been resolved or expired."
	case errors.Is(err, approval.ErrNotAuthorized):
		return "Only admins can approve or deny access requests."
	default:
		return "An error occurred, please contact your admin."
	}
}
