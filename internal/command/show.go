package command

import (
	"context"
	"fmt"
	"strings"
)

// ShowResourcesCommand implements "show available resources".
type ShowResourcesCommand struct{}

func (c *ShowResourcesCommand) Name() string { return "show available resources" }
func (c *ShowResourcesCommand) Usage() string {
	return "show available resources [--filter text]"
}

func (c *ShowResourcesCommand) Execute(ctx context.Context, args string, env Env) Result {
	_, flags, err := ParseFlags(args, "filter")
	if err != nil {
		return failure(err, describeError(err))
	}
	resources, err := env.Access.VisibleResources(ctx, flags["filter"])
	if err != nil {
		return failure(err, describeError(err))
	}
	if len(resources) == 0 {
		return reply("There are no available resources.")
	}

	var sb strings.Builder
	sb.WriteString("*Available resources:*\n\n")
	for _, r := range resources {
		fmt.Fprintf(&sb, "- *%s* (type: %s)%s\n", r.Name, r.Type, approvalNote(env.Access.ResourceAutoApproved(r)))
	}
	return reply(sb.String())
}

// ShowRolesCommand implements "show available roles".
type ShowRolesCommand struct{}

func (c *ShowRolesCommand) Name() string  { return "show available roles" }
func (c *ShowRolesCommand) Usage() string { return "show available roles" }

func (c *ShowRolesCommand) Execute(ctx context.Context, _ string, env Env) Result {
	roles, err := env.Access.VisibleRoles(ctx)
	if err != nil {
		return failure(err, describeError(err))
	}
	if len(roles) == 0 {
		return reply("There are no available roles.")
	}

	var sb strings.Builder
	sb.WriteString("*Available roles:*\n\n")
	for _, r := range roles {
		fmt.Fprintf(&sb, "- *%s*%s\n", r.Name, approvalNote(env.Access.RoleAutoApproved(r)))
	}
	return reply(sb.String())
}

func approvalNote(auto bool) string {
	if auto {
		return ""
	}
	return " (approval required)"
}
