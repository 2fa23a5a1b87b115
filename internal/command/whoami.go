package command

import (
	"context"
	"fmt"
	"strings"
)

// WhoamiCommand implements "whoami".
type WhoamiCommand struct{}

func (c *WhoamiCommand) Name() string  { return "whoami" }
func (c *WhoamiCommand) Usage() string { return "whoami" }

func (c *WhoamiCommand) Execute(_ context.Context, _ string, env Env) Result {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Platform:* %s\n", env.Channel)
	fmt.Fprintf(&sb, "*ID:* %s\n", env.Sender.ID)
	fmt.Fprintf(&sb, "*Nick:* %s\n", valueOrDash(env.Sender.Nick))
	fmt.Fprintf(&sb, "*Email:* %s", valueOrDash(env.Sender.Email))
	return reply(sb.String())
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
