package command

import (
	"context"
	"fmt"
	"strings"
)

// HelpCommand implements "help", listing the visible commands.
type HelpCommand struct{}

func (c *HelpCommand) Name() string  { return "help" }
func (c *HelpCommand) Usage() string { return "help" }

func (c *HelpCommand) Execute(_ context.Context, _ string, env Env) Result {
	var sb strings.Builder
	sb.WriteString("*Available commands:*\n\n")
	if env.ListCommands != nil {
		for _, cmd := range env.ListCommands() {
			if h, ok := cmd.(Hidden); ok && h.Hidden() {
				continue
			}
			fmt.Fprintf(&sb, "- `%s`\n", cmd.Usage())
		}
	}
	return reply(sb.String())
}
