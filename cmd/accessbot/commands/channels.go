package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/channel/discord"
	"github.com/lendkey/accessbot/internal/channel/slack"
	"github.com/lendkey/accessbot/internal/channel/telegram"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/spf13/cobra"
)

func NewChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage chat channels",
	}

	cmd.AddCommand(
		newChannelsListCmd(),
		newChannelsEnableCmd(),
		newChannelsDisableCmd(),
	)

	return cmd
}

func newChannelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all supported channels",
		RunE:  runChannelsList,
	}
}

func newChannelsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <channel>",
		Short: "Enable a channel in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelsSetEnabled(args[0], true)
		},
	}
}

func newChannelsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <channel>",
		Short: "Disable a channel in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelsSetEnabled(args[0], false)
		},
	}
}

func runChannelsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Channels:")
	fmt.Printf("  %-10s %-10s %s\n", "NAME", "STATUS", "NOTE")
	fmt.Printf("  %-10s %-10s %s\n", strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 20))

	for _, state := range channelStates(cfg) {
		fmt.Printf("  %-10s %-10s %s\n", state.Name, state.Status(), state.Note())
	}

	return nil
}

func runChannelsSetEnabled(channelName string, enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(channelName))
	switch name {
	case "slack":
		cfg.Channels.Slack.Enabled = enabled
	case "telegram":
		cfg.Channels.Telegram.Enabled = enabled
	case "discord":
		cfg.Channels.Discord.Enabled = enabled
	default:
		return fmt.Errorf("unknown channel: %s", channelName)
	}

	if err := config.SaveTo(configPath(), cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Channel %s %s.\n", name, state)
	return nil
}

type channelState struct {
	Name      string
	Enabled   bool
	Ready     bool
	Reason    string
	AllowFrom []string
}

func (s channelState) Status() string {
	if s.Enabled {
		return "enabled"
	}
	return "disabled"
}

func (s channelState) Note() string {
	if !s.Enabled {
		return ""
	}
	if s.Ready {
		return "ready"
	}
	return s.Reason
}

func channelStates(cfg *config.Config) []channelState {
	return []channelState{
		{
			Name:      "slack",
			Enabled:   cfg.Channels.Slack.Enabled,
			Ready:     strings.TrimSpace(cfg.Channels.Slack.BotToken) != "" && strings.TrimSpace(cfg.Channels.Slack.AppToken) != "",
			Reason:    "bot_token/app_token not set",
			AllowFrom: cfg.Channels.Slack.AllowFrom,
		},
		{
			Name:      "telegram",
			Enabled:   cfg.Channels.Telegram.Enabled,
			Ready:     strings.TrimSpace(cfg.Channels.Telegram.Token) != "",
			Reason:    "token not set",
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
		},
		{
			Name:      "discord",
			Enabled:   cfg.Channels.Discord.Enabled,
			Ready:     strings.TrimSpace(cfg.Channels.Discord.Token) != "",
			Reason:    "token not set",
			AllowFrom: cfg.Channels.Discord.AllowFrom,
		},
	}
}

// registerEnabledChannels registers every enabled channel whose credentials
// are present. Channels that are enabled but not ready are skipped with a
// warning in the log.
func registerEnabledChannels(cfg *config.Config, msgBus *bus.MessageBus, mgr *channel.Manager) {
	for _, state := range channelStates(cfg) {
		if !state.Enabled {
			continue
		}
		if !state.Ready {
			slog.Warn("channel enabled but not ready", "name", state.Name, "reason", state.Reason)
			continue
		}
		switch state.Name {
		case "slack":
			mgr.Register(slack.New(&cfg.Channels.Slack, msgBus))
		case "telegram":
			mgr.Register(telegram.New(&cfg.Channels.Telegram, msgBus))
		case "discord":
			mgr.Register(discord.New(&cfg.Channels.Discord, msgBus))
		}
	}
}

func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
