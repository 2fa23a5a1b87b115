package commands

import (
	"strings"

	"github.com/lendkey/accessbot/internal/config"
	"github.com/spf13/cobra"
)

var (
	logLevelOverride string
	configPathFlag   string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "accessbot",
		Short:        "accessbot - chat-driven access requests",
		Long:         `accessbot lets people request temporary access to resources and roles from chat, and lets admins approve or deny those requests.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Config file (default ~/.accessbot/config.json)")

	cmd.AddCommand(
		NewInitCmd(),
		NewRunCmd(),
		NewStatusCmd(),
		NewPendingCmd(),
		NewChannelsCmd(),
		NewVersionCmd(),
	)

	return cmd
}

func configPath() string {
	if p := strings.TrimSpace(configPathFlag); p != "" {
		return p
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.LoadFrom(configPath())
}
