package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lendkey/accessbot/internal/config"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize accessbot configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath()

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := config.DefaultConfig()

	dirs := []string{
		filepath.Dir(path),
		filepath.Join(cfg.Persistence.Dir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.SaveTo(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("accessbot initialized!\n")
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("State:  %s\n", filepath.Join(cfg.Persistence.Dir, "state"))
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to add admins, directory entries and chat tokens\n", path)
	fmt.Printf("2. Run 'accessbot channels enable slack' (or telegram, discord)\n")
	fmt.Printf("3. Run 'accessbot run' to start the bot\n")

	return nil
}
