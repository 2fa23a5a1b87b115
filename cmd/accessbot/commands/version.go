package commands

import (
	"fmt"
	"runtime"

	"github.com/lendkey/accessbot/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of accessbot",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("accessbot %s %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
