package main

import (
	"os"

	"github.com/lendkey/accessbot/cmd/accessbot/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
