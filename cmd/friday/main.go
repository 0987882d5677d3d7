package main

import (
	"os"

	"friday/internal/logger"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	logger.Init()
	rootCmd := &cobra.Command{
		Use:          "friday",
		Short:        "Friday streams chat completions from a local model to the chat UI",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default $XDG_CONFIG_HOME/friday/config.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
