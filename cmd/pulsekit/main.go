// Package main is the entrypoint for the PulseKit server and admin CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/snowdamiz/pulsekit/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("pulsekit failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pulsekit",
		Short:         "Self-hosted error and event tracking",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newCleanupCmd(),
		newProjectCmd(),
		newRulesCmd(),
	)
	return root
}

// setup loads configuration and installs the JSON logger as the default.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(os.Stdout, cfg.Server)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
