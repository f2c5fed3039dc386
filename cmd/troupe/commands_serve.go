package main

import (
	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the connector.
// This is the primary command for running troupe in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the troupe Slack connector",
		Long: `Start the Slack connector with every configured instance.

The connector will:
1. Load configuration from the specified file
2. Detect and connect the LLM provider
3. Replay persisted transcripts into session context on demand
4. Open a Socket Mode connection and dispatch events
5. Serve Prometheus metrics when enabled

Graceful shutdown is handled on SIGINT/SIGTERM signals: in-flight
executions are cancelled, transcripts flushed, and the socket closed.`,
		Example: `  # Start with the default config location
  troupe serve

  # Start with an explicit config
  troupe serve --config /etc/troupe/troupe.yaml

  # Start with debug logging
  troupe serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
