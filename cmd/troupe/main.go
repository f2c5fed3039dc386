// Package main provides the CLI entry point for troupe, a Slack-hosted
// multi-instance AI assistant.
//
// Troupe connects named AI instances to Slack over Socket Mode. Instances
// answer mentions, DMs, and prefixed messages; follow-ups steer running
// executions; reactions summon, regenerate, and cancel.
//
// # Basic Usage
//
// First-time setup (creates the Slack app and writes troupe.yaml):
//
//	troupe setup
//
// Start the connector:
//
//	troupe serve --config ~/.troupe/troupe.yaml
//
// Run it as a background service:
//
//	troupe service install
//	troupe service start
//	troupe service logs -f
//
// Check connectivity and export transcripts:
//
//	troupe slack status
//	troupe slack export --out ./transcripts
//
// # Environment Variables
//
// The config file expands ${VAR} references, so credentials can stay in
// the environment:
//
//   - SLACK_APP_TOKEN: app-level token (xapp-) for Socket Mode
//   - SLACK_BOT_TOKEN: bot OAuth token (xoxb-) for Web API calls
//   - ANTHROPIC_API_KEY: Anthropic key, used when provider detection runs
//   - OPENAI_API_KEY: OpenAI key
//   - GOOGLE_API_KEY: Google Gemini key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "troupe",
		Short: "Troupe - Slack-hosted AI assistant",
		Long: `Troupe hosts named AI instances in your Slack workspace.

Instances respond to @-mentions, DMs, and name-prefixed messages, run
tools inside per-instance workspaces, and stream progress into editable
status messages. Channel topics can route whole channels to an instance
or fan messages out to every instance at once.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSetupCmd(),
		buildServiceCmd(),
		buildSlackCmd(),
		buildAdminCmd(),
	)

	return rootCmd
}
