package main

import (
	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
)

// =============================================================================
// Setup Command
// =============================================================================

// buildSetupCmd creates the "setup" command for guided config creation.
func buildSetupCmd() *cobra.Command {
	var (
		opts           config.SetupOptions
		nonInteractive bool
		force          bool
		skipValidate   bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create a troupe config file with guided prompts",
		Long: `Walk through first-time setup: create the Slack app from a generated
manifest, collect the two Slack tokens and a provider API key, name your
instances, and write troupe.yaml.

Tokens are prompted without echo. The finished config is validated by
loading it back and calling Slack auth.test.`,
		Example: `  # Interactive setup to the default location
  troupe setup

  # Scripted setup
  troupe setup --non-interactive \
    --app-token "$SLACK_APP_TOKEN" --bot-token "$SLACK_BOT_TOKEN" \
    --provider anthropic --instances alpha,beta`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, &opts, nonInteractive, force, skipValidate)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultConfigPath(),
		"Path to write the config file")
	cmd.Flags().StringVar(&opts.AppToken, "app-token", "", "Slack app-level token (xapp-)")
	cmd.Flags().StringVar(&opts.BotToken, "bot-token", "", "Slack bot token (xoxb-)")
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "LLM provider (anthropic/openai/google)")
	cmd.Flags().StringVar(&opts.ProviderKey, "provider-key", "", "Provider API key")
	cmd.Flags().StringSliceVar(&opts.Instances, "instances", nil, "Instance names (comma-separated)")
	cmd.Flags().StringVar(&opts.DefaultInstance, "default-instance", "", "Default routing target")
	cmd.Flags().StringVar(&opts.StateDir, "state-dir", "", "State directory (default ~/.troupe)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; use flags only")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "Skip the Slack auth.test check")

	return cmd
}
