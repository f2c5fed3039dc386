package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/slack"
)

// =============================================================================
// Setup Command Handler
// =============================================================================

// runSetup handles the setup command.
func runSetup(cmd *cobra.Command, opts *config.SetupOptions, nonInteractive, force, skipValidate bool) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(opts.ConfigPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", opts.ConfigPath)
	}

	if !nonInteractive {
		reader := bufio.NewReader(os.Stdin)

		if strings.TrimSpace(opts.AppToken) == "" || strings.TrimSpace(opts.BotToken) == "" {
			manifestURL, err := slack.ManifestURL("Troupe")
			if err == nil {
				fmt.Fprintln(out, "No Slack app yet? Create one with the prepared manifest:")
				fmt.Fprintf(out, "  %s\n", manifestURL)
				fmt.Fprintln(out, "Then generate an app-level token (connections:write) and install the app.")
				fmt.Fprintln(out)
			}
		}
		if strings.TrimSpace(opts.AppToken) == "" {
			opts.AppToken = promptSecret(reader, "Slack app token (xapp-)")
		}
		if strings.TrimSpace(opts.BotToken) == "" {
			opts.BotToken = promptSecret(reader, "Slack bot token (xoxb-)")
		}
		if strings.TrimSpace(opts.Provider) == "" {
			opts.Provider = promptString(reader, "LLM provider (anthropic/openai/google, empty = detect from env)", "")
		}
		if strings.TrimSpace(opts.Provider) != "" && strings.TrimSpace(opts.ProviderKey) == "" {
			opts.ProviderKey = promptSecret(reader, "Provider API key (empty = read from env at runtime)")
		}
		if len(opts.Instances) == 0 {
			names := promptString(reader, "Instance names (comma-separated)", "assistant")
			for _, name := range strings.Split(names, ",") {
				if name = strings.TrimSpace(name); name != "" {
					opts.Instances = append(opts.Instances, name)
				}
			}
		}
		if strings.TrimSpace(opts.DefaultInstance) == "" && len(opts.Instances) > 1 {
			opts.DefaultInstance = promptString(reader, "Default instance", opts.Instances[0])
		}
	}

	if !strings.HasPrefix(opts.AppToken, "xapp-") {
		return fmt.Errorf("app token must start with xapp-")
	}
	if !strings.HasPrefix(opts.BotToken, "xoxb-") {
		return fmt.Errorf("bot token must start with xoxb-")
	}

	raw := config.BuildRaw(*opts)
	if err := config.WriteRaw(opts.ConfigPath, raw); err != nil {
		return err
	}

	// Load it back so a config this command wrote is always one serve
	// would accept.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("written config failed validation: %w", err)
	}

	if !skipValidate {
		api := slackapi.New(cfg.Slack.BotToken, slackapi.OptionAppLevelToken(cfg.Slack.AppToken))
		auth, err := api.AuthTestContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("slack auth.test failed (check the bot token): %w", err)
		}
		fmt.Fprintf(out, "Connected to %s as %s\n", auth.Team, auth.User)
	}

	fmt.Fprintf(out, "Config written: %s\n", opts.ConfigPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  troupe serve             # run in the foreground")
	fmt.Fprintln(out, "  troupe service install   # or run as a background service")
	return nil
}

func promptString(reader *bufio.Reader, label string, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}
	text, _ := reader.ReadString('\n')
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultValue
	}
	return text
}

// promptSecret reads without echo when stdin is a terminal, falling back
// to a plain read when it is not (piped input, tests).
func promptSecret(reader *bufio.Reader, label string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptString(reader, label, "")
	}
	fmt.Printf("%s: ", label)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(secret))
}
