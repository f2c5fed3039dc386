package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/transcript"
)

// =============================================================================
// Slack Command Handlers
// =============================================================================

// runSlackStatus handles slack status.
func runSlackStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	api := slackapi.New(cfg.Slack.BotToken, slackapi.OptionAppLevelToken(cfg.Slack.AppToken))
	auth, err := api.AuthTestContext(cmd.Context())
	if err != nil {
		return fmt.Errorf("slack auth.test failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Team:      %s (%s)\n", auth.Team, auth.TeamID)
	fmt.Fprintf(out, "Bot user:  %s (%s)\n", auth.User, auth.UserID)
	fmt.Fprintf(out, "Instances: %s\n", strings.Join(cfg.InstanceNames(), ", "))
	fmt.Fprintf(out, "Default:   %s\n", cfg.DefaultInstance())
	fmt.Fprintf(out, "State dir: %s\n", cfg.StateDir)
	return nil
}

// runSlackExport handles slack export.
func runSlackExport(cmd *cobra.Command, configPath, outDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := transcript.NewStore(cfg.StateDir, slog.Default())
	if err != nil {
		return err
	}
	entries, err := store.ExportAll(cfg.InstanceNames())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, entry := range entries {
		data, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(entry.File, ".jsonl") + ".json"
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%d messages)\n", path, len(entry.Messages))
	}
	fmt.Fprintf(out, "Exported %d conversation(s) to %s\n", len(entries), outDir)
	return nil
}

// runSlackSync handles slack sync.
func runSlackSync(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	api := slackapi.New(cfg.Slack.BotToken, slackapi.OptionAppLevelToken(cfg.Slack.AppToken))
	if _, err := api.AuthTestContext(cmd.Context()); err != nil {
		return fmt.Errorf("slack auth.test failed: %w", err)
	}
	emoji, err := api.GetEmojiContext(cmd.Context())
	if err != nil {
		return fmt.Errorf("emoji.list failed: %w", err)
	}

	store, err := transcript.NewStore(cfg.StateDir, slog.Default())
	if err != nil {
		return err
	}
	entries, err := store.ExportAll(cfg.InstanceNames())
	if err != nil {
		return err
	}
	conversations := map[string]int{}
	for _, entry := range entries {
		conversations[entry.Instance]++
	}

	out := cmd.OutOrStdout()
	missingEmoji := 0
	for _, inst := range cfg.Instances {
		_, hasEmoji := emoji[inst.Name]
		emojiNote := "summon emoji present"
		if !hasEmoji {
			emojiNote = "no :" + inst.Name + ": emoji (summon by reaction unavailable)"
			missingEmoji++
		}
		fmt.Fprintf(out, "%-16s %s · persona %s %s · %d conversation(s) · %s\n",
			inst.Name, inst.Bundle, inst.Persona.Name, inst.Persona.Emoji,
			conversations[inst.Name], emojiNote)
	}
	if missingEmoji > 0 {
		fmt.Fprintf(out, "\n%d instance(s) lack a matching custom emoji; add them under workspace emoji settings.\n", missingEmoji)
	}
	return nil
}
