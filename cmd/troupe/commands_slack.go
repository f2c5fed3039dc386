package main

import (
	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
)

// =============================================================================
// Slack Commands
// =============================================================================

// buildSlackCmd creates the "slack" command group for workspace
// inspection outside the running service.
func buildSlackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Inspect the Slack workspace and exported state",
	}

	var configPath string
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(),
		"Path to YAML configuration file")

	var outDir string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted transcripts as JSON documents",
		Long: `Bundle each conversation's JSONL transcript into a single JSON
document under the output directory. Exports read the files directly, so
the service does not need to be running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlackExport(cmd, configPath, outDir)
		},
	}
	exportCmd.Flags().StringVarP(&outDir, "out", "o", "./transcripts",
		"Directory to write exported conversations into")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Check Slack connectivity and token validity",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSlackStatus(cmd, configPath)
			},
		},
		exportCmd,
		&cobra.Command{
			Use:   "sync",
			Short: "Compare configured instances against the workspace",
			Long: `List each configured instance alongside what the workspace knows
about it: whether a custom emoji with the instance's name exists (summon
reactions need one) and whether a transcript directory is present.`,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSlackSync(cmd, configPath)
			},
		},
	)

	return cmd
}
