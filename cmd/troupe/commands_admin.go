package main

import (
	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
)

// =============================================================================
// Admin Commands
// =============================================================================

// buildAdminCmd creates the "admin" command group.
func buildAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative helpers",
	}

	var configPath string
	setPasswordCmd := &cobra.Command{
		Use:   "set-password",
		Short: "Set the dashboard password",
		Long: `Prompt for a password and store its salted hash under the state
directory. The dashboard reads the hash from there; the plaintext is
never written anywhere.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminSetPassword(cmd, configPath)
		},
	}
	setPasswordCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(),
		"Path to YAML configuration file")

	cmd.AddCommand(setPasswordCmd)
	return cmd
}
