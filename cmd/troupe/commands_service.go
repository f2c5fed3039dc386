package main

import (
	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
)

// =============================================================================
// Service Commands
// =============================================================================

// buildServiceCmd creates the "service" command group for running troupe
// under the systemd user manager.
func buildServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the troupe background service",
		Long: `Install and control troupe as a systemd user service.

The unit runs "troupe serve" with the given config, restarts on failure,
and starts on login. Logs go to the user journal.`,
	}

	var configPath string
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install and enable the service unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServiceInstall(cmd, configPath)
		},
	}
	installCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(),
		"Config path baked into the unit's ExecStart")

	var (
		follow bool
		lines  int
	)
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show service logs from the user journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServiceLogs(follow, lines)
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the journal")
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of recent lines to show")

	cmd.AddCommand(
		installCmd,
		&cobra.Command{
			Use:   "uninstall",
			Short: "Stop, disable, and remove the service unit",
			RunE:  func(cmd *cobra.Command, args []string) error { return runServiceUninstall(cmd) },
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start the service",
			RunE:  func(cmd *cobra.Command, args []string) error { return runServiceVerb(cmd, "start") },
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the service",
			RunE:  func(cmd *cobra.Command, args []string) error { return runServiceVerb(cmd, "stop") },
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the service",
			RunE:  func(cmd *cobra.Command, args []string) error { return runServiceVerb(cmd, "restart") },
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the service's runtime state",
			RunE:  func(cmd *cobra.Command, args []string) error { return runServiceStatus(cmd) },
		},
		logsCmd,
	)

	return cmd
}
