package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/service"
)

// =============================================================================
// Service Command Handlers
// =============================================================================

// runServiceInstall handles service install.
func runServiceInstall(cmd *cobra.Command, configPath string) error {
	// Validate before baking the path into the unit; a broken config would
	// otherwise crash-loop under Restart=always.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("refusing to install with an invalid config: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	unitPath, err := service.Install(service.Options{
		ExecStart:  []string{exe, "serve", "--config", absConfig},
		WorkingDir: cfg.StateDir,
	})
	if err != nil {
		return err
	}
	if err := service.Restart(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Installed: %s\n", unitPath)
	fmt.Fprintln(out, "Service started. Follow logs with: troupe service logs -f")
	return nil
}

// runServiceUninstall handles service uninstall.
func runServiceUninstall(cmd *cobra.Command) error {
	if err := service.Uninstall(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Service removed.")
	return nil
}

// runServiceVerb handles start, stop, and restart.
func runServiceVerb(cmd *cobra.Command, action string) error {
	var err error
	switch action {
	case "start":
		err = service.Start()
	case "stop":
		err = service.Stop()
	case "restart":
		err = service.Restart()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Service %s: ok\n", action)
	return nil
}

// runServiceStatus handles service status.
func runServiceStatus(cmd *cobra.Command) error {
	rt, err := service.Status()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status: %s\n", rt.Status)
	if rt.ActiveState != "" {
		fmt.Fprintf(out, "State:  %s (%s)\n", rt.ActiveState, rt.SubState)
	}
	if rt.PID > 0 {
		fmt.Fprintf(out, "PID:    %d\n", rt.PID)
	}
	if rt.Status != "running" {
		if rt.LastExitStatus != 0 {
			fmt.Fprintf(out, "Last exit status: %d\n", rt.LastExitStatus)
		}
		return fmt.Errorf("service is not running")
	}
	return nil
}

// runServiceLogs handles service logs.
func runServiceLogs(follow bool, lines int) error {
	return service.Logs(follow, lines)
}
