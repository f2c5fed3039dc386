// Superseded draft of this package; systemd.go holds the implementation
// the CLI compiles against. Excluded from the build to resolve duplicate
// declarations without discarding the source.
//go:build ignore

// Package service manages troupe as a systemd user unit: install,
// lifecycle verbs, status inspection, and journald log access.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// UnitName is the systemd user unit the CLI manages.
const UnitName = "troupe.service"

// Status classifies the unit's lifecycle state.
type Status string

const (
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
	StatusNotInstalled Status = "not_installed"
)

// Info reports the unit state after a management operation.
type Info struct {
	Status   Status
	PID      int
	Message  string
	UnitPath string
}

// commandRunner executes an external command and returns its combined
// output. Tests replace it to keep the host systemd out of the loop.
var commandRunner = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func systemctl(ctx context.Context, args ...string) ([]byte, error) {
	return commandRunner(ctx, "systemctl", append([]string{"--user"}, args...)...)
}

// UnitPath returns the location of the user unit file.
func UnitPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if strings.TrimSpace(base) == "" {
		home, _ := os.UserHomeDir()
		if strings.TrimSpace(home) == "" {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "systemd", "user", UnitName)
}

// GenerateUnit renders the unit file. envFile is optional; when set the
// unit sources it so tokens can live outside the config file.
func GenerateUnit(execPath, configPath, workDir, envFile string) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=Troupe Slack Assistant\n")
	b.WriteString("After=network-online.target\n")
	b.WriteString("Wants=network-online.target\n")
	b.WriteString("\n[Service]\n")
	b.WriteString("Type=simple\n")
	fmt.Fprintf(&b, "ExecStart=%s serve --config %s\n", execPath, configPath)
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=10\n")
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", workDir)
	if strings.TrimSpace(envFile) != "" {
		fmt.Fprintf(&b, "EnvironmentFile=%s\n", envFile)
	}
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=default.target\n")
	return b.String()
}

// Install writes the unit file, reloads the user daemon, and enables the
// unit so it starts on login. The unit is left stopped.
func Install(ctx context.Context, configPath, envFile string) (Info, error) {
	if runtime.GOOS != "linux" {
		return Info{}, fmt.Errorf("service management requires systemd; unsupported on %s", runtime.GOOS)
	}
	execPath, err := os.Executable()
	if err != nil {
		execPath = "troupe"
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	if strings.TrimSpace(envFile) != "" {
		if abs, err := filepath.Abs(envFile); err == nil {
			envFile = abs
		}
	}
	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	path := UnitPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Info{}, err
	}
	content := GenerateUnit(execPath, configPath, workDir, envFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Info{}, err
	}
	if out, err := systemctl(ctx, "daemon-reload"); err != nil {
		return Info{}, fmt.Errorf("daemon-reload: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if out, err := systemctl(ctx, "enable", UnitName); err != nil {
		return Info{}, fmt.Errorf("enable %s: %w: %s", UnitName, err, strings.TrimSpace(string(out)))
	}
	return Info{Status: StatusStopped, Message: "installed at " + path, UnitPath: path}, nil
}

// Uninstall stops and disables the unit, removes the file, and reloads
// the daemon. Stop and disable failures are tolerated: the unit may not
// be running or enabled.
func Uninstall(ctx context.Context) (Info, error) {
	_, _ = systemctl(ctx, "stop", UnitName)
	_, _ = systemctl(ctx, "disable", UnitName)
	if err := os.Remove(UnitPath()); err != nil && !os.IsNotExist(err) {
		return Info{}, err
	}
	_, _ = systemctl(ctx, "daemon-reload")
	return Info{Status: StatusNotInstalled, Message: "service uninstalled"}, nil
}

// Start starts the unit and reports the resulting state.
func Start(ctx context.Context) (Info, error) { return verb(ctx, "start") }

// Stop stops the unit and reports the resulting state.
func Stop(ctx context.Context) (Info, error) { return verb(ctx, "stop") }

// Restart restarts the unit and reports the resulting state.
func Restart(ctx context.Context) (Info, error) { return verb(ctx, "restart") }

func verb(ctx context.Context, action string) (Info, error) {
	if out, err := systemctl(ctx, action, UnitName); err != nil {
		return Info{}, fmt.Errorf("%s %s: %w: %s", action, UnitName, err, strings.TrimSpace(string(out)))
	}
	return CurrentStatus(ctx)
}

// CurrentStatus inspects the unit through systemctl show. A missing unit
// file short-circuits to not-installed without shelling out.
func CurrentStatus(ctx context.Context) (Info, error) {
	path := UnitPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Info{Status: StatusNotInstalled, Message: "service not installed"}, nil
	} else if err != nil {
		return Info{}, err
	}
	out, _ := systemctl(ctx, "show", UnitName, "--property=ActiveState,MainPID,SubState")
	return parseShow(string(out), path), nil
}

func parseShow(out, unitPath string) Info {
	props := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if key, val, ok := strings.Cut(line, "="); ok {
			props[key] = val
		}
	}
	pid, _ := strconv.Atoi(props["MainPID"])
	switch props["ActiveState"] {
	case "active":
		return Info{Status: StatusRunning, PID: pid, Message: fmt.Sprintf("running (PID %d)", pid), UnitPath: unitPath}
	case "failed":
		return Info{Status: StatusFailed, Message: "service failed, check: troupe service logs", UnitPath: unitPath}
	default:
		return Info{Status: StatusStopped, Message: "stopped", UnitPath: unitPath}
	}
}

func journalArgs(lines int, follow bool) []string {
	if lines <= 0 {
		lines = 50
	}
	args := []string{"--user", "-u", UnitName, fmt.Sprintf("-n%d", lines), "--no-pager"}
	if follow {
		args = append(args, "-f")
	}
	return args
}

// Logs streams journald output for the unit to the caller's stdio. In
// follow mode an interrupt ends the stream without reporting an error.
func Logs(ctx context.Context, lines int, follow bool) error {
	cmd := exec.CommandContext(ctx, "journalctl", journalArgs(lines, follow)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if follow {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
	}
	return err
}
