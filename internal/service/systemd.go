// Package service manages the troupe systemd user unit: installing the
// unit file, driving systemctl, and tailing logs through journalctl.
// Everything operates on the invoking user's service manager; troupe never
// needs system-level privileges.
package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// UnitName is the systemd unit, without the .service suffix.
const UnitName = "troupe"

// Options describes the unit to install.
type Options struct {
	Description string
	// ExecStart is the full command line, binary first.
	ExecStart  []string
	WorkingDir string
	// Environment entries are KEY=VALUE pairs written as Environment= lines.
	Environment map[string]string
}

// Runtime is the parsed state of the installed unit.
type Runtime struct {
	Status         string // running, stopped, unknown
	ActiveState    string
	SubState       string
	PID            int
	LastExitStatus int
}

// UnitPath returns where the user unit file lives.
func UnitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("service: resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", UnitName+".service"), nil
}

// BuildUnit renders the unit file.
func BuildUnit(opts Options) string {
	description := opts.Description
	if description == "" {
		description = "Troupe Slack connector"
	}

	var lines []string
	lines = append(lines,
		"[Unit]",
		"Description="+description,
		"After=network-online.target",
		"Wants=network-online.target",
		"",
		"[Service]",
		"ExecStart="+quoteArgs(opts.ExecStart),
		"Restart=always",
		"RestartSec=5",
		// Wait only for the main process on shutdown; orphaned tool
		// subprocesses must not hold the unit in deactivating.
		"KillMode=process",
	)
	if opts.WorkingDir != "" {
		lines = append(lines, "WorkingDirectory="+escapeArg(opts.WorkingDir))
	}
	for _, k := range sortedKeys(opts.Environment) {
		if v := opts.Environment[k]; v != "" {
			lines = append(lines, "Environment="+escapeArg(k+"="+v))
		}
	}
	lines = append(lines,
		"",
		"[Install]",
		"WantedBy=default.target",
		"",
	)
	return strings.Join(lines, "\n")
}

// Install writes the unit file, reloads systemd, and enables plus starts
// the service. Returns the unit file path.
func Install(opts Options) (string, error) {
	if err := assertAvailable(); err != nil {
		return "", err
	}
	path, err := UnitPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("service: create unit directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(BuildUnit(opts)), 0o644); err != nil {
		return "", fmt.Errorf("service: write unit file: %w", err)
	}
	for _, args := range [][]string{
		{"--user", "daemon-reload"},
		{"--user", "enable", UnitName + ".service"},
	} {
		if _, stderr, code := systemctl(args); code != 0 {
			return "", fmt.Errorf("service: systemctl %s failed: %s", args[1], strings.TrimSpace(stderr))
		}
	}
	return path, nil
}

// Uninstall stops and disables the service and removes the unit file.
func Uninstall() error {
	if err := assertAvailable(); err != nil {
		return err
	}
	// Stop and disable are best-effort: the unit may already be gone.
	systemctl([]string{"--user", "stop", UnitName + ".service"})
	systemctl([]string{"--user", "disable", UnitName + ".service"})

	path, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("service: remove unit file: %w", err)
	}
	if _, stderr, code := systemctl([]string{"--user", "daemon-reload"}); code != 0 {
		return fmt.Errorf("service: daemon-reload failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Start starts the service.
func Start() error { return verb("start") }

// Stop stops the service.
func Stop() error { return verb("stop") }

// Restart restarts the service.
func Restart() error { return verb("restart") }

func verb(action string) error {
	if err := assertAvailable(); err != nil {
		return err
	}
	if _, stderr, code := systemctl([]string{"--user", action, UnitName + ".service"}); code != 0 {
		return fmt.Errorf("service: systemctl %s failed: %s", action, strings.TrimSpace(stderr))
	}
	return nil
}

// Status reads the unit's runtime state.
func Status() (*Runtime, error) {
	if err := assertAvailable(); err != nil {
		return nil, err
	}
	stdout, stderr, code := systemctl([]string{
		"--user", "show", UnitName + ".service",
		"--no-page",
		"--property", "ActiveState,SubState,MainPID,ExecMainStatus",
	})
	if code != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		return nil, fmt.Errorf("service: systemctl show failed: %s", detail)
	}

	rt := &Runtime{Status: "unknown"}
	for _, line := range strings.Split(stdout, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "ActiveState":
			rt.ActiveState = value
		case "SubState":
			rt.SubState = value
		case "MainPID":
			rt.PID, _ = strconv.Atoi(value)
		case "ExecMainStatus":
			rt.LastExitStatus, _ = strconv.Atoi(value)
		}
	}
	switch strings.ToLower(rt.ActiveState) {
	case "active":
		rt.Status = "running"
	case "":
	default:
		rt.Status = "stopped"
	}
	return rt, nil
}

// Logs streams the unit's journal to stdout. follow blocks until
// interrupted.
func Logs(follow bool, lines int) error {
	args := []string{"--user-unit", UnitName + ".service", "--no-pager"}
	if lines > 0 {
		args = append(args, "-n", strconv.Itoa(lines))
	}
	if follow {
		args = append(args, "-f")
	}
	cmd := exec.Command("journalctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func systemctl(args []string) (stdout, stderr string, code int) {
	cmd := exec.Command("systemctl", args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
		if stderr == "" {
			stderr = err.Error()
		}
	}
	return
}

func assertAvailable() error {
	_, stderr, code := systemctl([]string{"--user", "status"})
	if code == 0 {
		return nil
	}
	lower := strings.ToLower(stderr)
	for _, marker := range []string{"not found", "failed to connect", "not been booted", "no such file", "not supported"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("service: systemd user services are not available here: %s", strings.TrimSpace(stderr))
		}
	}
	// Non-zero status with a reachable manager (e.g. degraded) is fine.
	return nil
}

func escapeArg(value string) string {
	if !strings.ContainsAny(value, " \t\"\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return "\"" + escaped + "\""
}

func quoteArgs(args []string) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = escapeArg(arg)
	}
	return strings.Join(parts, " ")
}

// sortedKeys keeps unit files deterministic so reinstalls diff cleanly.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
