package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/agent"
)

// RunCommandTool runs a shell command synchronously in the workspace.
// Long-lived background work goes through dispatch_worker instead; this
// tool is for the quick checks an answer depends on.
type RunCommandTool struct {
	resolver  Resolver
	timeout   time.Duration
	maxOutput int
}

// NewRunCommandTool creates a command tool scoped to the workspace.
func NewRunCommandTool(cfg Config) *RunCommandTool {
	cfg = cfg.withDefaults()
	return &RunCommandTool{
		resolver:  Resolver{Root: cfg.Workspace},
		timeout:   cfg.CommandTimeout,
		maxOutput: cfg.MaxCommandOutput,
	}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command in the workspace and return stdout, stderr, and the exit code."
}

func (t *RunCommandTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default applies when omitted).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// commandResult summarizes one command run for the model.
type commandResult struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (t *RunCommandTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	timeout := t.timeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := t.workingDir(input.Cwd)
	if err != nil {
		return toolError(err.Error()), nil
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	if len(input.Env) > 0 {
		base := os.Environ()
		for k, v := range input.Env {
			base = append(base, k+"="+v)
		}
		cmd.Env = base
	}
	stdout := newLimitedBuffer(t.maxOutput)
	stderr := newLimitedBuffer(t.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if input.Input != "" {
		cmd.Stdin = strings.NewReader(input.Input)
	}

	start := time.Now()
	runErr := cmd.Run()

	result := commandResult{
		Command:    command,
		Cwd:        dir,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode(runErr),
		DurationMS: time.Since(start).Milliseconds(),
		TimedOut:   errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func (t *RunCommandTool) workingDir(cwd string) (string, error) {
	if strings.TrimSpace(cwd) != "" {
		return t.resolver.Resolve(cwd)
	}
	return t.resolver.Resolve(".")
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer caps captured output; bytes past the cap are counted but
// dropped.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
