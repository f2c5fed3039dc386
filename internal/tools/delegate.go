package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/troupehq/troupe/internal/agent"
)

// Runner executes a delegated task on a named sub-agent and returns its
// final text. The session wiring supplies one that runs a scoped agent
// loop; the tool itself knows nothing about providers.
type Runner func(ctx context.Context, agentName, task string) (string, error)

// DelegateTool hands a task to a named sub-agent and blocks until it
// answers. The progress pipeline names the target agent in the status line
// while the call runs.
type DelegateTool struct {
	runner Runner
	agents []string
}

// NewDelegateTool creates a delegate tool. A non-empty agents list
// restricts delegation to those names and is surfaced in the description.
func NewDelegateTool(runner Runner, agents ...string) *DelegateTool {
	return &DelegateTool{runner: runner, agents: agents}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	desc := "Delegate a self-contained task to a specialist agent and wait for its result."
	if len(t.agents) > 0 {
		desc += " Available agents: " + strings.Join(t.agents, ", ") + "."
	}
	return desc
}

func (t *DelegateTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent": map[string]interface{}{
				"type":        "string",
				"description": "Name of the agent to delegate to.",
			},
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Complete, self-contained task description.",
			},
		},
		"required": []string{"agent", "task"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *DelegateTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Agent string `json:"agent"`
		Task  string `json:"task"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	target := strings.TrimSpace(input.Agent)
	task := strings.TrimSpace(input.Task)
	if target == "" {
		return toolError("agent is required"), nil
	}
	if task == "" {
		return toolError("task is required"), nil
	}
	if len(t.agents) > 0 && !t.knows(target) {
		return toolError(fmt.Sprintf("unknown agent %q (available: %s)", target, strings.Join(t.agents, ", "))), nil
	}
	if t.runner == nil {
		return toolError("delegation is not configured for this session"), nil
	}

	result, err := t.runner(ctx, target, task)
	if err != nil {
		return toolError(fmt.Sprintf("delegate to %s: %v", target, err)), nil
	}
	return &agent.ToolResult{Content: result}, nil
}

func (t *DelegateTool) knows(name string) bool {
	for _, a := range t.agents {
		if a == name {
			return true
		}
	}
	return false
}
