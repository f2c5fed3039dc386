package agent

import (
	"context"
	"encoding/json"
)

// Tool is an executable capability offered to the model.
//
// Implementations live outside the loop (built-ins under internal/tools,
// the worker dispatcher under internal/workers) and are mounted on a
// session through the hook coordinator.
type Tool interface {
	// Name is the function-calling identifier (alphanumeric plus
	// underscores).
	Name() string

	// Description tells the model when to reach for this tool.
	Description() string

	// Schema is the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Arguments have already been validated
	// against Schema. Failures the model should see go in the result
	// with IsError set; a returned error means the call itself broke.
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolResult is what a tool hands back to the model.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ErrorResult builds a result the model sees as a failed call.
func ErrorResult(content string) *ToolResult {
	return &ToolResult{Content: content, IsError: true}
}
