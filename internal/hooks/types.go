// Package hooks implements the per-session capability coordinator: named
// tool and handler lists plus late-bound display, approval, and inject
// capabilities that connectors mount after session creation.
package hooks

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies a hook dispatch point in the agent loop.
type EventType string

const (
	EventToolPre          EventType = "tool:pre"
	EventToolPost         EventType = "tool:post"
	EventPromptSubmit     EventType = "prompt:submit"
	EventProviderRequest  EventType = "provider:request"
	EventInjectionApplied EventType = "injection:applied"
)

// Action is a handler's verdict.
type Action string

const (
	ActionContinue Action = "continue"
	ActionDeny     Action = "deny"
)

// Result is returned by every handler. A deny short-circuits remaining
// handlers for the event.
type Result struct {
	Action   Action
	Reason   string
	Metadata map[string]any
}

// Continue is the zero-cost pass-through result.
func Continue() Result {
	return Result{Action: ActionContinue}
}

// Deny builds a denial with a human-readable reason.
func Deny(reason string) Result {
	return Result{Action: ActionDeny, Reason: reason}
}

// Event carries the context of one dispatch point.
type Event struct {
	Type    EventType
	Session string

	// Tool fields, set on tool:pre and tool:post.
	Tool       string
	ToolCallID string
	Args       json.RawMessage
	Output     string
	IsError    bool

	// Prompt is set on prompt:submit and provider:request.
	Prompt string

	// Count is the injected message count on injection:applied.
	Count int

	Timestamp time.Time
}

// Handler processes one hook event. Handlers must be fast; anything slow
// belongs in a goroutine they spawn themselves.
type Handler func(ctx context.Context, ev *Event) Result

// Capability names resolvable through GetCapability.
const (
	CapDisplay  = "display"
	CapApproval = "approval"
	CapInject   = "orchestrator.inject"
)

// Display levels understood by ShowMessage.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Display posts an out-of-band message to the conversation surface.
// Implementations are fire-and-forget: failures are logged, never returned.
type Display interface {
	ShowMessage(ctx context.Context, text, level, source string)
}

// ApprovalRequest describes an interactive decision put to the user.
type ApprovalRequest struct {
	Prompt  string
	Options []string
	Default string
	Timeout time.Duration
}

// Approval blocks until the user picks an option or the timeout resolves
// the default. The returned string is always one of req.Options.
type Approval interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (string, error)
}

// InjectFunc feeds a message into a running execution's steering queue.
type InjectFunc func(text string)
