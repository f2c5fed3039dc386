package models

import "time"

// ProgressKind identifies the stage a progress event reports.
type ProgressKind string

const (
	ProgressThinking         ProgressKind = "thinking"
	ProgressToolStart        ProgressKind = "tool:start"
	ProgressToolEnd          ProgressKind = "tool:end"
	ProgressContentDelta     ProgressKind = "content:delta"
	ProgressInjectionApplied ProgressKind = "injection:applied"
	ProgressComplete         ProgressKind = "complete"
	ProgressError            ProgressKind = "error"
)

// Run completion statuses carried on ProgressComplete events.
const (
	RunStatusOK        = "ok"
	RunStatusCancelled = "cancelled"
)

// ProgressEvent is emitted by the agent loop as an execution advances.
// Consumers must not block; the loop emits inline.
type ProgressEvent struct {
	Kind      ProgressKind
	Iteration int

	// Tool fields, set on tool:start and tool:end.
	Tool       string
	ToolCallID string
	ArgsDigest string
	Agent      string // delegation target when the tool spawns a worker
	Todos      []TodoItem
	Duration   time.Duration
	IsError    bool

	// Text carries a content delta.
	Text string

	// Count is the number of injected messages on injection:applied.
	Count int

	// Status is RunStatusOK or RunStatusCancelled on complete.
	Status string

	Err error
}

// TodoStatus is the lifecycle state of a single todo entry.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry of the task list maintained by the todo tool.
type TodoItem struct {
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm,omitempty"`
	Status     TodoStatus `json:"status"`
}

// Label returns the display form for an in-progress item, falling back to
// the imperative content when no active form was provided.
func (t TodoItem) Label() string {
	if t.Status == TodoInProgress && t.ActiveForm != "" {
		return t.ActiveForm
	}
	return t.Content
}
