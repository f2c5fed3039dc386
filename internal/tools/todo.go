package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/pkg/models"
)

// todoParams is the todo tool's argument shape; its schema is generated by
// reflection so the nested item structure stays in sync with the model type.
type todoParams struct {
	Action string            `json:"action" jsonschema:"enum=create,enum=update,enum=list,description=create replaces the plan; update rewrites it with new statuses; list returns the current plan"`
	Todos  []models.TodoItem `json:"todos,omitempty" jsonschema:"description=The full task list for create and update; omitted for list"`
}

var (
	todoSchemaOnce sync.Once
	todoSchema     json.RawMessage
)

// TodoTool maintains the task plan for one session. The progress pipeline
// reads the plan out of this tool's arguments and list results to render
// the plan-mode status message.
type TodoTool struct {
	mu    sync.Mutex
	items []models.TodoItem
}

// NewTodoTool creates an empty todo tool.
func NewTodoTool() *TodoTool {
	return &TodoTool{}
}

func (t *TodoTool) Name() string { return "todo" }

func (t *TodoTool) Description() string {
	return "Maintain the visible task plan for multi-step work. Use create to start a plan, " +
		"update to rewrite it as statuses change, and list to read it back. " +
		"Keep exactly one item in_progress while you work."
}

func (t *TodoTool) Schema() json.RawMessage {
	todoSchemaOnce.Do(func() {
		todoSchema = reflectSchema(&todoParams{})
	})
	return todoSchema
}

func (t *TodoTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input todoParams
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	switch strings.TrimSpace(input.Action) {
	case "create", "update":
		if len(input.Todos) == 0 {
			return toolError("todos is required for " + input.Action), nil
		}
		items := make([]models.TodoItem, len(input.Todos))
		for i, item := range input.Todos {
			if strings.TrimSpace(item.Content) == "" {
				return toolError(fmt.Sprintf("todos[%d].content is required", i)), nil
			}
			switch item.Status {
			case models.TodoPending, models.TodoInProgress, models.TodoCompleted:
			case "":
				item.Status = models.TodoPending
			default:
				return toolError(fmt.Sprintf("todos[%d].status must be pending, in_progress, or completed", i)), nil
			}
			items[i] = item
		}
		t.mu.Lock()
		t.items = items
		t.mu.Unlock()
		return &agent.ToolResult{Content: countsPayload(items)}, nil

	case "list":
		t.mu.Lock()
		items := make([]models.TodoItem, len(t.items))
		copy(items, t.items)
		t.mu.Unlock()
		payload, err := json.MarshalIndent(map[string]any{"todos": items}, "", "  ")
		if err != nil {
			return toolError(fmt.Sprintf("encode todos: %v", err)), nil
		}
		return &agent.ToolResult{Content: string(payload)}, nil
	}
	return toolError("unsupported action"), nil
}

// Items returns a copy of the current plan.
func (t *TodoTool) Items() []models.TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := make([]models.TodoItem, len(t.items))
	copy(items, t.items)
	return items
}

func countsPayload(items []models.TodoItem) string {
	var completed, inProgress, pending int
	for _, item := range items {
		switch item.Status {
		case models.TodoCompleted:
			completed++
		case models.TodoInProgress:
			inProgress++
		default:
			pending++
		}
	}
	payload, _ := json.MarshalIndent(map[string]int{
		"total":       len(items),
		"completed":   completed,
		"in_progress": inProgress,
		"pending":     pending,
	}, "", "  ")
	return string(payload)
}
