package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/troupehq/troupe/pkg/models"
)

const argsDigestLimit = 120

// digestArgs flattens tool arguments to a short single line for progress
// events and logs.
func digestArgs(args json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, args); err != nil {
		return ""
	}
	s := strings.Join(strings.Fields(buf.String()), " ")
	runes := []rune(s)
	if len(runes) <= argsDigestLimit {
		return s
	}
	return string(runes[:argsDigestLimit]) + "…"
}

// delegateAgent pulls the target agent name out of delegate arguments.
// The agent field may arrive as a plain string or a JSON-encoded one.
func delegateAgent(args json.RawMessage) string {
	var payload struct {
		Agent string `json:"agent"`
	}
	if normalized, _, err := NormalizeArgs(args); err == nil {
		args = normalized
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Agent)
}

// todosFromArgs extracts the task list from todo-tool arguments when the
// action writes one (create or update). The todos field may arrive as an
// array or as a JSON-encoded string of one.
func todosFromArgs(args json.RawMessage) []models.TodoItem {
	normalized, _, err := NormalizeArgs(args)
	if err != nil {
		return nil
	}
	var payload struct {
		Action string            `json:"action"`
		Todos  []models.TodoItem `json:"todos"`
	}
	if err := json.Unmarshal(normalized, &payload); err != nil {
		return nil
	}
	switch payload.Action {
	case "create", "update":
		return payload.Todos
	}
	return nil
}

// todosFromResult extracts the task list from a todo list result. The tool
// answers list actions with either a bare array or a {"todos": [...]}
// wrapper.
func todosFromResult(args json.RawMessage, content string) []models.TodoItem {
	var payload struct {
		Action string `json:"action"`
	}
	if normalized, _, err := NormalizeArgs(args); err == nil {
		args = normalized
	}
	if err := json.Unmarshal(args, &payload); err != nil || payload.Action != "list" {
		return nil
	}

	content = strings.TrimSpace(content)
	var items []models.TodoItem
	if err := json.Unmarshal([]byte(content), &items); err == nil {
		return items
	}
	var wrapped struct {
		Todos []models.TodoItem `json:"todos"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil {
		return wrapped.Todos
	}
	return nil
}
