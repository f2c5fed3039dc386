// Package models defines the shared data types that flow between the
// dispatcher, sessions, the agent loop, and the transcript store.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation context. It is also the unit of
// persistence: the transcript store writes one message per JSONL line.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Attachment represents a file shared into a conversation.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"` // local staging path after download
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall is a request from the model to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool execution, keyed back to the call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// UserMessage builds a user-role message stamped with the current time.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()}
}

// AssistantMessage builds an assistant-role message stamped with the current time.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, CreatedAt: time.Now().UTC()}
}
