package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/troupehq/troupe/internal/agent"
)

// Connector-provided Slack tools. The dispatcher mounts these after
// session creation so they close over the conversation's channel and
// thread; the funcs wrap its authenticated posting layer.

// PostFunc posts text to a channel, optionally threaded.
type PostFunc func(ctx context.Context, channel, threadTS, text string) error

// ReactFunc adds an emoji reaction to a message.
type ReactFunc func(ctx context.Context, channel, timestamp, name string) error

// SlackMessageTool sends a message in Slack, defaulting to the current
// conversation thread.
type SlackMessageTool struct {
	post           PostFunc
	defaultChannel string
	defaultThread  string
}

// NewSlackMessageTool creates a send-message tool bound to a conversation.
func NewSlackMessageTool(post PostFunc, channel, threadTS string) *SlackMessageTool {
	return &SlackMessageTool{post: post, defaultChannel: channel, defaultThread: threadTS}
}

func (t *SlackMessageTool) Name() string { return "slack_send_message" }

func (t *SlackMessageTool) Description() string {
	return "Send a message in Slack. Posts to the current conversation thread by default. " +
		"Can also post to a different channel. Use for notifications, summaries, or updates."
}

func (t *SlackMessageTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The message text (markdown supported).",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel ID to post to (optional, defaults to the current channel).",
			},
			"thread_ts": map[string]interface{}{
				"type":        "string",
				"description": "Thread timestamp to reply in (optional, defaults to the current thread).",
			},
		},
		"required": []string{"text"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *SlackMessageTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Text     string `json:"text"`
		Channel  string `json:"channel"`
		ThreadTS string `json:"thread_ts"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Text) == "" {
		return toolError("text is required"), nil
	}
	if t.post == nil {
		return toolError("slack posting is not configured for this session"), nil
	}

	channel := input.Channel
	if channel == "" {
		channel = t.defaultChannel
	}
	threadTS := input.ThreadTS
	if threadTS == "" && channel == t.defaultChannel {
		threadTS = t.defaultThread
	}

	if err := t.post(ctx, channel, threadTS, input.Text); err != nil {
		return toolError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}
	out := "Message sent to " + channel
	if threadTS != "" {
		out += " in thread " + threadTS
	}
	return &agent.ToolResult{Content: out}, nil
}

// SlackReactionTool adds an emoji reaction to a message, defaulting to the
// user message that started the execution.
type SlackReactionTool struct {
	react          ReactFunc
	defaultChannel string
	lastUserTS     string
}

// NewSlackReactionTool creates a reaction tool bound to a conversation.
func NewSlackReactionTool(react ReactFunc, channel, lastUserTS string) *SlackReactionTool {
	return &SlackReactionTool{react: react, defaultChannel: channel, lastUserTS: lastUserTS}
}

func (t *SlackReactionTool) Name() string { return "slack_add_reaction" }

func (t *SlackReactionTool) Description() string {
	return "Add an emoji reaction to a message in Slack. " +
		"Use to acknowledge messages, signal status, or mark completion. " +
		"Common emoji: thumbsup, white_check_mark, eyes, warning, fire, rocket"
}

func (t *SlackReactionTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"emoji": map[string]interface{}{
				"type":        "string",
				"description": "Emoji name without colons (e.g. 'thumbsup', 'white_check_mark', 'eyes').",
			},
			"message_ts": map[string]interface{}{
				"type":        "string",
				"description": "Timestamp of the message to react to (optional, defaults to the user's last message).",
			},
		},
		"required": []string{"emoji"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *SlackReactionTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Emoji     string `json:"emoji"`
		MessageTS string `json:"message_ts"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	emoji := strings.Trim(strings.TrimSpace(input.Emoji), ":")
	if emoji == "" {
		return toolError("emoji is required"), nil
	}
	messageTS := input.MessageTS
	if messageTS == "" {
		messageTS = t.lastUserTS
	}
	if messageTS == "" {
		return toolError("no message timestamp available to react to"), nil
	}
	if t.react == nil {
		return toolError("slack reactions are not configured for this session"), nil
	}

	if err := t.react(ctx, t.defaultChannel, messageTS, emoji); err != nil {
		return toolError(fmt.Sprintf("Failed to add reaction: %v", err)), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Reacted with :%s:", emoji)}, nil
}
