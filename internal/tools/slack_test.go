package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordedPost struct {
	channel  string
	threadTS string
	text     string
}

func TestSlackMessageDefaults(t *testing.T) {
	var got recordedPost
	post := func(ctx context.Context, channel, threadTS, text string) error {
		got = recordedPost{channel, threadTS, text}
		return nil
	}
	tool := NewSlackMessageTool(post, "C1", "1700000000.000100")

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]interface{}{"text": "hi there"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if got.channel != "C1" || got.threadTS != "1700000000.000100" || got.text != "hi there" {
		t.Fatalf("unexpected post: %+v", got)
	}
	if !strings.Contains(result.Content, "Message sent to C1") || !strings.Contains(result.Content, "in thread") {
		t.Fatalf("unexpected content: %s", result.Content)
	}
}

func TestSlackMessageExplicitChannelDropsDefaultThread(t *testing.T) {
	var got recordedPost
	post := func(ctx context.Context, channel, threadTS, text string) error {
		got = recordedPost{channel, threadTS, text}
		return nil
	}
	tool := NewSlackMessageTool(post, "C1", "1700000000.000100")

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]interface{}{
		"text":    "summary",
		"channel": "C9",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.channel != "C9" || got.threadTS != "" {
		t.Fatalf("default thread should not leak across channels: %+v", got)
	}
	if strings.Contains(result.Content, "in thread") {
		t.Fatalf("unexpected content: %s", result.Content)
	}
}

func TestSlackMessageValidation(t *testing.T) {
	tool := NewSlackMessageTool(nil, "C1", "")
	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]interface{}{"text": " "}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "text is required") {
		t.Fatalf("expected validation error, got %s", result.Content)
	}
}

func TestSlackMessagePostFailure(t *testing.T) {
	post := func(ctx context.Context, channel, threadTS, text string) error {
		return errors.New("channel_not_found")
	}
	tool := NewSlackMessageTool(post, "C1", "")

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]interface{}{"text": "hi"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "Failed to send message") {
		t.Fatalf("expected failure result, got %s", result.Content)
	}
}

func TestSlackReactionDefaults(t *testing.T) {
	var gotChannel, gotTS, gotName string
	react := func(ctx context.Context, channel, timestamp, name string) error {
		gotChannel, gotTS, gotName = channel, timestamp, name
		return nil
	}
	tool := NewSlackReactionTool(react, "C1", "1700000000.000200")

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]interface{}{"emoji": "eyes"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if gotChannel != "C1" || gotTS != "1700000000.000200" || gotName != "eyes" {
		t.Fatalf("unexpected reaction: %s %s %s", gotChannel, gotTS, gotName)
	}
	if result.Content != "Reacted with :eyes:" {
		t.Fatalf("unexpected content: %s", result.Content)
	}
}

func TestSlackReactionTrimsColons(t *testing.T) {
	var gotName string
	react := func(ctx context.Context, channel, timestamp, name string) error {
		gotName = name
		return nil
	}
	tool := NewSlackReactionTool(react, "C1", "1700000000.000200")

	if _, err := tool.Execute(context.Background(), mustArgs(t, map[string]interface{}{"emoji": ":fire:"})); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotName != "fire" {
		t.Fatalf("expected colons trimmed, got %q", gotName)
	}
}

func TestSlackReactionNoTimestamp(t *testing.T) {
	tool := NewSlackReactionTool(nil, "C1", "")
	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]interface{}{"emoji": "eyes"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "no message timestamp") {
		t.Fatalf("expected timestamp error, got %s", result.Content)
	}
}
