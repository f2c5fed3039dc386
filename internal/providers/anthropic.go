// Package providers implements the model backends behind the agent loop:
// Anthropic, OpenAI, and Gemini, plus a scripted provider for tests and
// offline development. Each backend converts the shared message shape to
// its API's format, streams the response back as completion chunks, and
// retries transient transport failures with bounded exponential backoff.
// Detect picks the backend once at startup from configuration and
// environment credentials.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/retry"
	"github.com/troupehq/troupe/pkg/models"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096

	// maxEmptyStreamEvents bounds consecutive no-op SSE events before the
	// stream is treated as malformed.
	maxEmptyStreamEvents = 300
)

// Anthropic streams completions from the Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	retry        retry.Config
}

// AnthropicConfig configures the Anthropic backend. Only APIKey is
// required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Retry        retry.Config
}

// NewAnthropic builds the provider or fails when no key is given.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		retry:        cfg.Retry,
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

// Complete opens a streaming Messages request and relays events as chunks.
// Connection-level failures retry with backoff; once any chunk has been
// emitted the attempt is final, since replaying would duplicate output.
func (p *Anthropic) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	model := p.model(req.Model)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		res := retry.Do(ctx, p.retry, func() error {
			stream := p.client.Messages.NewStreaming(ctx, params)
			emitted, err := p.processStream(stream, chunks)
			if err == nil {
				return nil
			}
			err = wrapProviderError("anthropic", model, err)
			if emitted || !isRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if res.Err != nil {
			chunks <- &agent.CompletionChunk{Error: res.Err}
		}
	}()
	return chunks, nil
}

func (p *Anthropic) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream folds the SSE event union into chunks. Tool input arrives
// as JSON fragments on content_block_delta events and is assembled until
// the block stops. Returns whether anything was emitted, so the caller
// knows if a retry is still safe.
func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk) (bool, error) {
	var currentTool *anthropicToolAccumulator
	emitted := false
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentTool = &anthropicToolAccumulator{id: use.ID, name: use.Name}
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					emitted = true
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && currentTool != nil {
					currentTool.input.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				chunks <- &agent.CompletionChunk{ToolCall: currentTool.toolCall()}
				currentTool = nil
				emitted = true
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return true, nil

		case "error":
			return emitted, errors.New("stream error event")
		}

		if processed {
			emptyEvents = 0
		} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
			return emitted, fmt.Errorf("malformed stream: %d consecutive empty events", emptyEvents)
		}
	}

	if err := stream.Err(); err != nil {
		return emitted, err
	}
	// Stream ended without message_stop; treat as done.
	chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	return true, nil
}

func (p *Anthropic) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

type anthropicToolAccumulator struct {
	id    string
	name  string
	input strings.Builder
}

func (a *anthropicToolAccumulator) toolCall() *models.ToolCall {
	input := a.input.String()
	if input == "" {
		input = "{}"
	}
	return &models.ToolCall{ID: a.id, Name: a.name, Input: json.RawMessage(input)}
}

// convertAnthropicMessages maps the shared message shape onto Anthropic
// content blocks. System messages are skipped (they ride separately on
// params.System); tool-result messages become user messages carrying
// tool_result blocks, which is where the API expects them.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("tool call %s has invalid input: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s: missing tool definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, param)
	}
	return result, nil
}
