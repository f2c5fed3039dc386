package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/retry"
	"github.com/troupehq/troupe/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI streams completions from the Chat Completions API.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
	retry        retry.Config
}

// OpenAIConfig configures the OpenAI backend. Only APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Retry        retry.Config
}

// NewOpenAI builds the provider or fails when no key is given.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		retry:        cfg.Retry,
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

// Complete opens the chat stream, retrying creation on transient failures,
// then relays deltas as chunks.
func (p *OpenAI) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, res := retry.DoWithValue(ctx, p.retry, func() (*openai.ChatCompletionStream, error) {
		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			err = wrapProviderError("openai", model, err)
			if !isRetryable(err) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return s, nil
	})
	if res.Err != nil {
		return nil, res.Err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream reads deltas until EOF. Tool calls stream as fragments
// keyed by index: the first fragment carries id and name, later ones
// append argument JSON. Completed calls flush on the tool_calls finish
// reason or at end of stream.
func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	var order []int
	var inputTokens, outputTokens int

	flush := func() {
		for _, idx := range order {
			tc := pending[idx]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Input) == 0 {
				tc.Input = []byte("{}")
			}
			chunks <- &agent.CompletionChunk{ToolCall: tc}
		}
		pending = make(map[int]*models.ToolCall)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &agent.CompletionChunk{Error: wrapProviderError("openai", model, err)}
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if pending[idx] == nil {
				pending[idx] = &models.ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				pending[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[idx].Input = append(pending[idx].Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func (p *OpenAI) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// convertOpenAIMessages maps the shared shape onto chat messages. The
// system prompt goes first; each tool result becomes its own role=tool
// message tied back by tool_call_id.
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, m)

		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		})
	}
	return result
}
