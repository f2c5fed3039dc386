package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/retry"
	"github.com/troupehq/troupe/pkg/models"
)

const defaultGoogleModel = "gemini-2.0-flash"

// Google streams completions from the Gemini API.
type Google struct {
	client       *genai.Client
	defaultModel string
	retry        retry.Config
}

// GoogleConfig configures the Gemini backend. Only APIKey is required.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	Retry        retry.Config
}

// NewGoogle builds the provider or fails when no key is given.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultGoogleModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	return &Google{
		client:       client,
		defaultModel: cfg.DefaultModel,
		retry:        cfg.Retry,
	}, nil
}

func (p *Google) Name() string { return "google" }

// Complete streams a Gemini response. Gemini has no native tool-call ids,
// so ids are synthesized when calls arrive and resolved back to function
// names when results are sent.
func (p *Google) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	contents := convertGoogleMessages(req.Messages)
	config := p.buildConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		res := retry.Do(ctx, p.retry, func() error {
			emitted, err := p.processStream(ctx, model, contents, config, chunks)
			if err == nil {
				return nil
			}
			err = wrapProviderError("google", model, err)
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

func (p *Google) processStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- *agent.CompletionChunk) (bool, error) {
	emitted := false
	var inputTokens, outputTokens int

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if ctx.Err() != nil {
			return emitted, ctx.Err()
		}
		if err != nil {
			return emitted, err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- &agent.CompletionChunk{Text: part.Text}
					emitted = true
				}
				if part.FunctionCall != nil {
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						args = []byte("{}")
					}
					chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
						ID:    googleToolCallID(part.FunctionCall.Name),
						Name:  part.FunctionCall.Name,
						Input: args,
					}}
					emitted = true
				}
			}
		}
	}

	chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	return true, nil
}

func (p *Google) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGoogleTools(req.Tools)
	}
	return config
}

func (p *Google) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// convertGoogleMessages maps the shared shape onto Gemini contents.
// Assistant turns become role=model; tool results come back from the user
// side as FunctionResponse parts keyed by function name.
func convertGoogleMessages(messages []models.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name: toolNameForCallID(tr.ToolCallID, messages),
					Response: map[string]any{
						"result":   tr.Content,
						"is_error": tr.IsError,
					},
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

// convertGoogleTools flattens tool schemas into Gemini function
// declarations. All declarations ride in a single Tool entry.
func convertGoogleTools(tools []agent.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  googleSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// googleSchema recursively converts a JSON Schema map to Gemini's schema
// type. Gemini supports a subset; unsupported keywords are dropped.
func googleSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = googleSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = googleSchema(items)
	}
	return schema
}

func googleToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// toolNameForCallID finds the function name a synthesized call id belongs
// to by scanning earlier assistant turns, falling back to the id's
// embedded name segment.
func toolNameForCallID(callID string, messages []models.Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(callID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return callID
}
