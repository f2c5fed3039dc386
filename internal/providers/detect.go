package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/retry"
)

// Environment variables consulted by Detect, in precedence order.
const (
	envAnthropicKey = "ANTHROPIC_API_KEY"
	envOpenAIKey    = "OPENAI_API_KEY"
	envGeminiKey    = "GEMINI_API_KEY"
	envGoogleKey    = "GOOGLE_API_KEY"
)

// Settings carries everything Detect needs to build a backend. Name and
// APIKey may be empty, in which case the environment decides.
type Settings struct {
	// Name forces a specific backend: "anthropic", "openai", or "google".
	Name string
	// Model overrides the backend's default model.
	Model string
	// APIKey overrides the environment credential for the chosen backend.
	APIKey string
	// BaseURL points the backend at a proxy or compatible endpoint.
	BaseURL string
	// Retry tunes transient-failure backoff for all backends.
	Retry retry.Config
	// Logger reports which backend was chosen. Nil means slog.Default.
	Logger *slog.Logger
}

// Detect picks the model backend once at startup. An explicit Name wins;
// otherwise the first credential found in the environment decides, checked
// in order: Anthropic, OpenAI, Gemini. With no name and no credential it
// fails with agent.ErrNoProvider.
func Detect(ctx context.Context, s Settings) (agent.Provider, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := strings.ToLower(strings.TrimSpace(s.Name))
	if name == "" {
		switch {
		case envKey(envAnthropicKey) != "":
			name = "anthropic"
		case envKey(envOpenAIKey) != "":
			name = "openai"
		case envKey(envGeminiKey) != "" || envKey(envGoogleKey) != "":
			name = "google"
		default:
			return nil, fmt.Errorf("%w: set provider.name in config or one of %s, %s, %s",
				agent.ErrNoProvider, envAnthropicKey, envOpenAIKey, envGeminiKey)
		}
		logger.Info("provider detected from environment", "provider", name)
	} else {
		logger.Info("provider set by config", "provider", name)
	}

	switch name {
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:       firstNonEmpty(s.APIKey, envKey(envAnthropicKey)),
			BaseURL:      s.BaseURL,
			DefaultModel: s.Model,
			Retry:        s.Retry,
		})
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:       firstNonEmpty(s.APIKey, envKey(envOpenAIKey)),
			BaseURL:      s.BaseURL,
			DefaultModel: s.Model,
			Retry:        s.Retry,
		})
	case "google", "gemini":
		return NewGoogle(ctx, GoogleConfig{
			APIKey:       firstNonEmpty(s.APIKey, envKey(envGeminiKey), envKey(envGoogleKey)),
			DefaultModel: s.Model,
			Retry:        s.Retry,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: anthropic, openai, google)", name)
	}
}

func envKey(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
