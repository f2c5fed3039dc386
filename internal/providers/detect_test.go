package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/troupehq/troupe/internal/agent"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envAnthropicKey, envOpenAIKey, envGeminiKey, envGoogleKey} {
		t.Setenv(key, "")
	}
}

func TestDetectExplicitNameWins(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(envAnthropicKey, "sk-ant-env")

	p, err := Detect(context.Background(), Settings{Name: "openai", APIKey: "sk-oa"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("provider = %q, want openai", p.Name())
	}
}

func TestDetectPrecedence(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"anthropic beats openai", map[string]string{envAnthropicKey: "a", envOpenAIKey: "b"}, "anthropic"},
		{"openai beats gemini", map[string]string{envOpenAIKey: "b", envGeminiKey: "c"}, "openai"},
		{"gemini alone", map[string]string{envGeminiKey: "c"}, "google"},
		{"google key alias", map[string]string{envGoogleKey: "d"}, "google"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProviderEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			p, err := Detect(context.Background(), Settings{})
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("provider = %q, want %q", p.Name(), tt.want)
			}
		})
	}
}

func TestDetectNothingConfigured(t *testing.T) {
	clearProviderEnv(t)

	_, err := Detect(context.Background(), Settings{})
	if !errors.Is(err, agent.ErrNoProvider) {
		t.Fatalf("err = %v, want agent.ErrNoProvider", err)
	}
}

func TestDetectUnknownName(t *testing.T) {
	clearProviderEnv(t)

	_, err := Detect(context.Background(), Settings{Name: "watson"})
	if err == nil || errors.Is(err, agent.ErrNoProvider) {
		t.Fatalf("err = %v, want unknown-provider error", err)
	}
}

func TestDetectConfigKeyOverridesEnvironment(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(envOpenAIKey, "sk-env")

	p, err := Detect(context.Background(), Settings{Name: "openai", APIKey: "sk-config"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	oa, ok := p.(*OpenAI)
	if !ok {
		t.Fatalf("provider type = %T", p)
	}
	if oa.defaultModel != defaultOpenAIModel {
		t.Errorf("default model = %q", oa.defaultModel)
	}
}
