package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SetupOptions captures the inputs the setup command collects before
// writing a config file.
type SetupOptions struct {
	ConfigPath      string
	AppToken        string
	BotToken        string
	Provider        string
	ProviderKey     string
	Instances       []string
	DefaultInstance string
	StateDir        string
}

// BuildRaw assembles a config document from setup answers. The result
// round-trips through Load, so every key here matches the Config yaml tags.
func BuildRaw(opts SetupOptions) map[string]any {
	instances := opts.Instances
	if len(instances) == 0 {
		instances = []string{"assistant"}
	}

	instanceDocs := make([]map[string]any, 0, len(instances))
	for _, name := range instances {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		instanceDocs = append(instanceDocs, map[string]any{
			"name":   name,
			"bundle": "default",
			"persona": map[string]any{
				"name": title(name),
			},
		})
	}

	raw := map[string]any{
		"slack": map[string]any{
			"app_token": opts.AppToken,
			"bot_token": opts.BotToken,
		},
		"instances": instanceDocs,
	}

	if opts.StateDir != "" {
		raw["state_dir"] = opts.StateDir
	}
	if opts.DefaultInstance != "" {
		raw["defaults"] = map[string]any{"instance": opts.DefaultInstance}
	}

	provider := map[string]any{}
	if name := normalizeProviderName(opts.Provider); name != "" {
		provider["name"] = name
	}
	if opts.ProviderKey != "" {
		provider["api_key"] = opts.ProviderKey
	}
	if len(provider) > 0 {
		raw["provider"] = provider
	}

	return raw
}

// WriteRaw writes a config document to disk, creating parent directories.
// The file carries tokens, so permissions are owner-only.
func WriteRaw(path string, raw map[string]any) error {
	if raw == nil {
		return fmt.Errorf("config: nothing to write")
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// normalizeProviderName maps loose user input onto the configured provider
// names; unrecognized input passes through for Validate to reject.
func normalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "gemini":
		return "google"
	default:
		return name
	}
}
