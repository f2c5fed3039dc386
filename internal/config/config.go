// Package config loads and validates the troupe configuration file.
//
// Configuration is YAML (JSON5 accepted for included fragments), with
// ${ENV_VAR} expansion applied before parsing and $include directives
// resolved relative to the including file. Unknown keys are rejected so
// typos fail at startup instead of silently using defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Config is the top-level configuration for the troupe service.
type Config struct {
	// StateDir holds transcripts, onboarding records, and workspaces.
	StateDir string `yaml:"state_dir"`

	Slack     SlackConfig      `yaml:"slack"`
	Instances []InstanceConfig `yaml:"instances"`
	Defaults  DefaultsConfig   `yaml:"defaults"`
	Provider  ProviderConfig   `yaml:"provider"`

	// ForceRespondTools lists tools that force a text-only follow-up
	// request after they run.
	ForceRespondTools []string `yaml:"force_respond_tools"`

	// MaxIterations caps agent loop turns per execution.
	MaxIterations int `yaml:"max_iterations"`

	// ApprovalDefaultTimeout is how long an approval prompt waits before
	// resolving to its default option, in seconds.
	ApprovalDefaultTimeout int `yaml:"approval_default_timeout"`

	// StatusThrottleSeconds is the minimum spacing between status message
	// updates for one execution.
	StatusThrottleSeconds int `yaml:"status_throttle_seconds"`

	// ThreadOwnerCapacity bounds the thread ownership LRU.
	ThreadOwnerCapacity int `yaml:"thread_owner_capacity"`

	// FileSizeCap bounds inbound file downloads, in bytes.
	FileSizeCap int64 `yaml:"file_size_cap"`

	Workers WorkersConfig `yaml:"workers"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Admin holds the dashboard password hash set via `troupe admin set-password`.
	Admin AdminConfig `yaml:"admin"`
}

// SlackConfig carries the two Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"` // xapp- token for Socket Mode
	BotToken string `yaml:"bot_token"` // xoxb- token for Web API calls
}

// InstanceConfig describes one AI instance hosted by this process.
type InstanceConfig struct {
	Name       string        `yaml:"name"`
	Bundle     string        `yaml:"bundle"`
	WorkingDir string        `yaml:"working_dir"`
	Persona    PersonaConfig `yaml:"persona"`
}

// PersonaConfig controls how an instance appears when posting.
type PersonaConfig struct {
	Name  string `yaml:"name"`
	Emoji string `yaml:"emoji"`
}

// DefaultsConfig names fallbacks used when routing cannot decide.
type DefaultsConfig struct {
	Instance string `yaml:"instance"`
}

// ProviderConfig selects and tunes the LLM backend. When Name is empty the
// provider is detected from available credentials.
type ProviderConfig struct {
	Name      string `yaml:"name"` // anthropic, openai, or google
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// WorkersConfig tunes background task dispatch.
type WorkersConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxConcurrent  int `yaml:"max_concurrent"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// AdminConfig stores dashboard credentials.
type AdminConfig struct {
	PasswordHash string `yaml:"password_hash"`
}

// DefaultConfigPath returns the conventional config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "troupe.yaml"
	}
	return filepath.Join(home, ".troupe", "troupe.yaml")
}

// Load reads, expands, decodes, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// title upper-cases the first rune, for default persona names.
func title(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func applyDefaults(cfg *Config) {
	if cfg.StateDir == "" {
		cfg.StateDir = "~/.troupe"
	}
	cfg.StateDir = expandHome(cfg.StateDir)

	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 40
	}
	if len(cfg.ForceRespondTools) == 0 {
		cfg.ForceRespondTools = []string{"dispatch_worker"}
	}
	if cfg.ApprovalDefaultTimeout == 0 {
		cfg.ApprovalDefaultTimeout = 300
	}
	if cfg.StatusThrottleSeconds == 0 {
		cfg.StatusThrottleSeconds = 2
	}
	if cfg.ThreadOwnerCapacity == 0 {
		cfg.ThreadOwnerCapacity = 10000
	}
	if cfg.FileSizeCap == 0 {
		cfg.FileSizeCap = 20 * 1024 * 1024
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 4096
	}
	if cfg.Workers.TimeoutSeconds == 0 {
		cfg.Workers.TimeoutSeconds = 600
	}
	if cfg.Workers.MaxConcurrent == 0 {
		cfg.Workers.MaxConcurrent = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	for i := range cfg.Instances {
		inst := &cfg.Instances[i]
		if inst.Persona.Name == "" {
			inst.Persona.Name = title(inst.Name)
		}
		if inst.Persona.Emoji == "" {
			inst.Persona.Emoji = ":robot_face:"
		}
		if inst.WorkingDir == "" {
			inst.WorkingDir = filepath.Join(cfg.StateDir, "workspace", inst.Name)
		}
		inst.WorkingDir = expandHome(inst.WorkingDir)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

var instanceNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks invariants the rest of the service assumes.
func (c *Config) Validate() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("config: at least one instance is required")
	}
	seen := map[string]bool{}
	for _, inst := range c.Instances {
		if inst.Name == "" {
			return fmt.Errorf("config: instance name is required")
		}
		if !instanceNameRe.MatchString(inst.Name) {
			return fmt.Errorf("config: instance name %q must be lowercase alphanumeric (plus - or _)", inst.Name)
		}
		if seen[inst.Name] {
			return fmt.Errorf("config: duplicate instance name %q", inst.Name)
		}
		seen[inst.Name] = true
		if inst.Bundle == "" {
			return fmt.Errorf("config: instance %q: bundle is required", inst.Name)
		}
	}
	if c.Defaults.Instance != "" && !seen[c.Defaults.Instance] {
		return fmt.Errorf("config: defaults.instance %q is not a configured instance", c.Defaults.Instance)
	}
	if c.Slack.AppToken == "" || c.Slack.BotToken == "" {
		return fmt.Errorf("config: slack.app_token and slack.bot_token are required")
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		return fmt.Errorf("config: slack.app_token must start with xapp-")
	}
	if !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		return fmt.Errorf("config: slack.bot_token must start with xoxb-")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("config: max_iterations must be positive")
	}
	if c.ThreadOwnerCapacity < 1 {
		return fmt.Errorf("config: thread_owner_capacity must be at least 1")
	}
	if c.StatusThrottleSeconds < 1 {
		return fmt.Errorf("config: status_throttle_seconds must be at least 1")
	}
	switch c.Provider.Name {
	case "", "anthropic", "openai", "google":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider.Name)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}

// Instance returns the configuration for a named instance.
func (c *Config) Instance(name string) (InstanceConfig, bool) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return InstanceConfig{}, false
}

// InstanceNames returns configured instance names in declaration order.
func (c *Config) InstanceNames() []string {
	names := make([]string, len(c.Instances))
	for i, inst := range c.Instances {
		names[i] = inst.Name
	}
	return names
}

// DefaultInstance returns the routing fallback: defaults.instance when set,
// otherwise the first configured instance.
func (c *Config) DefaultInstance() string {
	if c.Defaults.Instance != "" {
		return c.Defaults.Instance
	}
	return c.Instances[0].Name
}

// ApprovalTimeout returns the approval wait as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalDefaultTimeout) * time.Second
}

// StatusThrottle returns the status update spacing as a duration.
func (c *Config) StatusThrottle() time.Duration {
	return time.Duration(c.StatusThrottleSeconds) * time.Second
}

// WorkerTimeout returns the background task budget as a duration.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Workers.TimeoutSeconds) * time.Second
}

// ForceRespondSet returns the force-respond tool names as a set.
func (c *Config) ForceRespondSet() map[string]bool {
	set := make(map[string]bool, len(c.ForceRespondTools))
	for _, name := range c.ForceRespondTools {
		set[name] = true
	}
	return set
}
