// Package tools implements the built-in tools mounted on every session:
// the todo plan, delegation, workspace file access, shell execution, and
// the connector-provided Slack tools bound after session creation.
package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/troupehq/troupe/internal/agent"
)

// Config controls workspace tool defaults.
type Config struct {
	Workspace        string
	MaxReadBytes     int
	MaxListEntries   int
	CommandTimeout   time.Duration
	MaxCommandOutput int
}

func (c Config) withDefaults() Config {
	if c.MaxReadBytes <= 0 {
		c.MaxReadBytes = 200000
	}
	if c.MaxListEntries <= 0 {
		c.MaxListEntries = 500
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 2 * time.Minute
	}
	if c.MaxCommandOutput <= 0 {
		c.MaxCommandOutput = 64000
	}
	return c
}

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

// reflectSchema generates a JSON schema from a parameter struct. Used by
// the tools whose parameters nest structured types; flat tools write their
// schemas by hand.
func reflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	payload, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
