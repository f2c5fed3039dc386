package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/troupehq/troupe/internal/agent"
)

// ListFilesTool lists workspace directory contents, optionally recursively.
type ListFilesTool struct {
	resolver   Resolver
	maxEntries int
}

// NewListFilesTool creates a listing tool scoped to the workspace.
func NewListFilesTool(cfg Config) *ListFilesTool {
	cfg = cfg.withDefaults()
	return &ListFilesTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxEntries: cfg.MaxListEntries,
	}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files and directories in the workspace. Directories carry a trailing slash."
}

func (t *ListFilesTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (relative to workspace, default: workspace root).",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Walk subdirectories (hidden directories are skipped).",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ListFilesTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	path := strings.TrimSpace(input.Path)
	if path == "" {
		path = "."
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var entries []string
	truncated := false
	if input.Recursive {
		entries, truncated, err = t.walk(resolved)
	} else {
		entries, truncated, err = t.list(resolved)
	}
	if err != nil {
		return toolError(err.Error()), nil
	}

	result := map[string]interface{}{
		"path":      path,
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func (t *ListFilesTool) list(dir string) ([]string, bool, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, false, fmt.Errorf("list directory: %w", err)
	}
	entries := make([]string, 0, len(dirents))
	truncated := false
	for _, d := range dirents {
		if len(entries) >= t.maxEntries {
			truncated = true
			break
		}
		name := d.Name()
		if d.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}
	return entries, truncated, nil
}

func (t *ListFilesTool) walk(root string) ([]string, bool, error) {
	var entries []string
	truncated := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		// Hidden directories (.git, .outbox) stay out of recursive listings.
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if len(entries) >= t.maxEntries {
			truncated = true
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("walk directory: %w", err)
	}
	return entries, truncated, nil
}
