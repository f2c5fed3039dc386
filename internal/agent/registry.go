package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Argument limits guarding the registry boundary.
const (
	// MaxToolNameLength is the longest accepted tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize caps tool argument JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// Registry holds the tools available to one session, keyed by name, with
// each tool's schema compiled once at registration. Execute validates
// arguments against the compiled schema before the tool runs.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any previous tool of the same name.
// The tool's schema must compile; a tool with a broken schema is rejected
// rather than mounted without validation.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("register tool: invalid name %q", name)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("register tool %s: compile schema: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	r.schemas[name] = compiled
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered tools sorted by name, the snapshot handed
// to providers each iteration.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute validates args against the tool's schema and runs it. Problems
// the model can react to (unknown tool, malformed or non-conforming
// arguments, execution failure) come back as error results, never as Go
// errors; the loop turns them into tool-result messages and continues.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	if len(args) > MaxToolArgsSize {
		return ErrorResult(fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize)), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult("tool not found: " + name), nil
	}

	normalized, decoded, err := NormalizeArgs(args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
	}
	if err := schema.Validate(decoded); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
	}

	res, err := tool.Execute(ctx, normalized)
	if err != nil {
		return ErrorResult(fmt.Sprintf("%s failed: %v", name, err)), nil
	}
	if res == nil {
		res = &ToolResult{}
	}
	return res, nil
}

// NormalizeArgs canonicalizes tool arguments before validation. Models
// sometimes double-encode: the whole argument object as a JSON string, or
// the todos / agent fields as JSON strings inside an otherwise well-formed
// object. Both forms are accepted here; everything else must conform to
// the schema as sent.
func NormalizeArgs(args json.RawMessage) (json.RawMessage, any, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}

	// Whole payload sent as a string: unwrap one level.
	if s, ok := decoded.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return nil, nil, fmt.Errorf("parse string-encoded arguments: %w", err)
		}
		decoded = inner
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		// Not an object; let schema validation produce the rejection.
		return args, decoded, nil
	}

	for _, key := range []string{"todos", "agent"} {
		s, ok := obj[key].(string)
		if !ok {
			continue
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			continue // plain string value, leave it alone
		}
		switch inner.(type) {
		case map[string]any, []any:
			obj[key] = inner
		}
	}

	normalized, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	return normalized, obj, nil
}
