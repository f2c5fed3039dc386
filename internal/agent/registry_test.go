package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRegistryRejectsBrokenSchema(t *testing.T) {
	bad := &stubTool{name: "bad", schema: `{"type": 42}`}
	r := NewRegistry()
	if err := r.Register(bad); err == nil {
		t.Fatal("broken schema accepted")
	}
	if _, ok := r.Get("bad"); ok {
		t.Error("tool with broken schema was mounted")
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	echo := &stubTool{name: "echo", schema: `{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"],
		"additionalProperties": false
	}`}
	r := NewRegistry()
	if err := r.Register(echo); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name    string
		args    string
		isError bool
	}{
		{"conforming object", `{"text":"hi"}`, false},
		{"missing required field", `{}`, true},
		{"wrong type", `{"text": 7}`, true},
		{"unknown property", `{"text":"hi","extra":true}`, true},
		{"string-encoded object", `"{\"text\":\"hi\"}"`, false},
		{"unparsable", `{nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Execute(context.Background(), "echo", json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.IsError != tt.isError {
				t.Errorf("IsError = %v, want %v (content %q)", res.IsError, tt.isError, res.Content)
			}
		})
	}
}

func TestRegistryUnknownToolIsErrorResult(t *testing.T) {
	r := NewRegistry()
	res, err := r.Execute(context.Background(), "ghost", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "tool not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryToolsSortedByName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&stubTool{name: name}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	var got []string
	for _, tool := range r.Tools() {
		got = append(got, tool.Name())
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tools() order = %v, want %v", got, want)
		}
	}
}

func TestRegistryReplaceAndUnregister(t *testing.T) {
	r := NewRegistry()
	first := &stubTool{name: "echo"}
	second := &stubTool{name: "echo"}
	if err := r.Register(first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("Register replacement: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	if _, err := r.Execute(context.Background(), "echo", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.callCount() != 0 || second.callCount() != 1 {
		t.Errorf("replacement not in effect: first=%d second=%d", first.callCount(), second.callCount())
	}

	r.Unregister("echo")
	if _, ok := r.Get("echo"); ok {
		t.Error("tool still present after Unregister")
	}
}

func TestNormalizeArgsFieldLeniency(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"todos as JSON string",
			`{"action":"create","todos":"[{\"content\":\"a\",\"status\":\"pending\"}]"}`,
			`"todos":[{"content":"a","status":"pending"}]`,
		},
		{
			"plain agent string untouched",
			`{"agent":"researcher"}`,
			`"agent":"researcher"`,
		},
		{
			"empty payload becomes object",
			``,
			`{}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized, _, err := NormalizeArgs(json.RawMessage(tt.in))
			if err != nil {
				t.Fatalf("NormalizeArgs: %v", err)
			}
			if !strings.Contains(string(normalized), tt.want) {
				t.Errorf("normalized = %s, want fragment %s", normalized, tt.want)
			}
		})
	}
}
