package format

import (
	"strings"
	"testing"
	"time"
)

func TestToMrkdwnInline(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bold",
			input: "this is **important** text",
			want:  "this is *important* text",
		},
		{
			name:  "link",
			input: "see [the docs](https://example.com/docs) for more",
			want:  "see <https://example.com/docs|the docs> for more",
		},
		{
			name:  "heading",
			input: "# Release Notes\nbody",
			want:  "*Release Notes*\nbody",
		},
		{
			name:  "deep heading",
			input: "### Details",
			want:  "*Details*",
		},
		{
			name:  "plain text unchanged",
			input: "nothing fancy here",
			want:  "nothing fancy here",
		},
		{
			name:  "collapses blank runs",
			input: "a\n\n\n\nb",
			want:  "a\n\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToMrkdwn(tt.input); got != tt.want {
				t.Errorf("ToMrkdwn(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToMrkdwnProtectsCode(t *testing.T) {
	input := "before\n```\n**not bold** [not](a-link)\n```\nafter **bold**"
	got := ToMrkdwn(input)
	if !strings.Contains(got, "**not bold** [not](a-link)") {
		t.Errorf("code block content was rewritten: %q", got)
	}
	if !strings.Contains(got, "after *bold*") {
		t.Errorf("text outside code block not converted: %q", got)
	}
}

func TestToMrkdwnProtectsInlineCode(t *testing.T) {
	got := ToMrkdwn("use `**kwargs` here")
	if !strings.Contains(got, "`**kwargs`") {
		t.Errorf("inline code was rewritten: %q", got)
	}
}

func TestToMrkdwnHorizontalRule(t *testing.T) {
	got := ToMrkdwn("above\n---\nbelow")
	if !strings.Contains(got, "━") {
		t.Errorf("horizontal rule not converted: %q", got)
	}
}

func TestToMrkdwnTwoColumnTable(t *testing.T) {
	input := strings.Join([]string{
		"| Key | Value |",
		"| --- | --- |",
		"| Region | us-east-1 |",
		"| Status | **healthy** |",
	}, "\n")
	got := ToMrkdwn(input)
	want := "*Region:* us-east-1\n*Status:* **healthy**"
	if got != want {
		t.Errorf("two-column table:\ngot  %q\nwant %q", got, want)
	}
}

func TestToMrkdwnMultiColumnTable(t *testing.T) {
	input := strings.Join([]string{
		"| Service | CPU | Memory |",
		"|---|---|---|",
		"| api | 40% | 1.2G |",
	}, "\n")
	got := ToMrkdwn(input)
	for _, fragment := range []string{"*api*", "  CPU: 40%", "  Memory: 1.2G"} {
		if !strings.Contains(got, fragment) {
			t.Errorf("missing %q in:\n%s", fragment, got)
		}
	}
}

func TestToMrkdwnHeaderOnlyTable(t *testing.T) {
	input := "| One | Two |\n|---|---|"
	got := ToMrkdwn(input)
	if got != "*One*  *Two*" {
		t.Errorf("header-only table = %q", got)
	}
}

func TestFriendlyToolName(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{"read_file", "Reading files"},
		{"run_command", "Running command"},
		{"todo", "Managing tasks"},
		{"delegate", "Delegating to agent"},
		{"dispatch_worker", "Delegating work"},
		{"mystery_tool", "Working (mystery_tool)"},
	}
	for _, tt := range tests {
		if got := FriendlyToolName(tt.tool); got != tt.want {
			t.Errorf("FriendlyToolName(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{3 * time.Second, ""},
		{9 * time.Second, ""},
		{10 * time.Second, "10s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "1m"},
		{192 * time.Second, "3m 12s"},
		{180 * time.Second, "3m"},
	}
	for _, tt := range tests {
		if got := Duration(tt.d); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPlural(t *testing.T) {
	if got := Plural(1, "message"); got != "1 message" {
		t.Errorf("Plural(1) = %q", got)
	}
	if got := Plural(3, "message"); got != "3 messages" {
		t.Errorf("Plural(3) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short text changed: %q", got)
	}
	got := Truncate(strings.Repeat("x", 600), 500)
	if len([]rune(got)) != 500 {
		t.Errorf("truncated length = %d, want 500", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("missing ellipsis marker: %q", got[len(got)-3:])
	}
}
