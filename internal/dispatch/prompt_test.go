package dispatch

import (
	"strings"
	"testing"
)

func TestBuildPromptChannel(t *testing.T) {
	got := BuildPrompt("what does this error mean?", "U12345", "C99999", "coding", "")

	for _, want := range []string{"<@U12345>", "#coding", "what does this error mean?", ".outbox/"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuildPromptDM(t *testing.T) {
	got := BuildPrompt("hello", "U12345", "D99999", "", "")

	if !strings.Contains(got, "DM") {
		t.Errorf("prompt missing DM marker:\n%s", got)
	}
	if strings.Contains(got, "#") {
		t.Errorf("DM prompt carries a channel marker:\n%s", got)
	}
}

func TestBuildPromptUnnamedChannelFallsBackToID(t *testing.T) {
	got := BuildPrompt("hi", "U1", "C42", "", "")
	if !strings.Contains(got, "C42") {
		t.Errorf("prompt missing channel id fallback:\n%s", got)
	}
}

func TestBuildPromptIncludesFileNote(t *testing.T) {
	note := "[User uploaded files:\n  report.pdf (1.0 KB) → /work/report.pdf]"
	got := BuildPrompt("analyze this", "U12345", "C99999", "coding", note)

	if !strings.Contains(got, "report.pdf") {
		t.Errorf("prompt missing file name:\n%s", got)
	}
	if !strings.Contains(got, "uploaded") {
		t.Errorf("prompt missing upload note:\n%s", got)
	}
}

func TestSummonPrompt(t *testing.T) {
	got := summonPrompt("U777", "beta", "infra", "Use Redis here")

	want := "[<@U777> summoned you by reacting with :beta: to this message in #infra]\nUse Redis here"
	if got != want {
		t.Errorf("summonPrompt = %q, want %q", got, want)
	}
}

func TestRoundtablePrompt(t *testing.T) {
	got := roundtablePrompt("What is caching?", "alpha", []string{"alpha", "beta"})

	for _, want := range []string{
		"[ROUNDTABLE MODE]",
		"alpha, beta",
		"You are alpha",
		`"[PASS]"`,
		"What is caching?",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("roundtable prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBatchPrompt(t *testing.T) {
	got := batchPrompt([]string{"first", "second", "third"})
	if got != "first\n\nsecond\n\nthird" {
		t.Errorf("batchPrompt = %q", got)
	}
}

func TestIsPass(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"[PASS]", true},
		{"  [pass]  ", true},
		{"[PASS] nothing to add from me", true},
		{"", true},
		{"   ", true},
		{"I'd use a write-through cache here.", false},
		{"passing thoughts on caching", false},
	}
	for _, tt := range tests {
		if got := isPass(tt.text); got != tt.want {
			t.Errorf("isPass(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
