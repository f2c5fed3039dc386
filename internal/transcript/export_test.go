package transcript

import (
	"testing"

	"github.com/troupehq/troupe/pkg/models"
)

func seedTranscript(t *testing.T, store *Store, instance, conv string, texts ...string) {
	t.Helper()
	w, err := store.Open(instance, conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()
	for _, text := range texts {
		if err := w.Append(models.UserMessage(text)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestExportAllBundlesConversations(t *testing.T) {
	store := newTestStore(t)
	seedTranscript(t, store, "alpha", "C1:100.1", "first", "second")
	seedTranscript(t, store, "alpha", "dm:U9", "hello")
	seedTranscript(t, store, "review-bot", "C2:300.5", "check this")

	entries, err := store.ExportAll([]string{"alpha", "review-bot", "review"})
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	byConv := map[string]ExportEntry{}
	for _, e := range entries {
		byConv[e.Conversation] = e
	}

	thread, ok := byConv["C1:100.1"]
	if !ok {
		t.Fatalf("missing C1:100.1 entry, got %+v", entries)
	}
	if thread.Instance != "alpha" {
		t.Fatalf("instance = %q, want alpha", thread.Instance)
	}
	if len(thread.Messages) != 2 || thread.Messages[0].Content != "first" {
		t.Fatalf("unexpected messages: %+v", thread.Messages)
	}

	// Longest instance name wins the prefix match.
	review, ok := byConv["C2:300.5"]
	if !ok || review.Instance != "review-bot" {
		t.Fatalf("expected review-bot to claim its stem, got %+v", byConv)
	}

	dm := byConv["dm:U9"]
	if dm.Instance != "alpha" || len(dm.Messages) != 1 {
		t.Fatalf("unexpected dm entry: %+v", dm)
	}
}

func TestExportAllUnknownInstanceKeepsFileOnly(t *testing.T) {
	store := newTestStore(t)
	seedTranscript(t, store, "ghost", "C1:1.1", "msg")

	entries, err := store.ExportAll([]string{"alpha"})
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Instance != "" || e.Conversation != "" {
		t.Fatalf("expected unmatched stem to keep empty split, got %+v", e)
	}
	if e.File == "" || len(e.Messages) != 1 {
		t.Fatalf("expected file name and messages, got %+v", e)
	}
}

func TestExportAllEmptyStore(t *testing.T) {
	store := newTestStore(t)
	entries, err := store.ExportAll(nil)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
