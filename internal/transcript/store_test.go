package transcript

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/troupehq/troupe/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	w, err := store.Open("alpha", "C123:1700000000.000100")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	msgs := []models.Message{
		models.UserMessage("deploy the staging branch"),
		{
			Role:      models.RoleAssistant,
			Content:   "Starting deploy.",
			ToolCalls: []models.ToolCall{{ID: "t1", Name: "run_command", Input: json.RawMessage(`{"cmd":"deploy"}`)}},
			CreatedAt: time.Now().UTC(),
		},
		{
			Role:        models.RoleTool,
			ToolResults: []models.ToolResult{{ToolCallID: "t1", Content: "ok"}},
			CreatedAt:   time.Now().UTC(),
		},
	}
	for _, m := range msgs {
		if err := w.Append(m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	loaded, err := store.Load("alpha", "C123:1700000000.000100")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(msgs) {
		t.Fatalf("loaded %d messages, want %d", len(loaded), len(msgs))
	}
	if loaded[0].Role != models.RoleUser || loaded[0].Content != msgs[0].Content {
		t.Errorf("first message = %+v", loaded[0])
	}
	if len(loaded[1].ToolCalls) != 1 || loaded[1].ToolCalls[0].Name != "run_command" {
		t.Errorf("tool call not preserved: %+v", loaded[1])
	}
	if len(loaded[2].ToolResults) != 1 || loaded[2].ToolResults[0].ToolCallID != "t1" {
		t.Errorf("tool result not preserved: %+v", loaded[2])
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	msgs, err := store.Load("alpha", "dm:U999")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty context, got %d messages", len(msgs))
	}
}

func TestLoadSkipsCorruptLines(t *testing.T) {
	store := newTestStore(t)
	path := store.Path("alpha", "dm:U1")

	good1, _ := json.Marshal(models.UserMessage("first"))
	good2, _ := json.Marshal(models.AssistantMessage("second"))
	content := string(good1) + "\n{not json}\n" + string(good2) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	msgs, err := store.Load("alpha", "dm:U1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (corrupt line skipped)", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestPathFlattensSeparators(t *testing.T) {
	store := newTestStore(t)
	path := store.Path("alpha", "summon:beta/../x:1.2")
	base := filepath.Base(path)
	if strings.ContainsRune(base[:len(base)-len(".jsonl")], os.PathSeparator) {
		t.Errorf("path separator leaked into filename: %q", base)
	}
	if !strings.HasPrefix(base, "alpha-") || !strings.HasSuffix(base, ".jsonl") {
		t.Errorf("unexpected filename shape: %q", base)
	}
	if filepath.Dir(path) != store.Dir() {
		t.Errorf("file escaped sessions dir: %q", path)
	}
}

func TestAppendIsAppendOnly(t *testing.T) {
	store := newTestStore(t)

	w, err := store.Open("beta", "dm:U7")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Append(models.UserMessage("one")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Close()

	// Reopening must extend, not truncate.
	w2, err := store.Open("beta", "dm:U7")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w2.Append(models.UserMessage("two")); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	w2.Close()

	msgs, err := store.Load("beta", "dm:U7")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Errorf("append-only violated: %+v", msgs)
	}
}
