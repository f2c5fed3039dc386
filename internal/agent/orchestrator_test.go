package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/troupehq/troupe/internal/hooks"
	"github.com/troupehq/troupe/pkg/models"
)

// scriptedProvider replays canned chunk sequences, one per Complete call,
// and records every request it saw.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]*CompletionChunk
	requests []*CompletionRequest
	err      error
	onTurn   func(turn int)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	turn := len(p.requests)
	p.requests = append(p.requests, req)
	var chunks []*CompletionChunk
	if turn < len(p.turns) {
		chunks = p.turns[turn]
	}
	onTurn := p.onTurn
	err := p.err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if onTurn != nil {
		onTurn(turn)
	}

	out := make(chan *CompletionChunk, len(chunks)+1)
	for _, c := range chunks {
		out <- c
	}
	out <- &CompletionChunk{Done: true}
	close(out)
	return out, nil
}

func (p *scriptedProvider) request(t *testing.T, turn int) *CompletionRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if turn >= len(p.requests) {
		t.Fatalf("provider saw %d requests, want at least %d", len(p.requests), turn+1)
	}
	return p.requests[turn]
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textChunk(s string) *CompletionChunk { return &CompletionChunk{Text: s} }

func callChunk(id, name, args string) *CompletionChunk {
	return &CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(args)}}
}

// stubTool records its invocations and answers with a fixed or computed
// result.
type stubTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, args json.RawMessage) (*ToolResult, error)

	mu    sync.Mutex
	calls []json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }

func (s *stubTool) Schema() json.RawMessage {
	if s.schema != "" {
		return json.RawMessage(s.schema)
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return &ToolResult{Content: "ok"}, nil
}

func (s *stubTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// eventRecorder is a concurrency-safe ProgressSink.
type eventRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *eventRecorder) sink(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) first(kind models.ProgressKind) (models.ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return models.ProgressEvent{}, false
}

func (r *eventRecorder) count(kind models.ProgressKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, provider Provider, tools []Tool, opts Options) (*Orchestrator, *models.History, *hooks.Coordinator) {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	coord := hooks.NewCoordinator("alpha:C1:1.1", discardLogger())
	hist := models.NewHistory(nil)
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return New(provider, registry, coord, hist, opts), hist, coord
}

func TestExecuteTextOnly(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{textChunk("Hello"), textChunk(", world.")},
	}}
	orch, hist, _ := newTestOrchestrator(t, provider, nil, Options{})
	rec := &eventRecorder{}

	got, err := orch.Execute(context.Background(), "greet me", rec.sink)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "Hello, world." {
		t.Errorf("text = %q, want %q", got, "Hello, world.")
	}

	complete, ok := rec.first(models.ProgressComplete)
	if !ok {
		t.Fatal("no complete event emitted")
	}
	if complete.Status != models.RunStatusOK {
		t.Errorf("complete status = %q, want %q", complete.Status, models.RunStatusOK)
	}
	if n := rec.count(models.ProgressContentDelta); n != 2 {
		t.Errorf("content delta count = %d, want 2", n)
	}

	msgs := hist.Messages()
	if len(msgs) != 2 {
		t.Fatalf("history has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("history roles = %s, %s; want user, assistant", msgs[0].Role, msgs[1].Role)
	}
}

func TestExecuteToolRoundTrip(t *testing.T) {
	echo := &stubTool{name: "echo", execute: func(_ context.Context, args json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "echoed " + string(args)}, nil
	}}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{textChunk("First "), callChunk("tc_1", "echo", `{"text":"hi"}`)},
		{textChunk("Second")},
	}}
	orch, hist, _ := newTestOrchestrator(t, provider, []Tool{echo}, Options{})
	rec := &eventRecorder{}

	got, err := orch.Execute(context.Background(), "run the tool", rec.sink)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "First Second" {
		t.Errorf("text = %q, want %q", got, "First Second")
	}
	if echo.callCount() != 1 {
		t.Errorf("tool ran %d times, want 1", echo.callCount())
	}

	msgs := hist.Messages()
	if len(msgs) != 4 {
		t.Fatalf("history has %d messages, want 4", len(msgs))
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Name != "echo" {
		t.Errorf("assistant message missing echo tool call: %+v", msgs[1].ToolCalls)
	}
	if msgs[2].Role != models.RoleTool || len(msgs[2].ToolResults) != 1 {
		t.Fatalf("third message = %+v, want tool results", msgs[2])
	}
	if res := msgs[2].ToolResults[0]; res.ToolCallID != "tc_1" || !strings.Contains(res.Content, "echoed") {
		t.Errorf("tool result = %+v", res)
	}

	// The second request must replay the full context including results.
	second := provider.request(t, 1)
	if len(second.Messages) != 3 {
		t.Errorf("second request has %d messages, want 3", len(second.Messages))
	}

	start, ok := rec.first(models.ProgressToolStart)
	if !ok {
		t.Fatal("no tool:start event")
	}
	if start.Tool != "echo" || start.ToolCallID != "tc_1" {
		t.Errorf("tool:start = %+v", start)
	}
	end, ok := rec.first(models.ProgressToolEnd)
	if !ok {
		t.Fatal("no tool:end event")
	}
	if end.IsError {
		t.Errorf("tool:end reports error: %+v", end)
	}
}

func TestForceRespondPresentsNoTools(t *testing.T) {
	worker := &stubTool{name: "dispatch_worker", execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "queued task-1"}, nil
	}}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{callChunk("tc_1", "dispatch_worker", `{"task":"research"}`)},
		{textChunk("Task queued, I'll report back.")},
	}}
	orch, _, _ := newTestOrchestrator(t, provider, []Tool{worker}, Options{
		ForceRespondTools: []string{"dispatch_worker"},
	})

	got, err := orch.Execute(context.Background(), "go research", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "Task queued") {
		t.Errorf("text = %q", got)
	}

	if tools := provider.request(t, 0).Tools; len(tools) == 0 {
		t.Error("first request should offer tools")
	}
	if tools := provider.request(t, 1).Tools; tools != nil {
		t.Errorf("force-respond request offered %d tools, want none", len(tools))
	}
	if n := provider.requestCount(); n != 2 {
		t.Errorf("provider saw %d requests, want 2", n)
	}
}

func TestInjectionPreventsPrematureExit(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{textChunk("Initial answer.")},
		{textChunk(" Updated.")},
	}}
	orch, _, _ := newTestOrchestrator(t, provider, nil, Options{})
	provider.onTurn = func(turn int) {
		if turn == 0 {
			orch.Inject("also check the tests")
		}
	}
	rec := &eventRecorder{}

	got, err := orch.Execute(context.Background(), "check the build", rec.sink)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "Initial answer. Updated." {
		t.Errorf("text = %q", got)
	}

	applied, ok := rec.first(models.ProgressInjectionApplied)
	if !ok {
		t.Fatal("no injection:applied event")
	}
	if applied.Count != 1 {
		t.Errorf("injected count = %d, want 1", applied.Count)
	}

	second := provider.request(t, 1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != models.RoleUser {
		t.Fatalf("last message role = %s, want user", last.Role)
	}
	want := "[The user sent additional messages while you were working. Incorporate this into your current task:]\n- also check the tests"
	if last.Content != want {
		t.Errorf("injected message = %q, want %q", last.Content, want)
	}
}

func TestInjectionDuringToolExecution(t *testing.T) {
	var orch *Orchestrator
	tool := &stubTool{name: "slow", execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
		orch.Inject("new requirement")
		return &ToolResult{Content: "done"}, nil
	}}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{callChunk("tc_1", "slow", `{}`)},
		{textChunk("Finished with the new requirement.")},
	}}
	var hist *models.History
	orch, hist, _ = newTestOrchestrator(t, provider, []Tool{tool}, Options{})

	if _, err := orch.Execute(context.Background(), "do the thing", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The injected message must land after the tool results and before
	// the next provider turn.
	msgs := hist.Messages()
	var injectedIdx, resultsIdx int
	for i, m := range msgs {
		if m.Role == models.RoleTool {
			resultsIdx = i
		}
		if m.Role == models.RoleUser && strings.Contains(m.Content, "new requirement") {
			injectedIdx = i
		}
	}
	if injectedIdx == 0 || resultsIdx == 0 || injectedIdx < resultsIdx {
		t.Errorf("injected message at %d, tool results at %d; want injection after results", injectedIdx, resultsIdx)
	}
}

func TestCancelDiscardsInFlightResults(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{textChunk("should be discarded")},
	}}
	orch, hist, _ := newTestOrchestrator(t, provider, nil, Options{})
	provider.onTurn = func(turn int) { orch.Cancel() }
	rec := &eventRecorder{}

	got, err := orch.Execute(context.Background(), "long task", rec.sink)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "" {
		t.Errorf("cancelled run returned %q, want empty", got)
	}

	complete, ok := rec.first(models.ProgressComplete)
	if !ok {
		t.Fatal("no complete event")
	}
	if complete.Status != models.RunStatusCancelled {
		t.Errorf("status = %q, want cancelled", complete.Status)
	}

	// The in-flight response ran to completion but never joined the
	// context.
	for _, m := range hist.Messages() {
		if m.Role == models.RoleAssistant {
			t.Errorf("discarded assistant message was appended: %+v", m)
		}
	}
}

func TestCancelKeepsAccumulatedText(t *testing.T) {
	echo := &stubTool{name: "echo"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{textChunk("Partial progress. "), callChunk("tc_1", "echo", `{}`)},
		{textChunk("never seen")},
	}}
	orch, _, _ := newTestOrchestrator(t, provider, []Tool{echo}, Options{})
	provider.onTurn = func(turn int) {
		if turn == 1 {
			orch.Cancel()
		}
	}

	got, err := orch.Execute(context.Background(), "work", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "Partial progress. " {
		t.Errorf("text = %q, want first iteration's text only", got)
	}
}

func TestIterationCapReturnsPartialText(t *testing.T) {
	echo := &stubTool{name: "echo"}
	turn := []*CompletionChunk{textChunk("x"), callChunk("tc", "echo", `{}`)}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{turn, turn, turn}}
	orch, _, _ := newTestOrchestrator(t, provider, []Tool{echo}, Options{MaxIterations: 3})
	rec := &eventRecorder{}

	got, err := orch.Execute(context.Background(), "loop forever", rec.sink)
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("err = %v, want ErrMaxIterations", err)
	}
	if got != "xxx" {
		t.Errorf("partial text = %q, want %q", got, "xxx")
	}
	if n := provider.requestCount(); n != 3 {
		t.Errorf("provider saw %d requests, want 3", n)
	}
	if _, ok := rec.first(models.ProgressError); !ok {
		t.Error("no error event emitted")
	}

	var loopErr *LoopError
	if !errors.As(err, &loopErr) {
		t.Fatalf("err type = %T", err)
	}
	if loopErr.Iteration != 3 {
		t.Errorf("LoopError iteration = %d, want 3", loopErr.Iteration)
	}
}

func TestProviderErrorSurfaces(t *testing.T) {
	boom := errors.New("upstream unavailable")
	provider := &scriptedProvider{err: boom}
	orch, _, _ := newTestOrchestrator(t, provider, nil, Options{})
	rec := &eventRecorder{}

	_, err := orch.Execute(context.Background(), "hello", rec.sink)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	var loopErr *LoopError
	if !errors.As(err, &loopErr) || loopErr.Phase != PhaseProvider {
		t.Errorf("err = %#v, want provider phase LoopError", err)
	}
	if _, ok := rec.first(models.ProgressError); !ok {
		t.Error("no error event emitted")
	}
}

func TestPreHookDenyDropsToolCall(t *testing.T) {
	echo := &stubTool{name: "echo"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{callChunk("tc_1", "echo", `{}`)},
		{textChunk("Understood, skipping that.")},
	}}
	orch, hist, coord := newTestOrchestrator(t, provider, []Tool{echo}, Options{})
	coord.On(hooks.EventToolPre, func(context.Context, *hooks.Event) hooks.Result {
		return hooks.Deny("not allowed in this channel")
	})

	got, err := orch.Execute(context.Background(), "run echo", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "skipping") {
		t.Errorf("text = %q", got)
	}
	if echo.callCount() != 0 {
		t.Errorf("denied tool ran %d times", echo.callCount())
	}

	var result models.ToolResult
	for _, m := range hist.Messages() {
		if m.Role == models.RoleTool && len(m.ToolResults) > 0 {
			result = m.ToolResults[0]
		}
	}
	if !result.IsError || !strings.Contains(result.Content, "not allowed in this channel") {
		t.Errorf("synthetic result = %+v", result)
	}
}

func TestPromptSubmitDenyAbortsBeforeProvider(t *testing.T) {
	provider := &scriptedProvider{}
	orch, hist, coord := newTestOrchestrator(t, provider, nil, Options{})
	coord.On(hooks.EventPromptSubmit, func(context.Context, *hooks.Event) hooks.Result {
		return hooks.Deny("quota exceeded")
	})

	_, err := orch.Execute(context.Background(), "hello", nil)
	if !errors.Is(err, ErrHookDenied) {
		t.Fatalf("err = %v, want ErrHookDenied", err)
	}
	if provider.requestCount() != 0 {
		t.Errorf("provider saw %d requests, want 0", provider.requestCount())
	}
	if hist.Len() != 0 {
		t.Errorf("history has %d messages, want 0", hist.Len())
	}
}

func TestStaleInjectionsClearedBetweenExecutions(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{textChunk("first run")},
		{textChunk("second run")},
	}}
	orch, _, _ := newTestOrchestrator(t, provider, nil, Options{})

	if _, err := orch.Execute(context.Background(), "one", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	orch.Inject("leftover between runs")
	if _, err := orch.Execute(context.Background(), "two", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	for _, req := range provider.requests {
		for _, m := range req.Messages {
			if strings.Contains(m.Content, "leftover between runs") {
				t.Fatal("stale injection leaked into a later execution")
			}
		}
	}
}
