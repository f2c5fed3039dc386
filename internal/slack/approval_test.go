package slack

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/hooks"
)

var approvalActionRe = regexp.MustCompile(`approval_([0-9a-f]{8})_`)

// approvalHarness wires an Approvals surface over a mock client and
// captures each posted button message and each resolution edit.
type approvalHarness struct {
	surface *Approvals
	posted  chan string // blocks JSON of each button post

	mu      sync.Mutex
	updates []string // text of each chat.update
}

func newApprovalHarness(t *testing.T, defaultTimeout time.Duration) *approvalHarness {
	t.Helper()
	h := &approvalHarness{posted: make(chan string, 4)}
	mock := &MockClient{
		PostMessageContextFunc: func(ctx context.Context, channel string, opts ...slack.MsgOption) (string, string, error) {
			_, values, err := slack.ApplyMsgOptions("xoxb-test", channel, "https://slack.com/api/", opts...)
			if err != nil {
				return "", "", err
			}
			h.posted <- values.Get("blocks")
			return channel, "100.200", nil
		},
		UpdateMessageContextFunc: func(ctx context.Context, channel, ts string, opts ...slack.MsgOption) (string, string, string, error) {
			_, values, err := slack.ApplyMsgOptions("xoxb-test", channel, "https://slack.com/api/", opts...)
			if err != nil {
				return "", "", "", err
			}
			h.mu.Lock()
			h.updates = append(h.updates, values.Get("text"))
			h.mu.Unlock()
			return channel, ts, "", nil
		},
	}
	h.surface = NewApprovals(mock, defaultTimeout, testLogger())
	return h
}

func (h *approvalHarness) nextPost(t *testing.T) (blocks, correlation string) {
	t.Helper()
	select {
	case blocks = <-h.posted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for approval post")
	}
	m := approvalActionRe.FindStringSubmatch(blocks)
	if m == nil {
		t.Fatalf("no approval action id in blocks: %s", blocks)
	}
	return blocks, m[1]
}

func (h *approvalHarness) lastUpdate() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.updates) == 0 {
		return ""
	}
	return h.updates[len(h.updates)-1]
}

type approvalOutcome struct {
	choice string
	err    error
}

func requestAsync(ctx context.Context, bound hooks.Approval, req hooks.ApprovalRequest) chan approvalOutcome {
	out := make(chan approvalOutcome, 1)
	go func() {
		choice, err := bound.RequestApproval(ctx, req)
		out <- approvalOutcome{choice, err}
	}()
	return out
}

func TestApprovalResolvedByClick(t *testing.T) {
	h := newApprovalHarness(t, time.Minute)
	bound := h.surface.Bind("C1", "1.1")

	result := requestAsync(context.Background(), bound, hooks.ApprovalRequest{
		Prompt:  "Run the deploy script?",
		Options: []string{"Allow", "Deny"},
		Default: "Deny",
	})

	_, correlation := h.nextPost(t)
	if !h.surface.Resolve("approval_"+correlation+"_Allow", "Allow") {
		t.Fatal("Resolve() = false for a pending approval")
	}

	got := <-result
	if got.err != nil {
		t.Fatalf("RequestApproval() error = %v", got.err)
	}
	if got.choice != "Allow" {
		t.Errorf("choice = %q, want Allow", got.choice)
	}
	if update := h.lastUpdate(); !strings.Contains(update, "*Selected: Allow*") {
		t.Errorf("resolution edit = %q, want Selected marker", update)
	}
	if strings.Contains(h.lastUpdate(), "(default)") {
		t.Error("explicit click should not be marked as default")
	}
}

func TestApprovalTimeoutUsesDefault(t *testing.T) {
	h := newApprovalHarness(t, time.Minute)
	bound := h.surface.Bind("C1", "")

	result := requestAsync(context.Background(), bound, hooks.ApprovalRequest{
		Prompt:  "Proceed?",
		Options: []string{"Yes", "No"},
		Default: "No",
		Timeout: 25 * time.Millisecond,
	})
	h.nextPost(t)

	got := <-result
	if got.err != nil {
		t.Fatalf("RequestApproval() error = %v", got.err)
	}
	if got.choice != "No" {
		t.Errorf("choice = %q, want the default", got.choice)
	}
	if update := h.lastUpdate(); !strings.Contains(update, "*Selected: No (default)*") {
		t.Errorf("timeout edit = %q, want default marker", update)
	}
}

func TestApprovalContextCanceled(t *testing.T) {
	h := newApprovalHarness(t, time.Minute)
	bound := h.surface.Bind("C1", "")

	ctx, cancel := context.WithCancel(context.Background())
	result := requestAsync(ctx, bound, hooks.ApprovalRequest{
		Prompt:  "Proceed?",
		Options: []string{"Yes", "No"},
		Default: "No",
	})
	h.nextPost(t)
	cancel()

	got := <-result
	if got.err == nil {
		t.Fatal("expected context error")
	}
	if got.choice != "No" {
		t.Errorf("choice = %q, want the default on cancellation", got.choice)
	}
}

func TestApprovalConcurrentRequestsDontCross(t *testing.T) {
	h := newApprovalHarness(t, time.Minute)
	first := requestAsync(context.Background(), h.surface.Bind("C1", "1.1"), hooks.ApprovalRequest{
		Prompt:  "first",
		Options: []string{"Allow", "Deny"},
		Default: "Deny",
	})
	_, firstID := h.nextPost(t)

	second := requestAsync(context.Background(), h.surface.Bind("C2", "2.2"), hooks.ApprovalRequest{
		Prompt:  "second",
		Options: []string{"Allow", "Deny"},
		Default: "Deny",
	})
	_, secondID := h.nextPost(t)

	if firstID == secondID {
		t.Fatalf("correlation ids collided: %s", firstID)
	}
	if got := h.surface.PendingCount(); got != 2 {
		t.Errorf("PendingCount() = %d, want 2", got)
	}

	// Resolve in reverse order; each request must get its own answer.
	if !h.surface.Resolve("approval_"+secondID+"_Deny", "Deny") {
		t.Fatal("Resolve(second) = false")
	}
	if !h.surface.Resolve("approval_"+firstID+"_Allow", "Allow") {
		t.Fatal("Resolve(first) = false")
	}

	if got := <-first; got.choice != "Allow" {
		t.Errorf("first choice = %q, want Allow", got.choice)
	}
	if got := <-second; got.choice != "Deny" {
		t.Errorf("second choice = %q, want Deny", got.choice)
	}
}

func TestApprovalSecondClickLoses(t *testing.T) {
	h := newApprovalHarness(t, time.Minute)
	bound := h.surface.Bind("C1", "")

	result := requestAsync(context.Background(), bound, hooks.ApprovalRequest{
		Prompt:  "Proceed?",
		Options: []string{"Allow", "Deny"},
		Default: "Deny",
	})
	_, correlation := h.nextPost(t)

	if !h.surface.Resolve("approval_"+correlation+"_Allow", "Allow") {
		t.Fatal("first click should resolve")
	}
	if got := <-result; got.choice != "Allow" {
		t.Fatalf("choice = %q", got.choice)
	}
	if h.surface.Resolve("approval_"+correlation+"_Deny", "Deny") {
		t.Error("second click should lose")
	}
}

func TestApprovalResolveIgnoresForeignActions(t *testing.T) {
	h := newApprovalHarness(t, time.Minute)
	if h.surface.Resolve("some_other_button", "x") {
		t.Error("non-approval action id should not resolve")
	}
	if h.surface.Resolve("approval_deadbeef_Allow", "Allow") {
		t.Error("unknown correlation should not resolve")
	}
}

func TestApprovalRequiresOptions(t *testing.T) {
	h := newApprovalHarness(t, time.Minute)
	bound := h.surface.Bind("C1", "")
	if _, err := bound.RequestApproval(context.Background(), hooks.ApprovalRequest{Prompt: "p"}); err == nil {
		t.Fatal("expected error for empty options")
	}
}

func TestBuildApprovalBlocksStyles(t *testing.T) {
	blocks := buildApprovalBlocks("abcd1234", hooks.ApprovalRequest{
		Prompt:  "Choose",
		Options: []string{"Allow", "deny", "Maybe"},
	})
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want prompt section + action block", len(blocks))
	}
	actions, ok := blocks[1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("blocks[1] is %T, want *slack.ActionBlock", blocks[1])
	}
	elems := actions.Elements.ElementSet
	if len(elems) != 3 {
		t.Fatalf("len(elements) = %d", len(elems))
	}

	wantStyles := []slack.Style{slack.StylePrimary, slack.StyleDanger, ""}
	wantIDs := []string{"approval_abcd1234_Allow", "approval_abcd1234_deny", "approval_abcd1234_Maybe"}
	for i, el := range elems {
		button, ok := el.(*slack.ButtonBlockElement)
		if !ok {
			t.Fatalf("element %d is %T", i, el)
		}
		if button.Style != wantStyles[i] {
			t.Errorf("button %d style = %q, want %q", i, button.Style, wantStyles[i])
		}
		if button.ActionID != wantIDs[i] {
			t.Errorf("button %d action id = %q, want %q", i, button.ActionID, wantIDs[i])
		}
		if button.Value != []string{"Allow", "deny", "Maybe"}[i] {
			t.Errorf("button %d value = %q", i, button.Value)
		}
	}
}
