package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/hooks"
)

// approvalActionPrefix namespaces button action ids so the dispatcher can
// route clicks here without knowing about individual requests.
const approvalActionPrefix = "approval_"

// Approvals implements the hooks.Approval back-channel over Block Kit
// buttons. Each request posts one interactive message; the pending map is
// keyed by a correlation id embedded in every button's action id so
// concurrent approvals never cross.
type Approvals struct {
	client         Client
	defaultTimeout time.Duration
	logger         *slog.Logger
	observe        func(outcome string)

	mu      sync.Mutex
	pending map[string]chan string
}

// NewApprovals builds the shared approval surface. defaultTimeout applies
// when a request carries none.
func NewApprovals(client Client, defaultTimeout time.Duration, logger *slog.Logger) *Approvals {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Approvals{
		client:         client,
		defaultTimeout: defaultTimeout,
		logger:         logger.With("component", "approval"),
		pending:        make(map[string]chan string),
	}
}

// Observe registers a callback invoked with "answered" or "timeout" as
// requests resolve. The metrics layer hooks in here.
func (a *Approvals) Observe(fn func(outcome string)) {
	a.observe = fn
}

// Bind scopes the surface to one conversation. The bound value is what
// gets mounted on a session's coordinator.
func (a *Approvals) Bind(channel, threadTS string) hooks.Approval {
	return &boundApprovals{surface: a, channel: channel, threadTS: threadTS}
}

type boundApprovals struct {
	surface  *Approvals
	channel  string
	threadTS string
}

func (b *boundApprovals) RequestApproval(ctx context.Context, req hooks.ApprovalRequest) (string, error) {
	return b.surface.request(ctx, b.channel, b.threadTS, req)
}

func (a *Approvals) request(ctx context.Context, channel, threadTS string, req hooks.ApprovalRequest) (string, error) {
	if len(req.Options) == 0 {
		return "", fmt.Errorf("approval: no options given")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.defaultTimeout
	}

	correlationID := uuid.NewString()[:8]
	done := make(chan string, 1)
	a.mu.Lock()
	a.pending[correlationID] = done
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, correlationID)
		a.mu.Unlock()
	}()

	blocks := buildApprovalBlocks(correlationID, req)
	opts := []slack.MsgOption{
		slack.MsgOptionText(req.Prompt, false),
		slack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := a.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("approval: post buttons: %w", err)
	}

	selected := req.Default
	timedOut := false
	select {
	case choice := <-done:
		selected = choice
		if a.observe != nil {
			a.observe("answered")
		}
	case <-time.After(timeout):
		timedOut = true
		a.logger.Info("approval timed out, using default",
			"correlation", correlationID, "default", req.Default)
		if a.observe != nil {
			a.observe("timeout")
		}
	case <-ctx.Done():
		a.editResolved(channel, ts, req.Prompt, req.Default, false)
		return req.Default, ctx.Err()
	}

	a.editResolved(channel, ts, req.Prompt, selected, timedOut)
	return selected, nil
}

// editResolved replaces the buttons with the outcome. Failing to edit is
// cosmetic; the decision already stands.
func (a *Approvals) editResolved(channel, ts, prompt, selected string, timedOut bool) {
	result := fmt.Sprintf("%s\n\n*Selected: %s*", prompt, selected)
	if timedOut {
		result = fmt.Sprintf("%s\n\n*Selected: %s (default)*", prompt, selected)
	}
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, result, false, false), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, _, err := a.client.UpdateMessageContext(ctx, channel, ts,
		slack.MsgOptionText(result, false), slack.MsgOptionBlocks(section)); err != nil {
		a.logger.Debug("failed to update approval message", "error", err)
	}
}

// Resolve routes a button click to its pending request. Returns false when
// the action is not an approval or the request already resolved.
func (a *Approvals) Resolve(actionID, value string) bool {
	if !strings.HasPrefix(actionID, approvalActionPrefix) {
		return false
	}
	rest := strings.TrimPrefix(actionID, approvalActionPrefix)
	correlationID, _, ok := strings.Cut(rest, "_")
	if !ok {
		return false
	}

	a.mu.Lock()
	done, pending := a.pending[correlationID]
	a.mu.Unlock()
	if !pending {
		return false
	}
	select {
	case done <- value:
		a.logger.Info("approval resolved", "correlation", correlationID, "choice", value)
		return true
	default:
		// A second click lost the race; the first decision stands.
		return false
	}
}

// PendingCount reports outstanding approvals, for inspection.
func (a *Approvals) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func buildApprovalBlocks(correlationID string, req hooks.ApprovalRequest) []slack.Block {
	buttons := make([]slack.BlockElement, 0, len(req.Options))
	for _, option := range req.Options {
		label := slack.NewTextBlockObject(slack.PlainTextType, option, false, false)
		button := slack.NewButtonBlockElement(
			approvalActionPrefix+correlationID+"_"+option, option, label)
		switch strings.ToLower(option) {
		case "allow", "yes", "approve":
			button = button.WithStyle(slack.StylePrimary)
		case "deny", "no", "reject":
			button = button.WithStyle(slack.StyleDanger)
		}
		buttons = append(buttons, button)
	}
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, req.Prompt, false, false), nil, nil),
		slack.NewActionBlock("", buttons...),
	}
}
