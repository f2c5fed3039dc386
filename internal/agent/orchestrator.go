// Package agent implements the conversation loop: it drives an LLM and a
// tool registry to a terminal text response while accepting mid-flight
// steering messages, cooperative cancellation, and tool-triggered
// force-respond turns.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/hooks"
	"github.com/troupehq/troupe/pkg/models"
)

// ProgressSink receives loop progress events. Sinks must not block; the
// loop emits inline and delivery is best-effort. During a parallel tool
// batch the sink is called from multiple goroutines.
type ProgressSink func(models.ProgressEvent)

// Conversation is the mutable message context the loop reads and extends.
// *models.History satisfies it; the session layer wraps it with transcript
// persistence.
type Conversation interface {
	Messages() []models.Message
	Append(models.Message)
}

// Options tunes one orchestrator.
type Options struct {
	// Model and System are passed through to the provider on every call.
	Model  string
	System string

	// MaxTokens bounds each response. Zero uses the provider default.
	MaxTokens int

	// MaxIterations caps loop turns before a forced error exit.
	// Defaults to 40.
	MaxIterations int

	// ForceRespondTools names tools that trip the one-shot no-tools turn
	// after they run.
	ForceRespondTools []string

	// MaxParallelTools bounds concurrent tool execution per batch.
	// Defaults to 5.
	MaxParallelTools int

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 40
	}
	if o.MaxParallelTools <= 0 {
		o.MaxParallelTools = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Orchestrator drives one session's agent loop. Execute is serialized by
// the session mutex above it; Inject and Cancel may be called from any
// goroutine while Execute runs.
type Orchestrator struct {
	provider Provider
	registry *Registry
	hooks    *hooks.Coordinator
	conv     Conversation
	queue    *InjectionQueue
	opts     Options
	force    map[string]struct{}
	logger   *slog.Logger

	mu     sync.Mutex
	cancel *CancelToken
}

// New builds an orchestrator over a provider, tool registry, hook
// coordinator, and conversation context.
func New(provider Provider, registry *Registry, coord *hooks.Coordinator, conv Conversation, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	force := make(map[string]struct{}, len(opts.ForceRespondTools))
	for _, name := range opts.ForceRespondTools {
		force[name] = struct{}{}
	}
	return &Orchestrator{
		provider: provider,
		registry: registry,
		hooks:    coord,
		conv:     conv,
		queue:    NewInjectionQueue(),
		opts:     opts,
		force:    force,
		logger:   opts.Logger.With("component", "agent"),
	}
}

// Registry exposes the tool registry for session-level mounting.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Inject queues a steering message for the running execution. The next
// drain point folds all pending messages into one synthesized user
// message.
func (o *Orchestrator) Inject(text string) {
	o.queue.Push(text)
}

// PendingInjections reports the live steering-queue depth. The status
// renderer shows it as "N message(s) queued".
func (o *Orchestrator) PendingInjections() int {
	return o.queue.Len()
}

// TakeInjections drains messages that were injected after the loop's last
// queue check. The caller folds them into a follow-up turn; left queued,
// they would be cleared at the next Execute.
func (o *Orchestrator) TakeInjections() []string {
	return o.queue.Drain()
}

// Cancel trips the current execution's token. In-flight provider or tool
// calls run to completion; their results are discarded and the loop exits
// with the text accumulated so far.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	token := o.cancel
	o.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
}

// beginExecution installs a fresh cancellation token and drops any
// steering messages left over from a previous run.
func (o *Orchestrator) beginExecution() *CancelToken {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancel = NewCancelToken()
	o.queue.Clear()
	return o.cancel
}

// Execute drives the loop for one prompt and returns the accumulated
// response text. On cancellation it returns whatever text accumulated with
// a nil error. On iteration-cap exhaustion it returns the partial text
// alongside the error.
func (o *Orchestrator) Execute(ctx context.Context, prompt string, sink ProgressSink) (string, error) {
	emit := func(ev models.ProgressEvent) {
		if sink != nil {
			sink(ev)
		}
	}
	token := o.beginExecution()

	if res := o.hooks.Fire(ctx, &hooks.Event{Type: hooks.EventPromptSubmit, Prompt: prompt}); res.Action == hooks.ActionDeny {
		return "", &LoopError{Phase: PhasePrompt, Err: fmt.Errorf("%w: %s", ErrHookDenied, res.Reason)}
	}

	o.conv.Append(models.UserMessage(prompt))

	var out strings.Builder
	forceRespond := false

	for iteration := 1; iteration <= o.opts.MaxIterations; iteration++ {
		if token.Cancelled() {
			return o.finishCancelled(emit, iteration, out.String())
		}

		o.applyInjections(ctx, emit, iteration)

		emit(models.ProgressEvent{Kind: models.ProgressThinking, Iteration: iteration})

		var tools []Tool
		if forceRespond {
			forceRespond = false // one-shot
		} else {
			tools = o.registry.Tools()
		}

		if res := o.hooks.Fire(ctx, &hooks.Event{Type: hooks.EventProviderRequest, Prompt: prompt, Count: iteration}); res.Action == hooks.ActionDeny {
			return out.String(), &LoopError{Phase: PhaseProvider, Iteration: iteration, Err: fmt.Errorf("%w: %s", ErrHookDenied, res.Reason)}
		}

		if token.Cancelled() {
			return o.finishCancelled(emit, iteration, out.String())
		}

		text, calls, err := o.callProvider(ctx, tools, emit, iteration)
		if err != nil {
			emit(models.ProgressEvent{Kind: models.ProgressError, Iteration: iteration, Err: err})
			return "", &LoopError{Phase: PhaseProvider, Iteration: iteration, Err: err}
		}

		if token.Cancelled() {
			// The call ran to completion; its results are dropped.
			return o.finishCancelled(emit, iteration, out.String())
		}

		assistant := models.AssistantMessage(text)
		assistant.ToolCalls = calls
		o.conv.Append(assistant)
		out.WriteString(text)

		if len(calls) == 0 {
			if o.queue.Len() > 0 {
				// The user spoke while the model was answering; keep
				// going instead of exiting on a stale response.
				o.applyInjections(ctx, emit, iteration)
				continue
			}
			emit(models.ProgressEvent{Kind: models.ProgressComplete, Iteration: iteration, Status: models.RunStatusOK})
			return out.String(), nil
		}

		results := o.runTools(ctx, calls, emit, iteration)
		for _, call := range calls {
			if _, ok := o.force[call.Name]; ok {
				forceRespond = true
			}
		}
		o.conv.Append(models.Message{Role: models.RoleTool, ToolResults: results, CreatedAt: time.Now().UTC()})

		o.applyInjections(ctx, emit, iteration)
	}

	emit(models.ProgressEvent{Kind: models.ProgressError, Iteration: o.opts.MaxIterations, Err: ErrMaxIterations})
	return out.String(), &LoopError{Phase: PhaseLoop, Iteration: o.opts.MaxIterations, Err: ErrMaxIterations}
}

func (o *Orchestrator) finishCancelled(emit func(models.ProgressEvent), iteration int, text string) (string, error) {
	o.logger.Info("execution cancelled", "iteration", iteration)
	emit(models.ProgressEvent{Kind: models.ProgressComplete, Iteration: iteration, Status: models.RunStatusCancelled})
	return text, nil
}

// applyInjections drains the steering queue into a synthesized user
// message. No-op when the queue is empty.
func (o *Orchestrator) applyInjections(ctx context.Context, emit func(models.ProgressEvent), iteration int) {
	msgs := o.queue.Drain()
	if len(msgs) == 0 {
		return
	}
	o.conv.Append(models.UserMessage(InjectionMessage(msgs)))
	o.hooks.Fire(ctx, &hooks.Event{Type: hooks.EventInjectionApplied, Count: len(msgs)})
	emit(models.ProgressEvent{Kind: models.ProgressInjectionApplied, Iteration: iteration, Count: len(msgs)})
	o.logger.Debug("applied injected messages", "count", len(msgs))
}

// callProvider issues one completion and folds the stream into final text
// plus tool calls, emitting a content delta per text chunk.
func (o *Orchestrator) callProvider(ctx context.Context, tools []Tool, emit func(models.ProgressEvent), iteration int) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:     o.opts.Model,
		System:    o.opts.System,
		Messages:  o.conv.Messages(),
		Tools:     tools,
		MaxTokens: o.opts.MaxTokens,
	}

	chunks, err := o.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		switch {
		case chunk == nil:
			continue
		case chunk.Error != nil:
			return "", nil, chunk.Error
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			emit(models.ProgressEvent{Kind: models.ProgressContentDelta, Iteration: iteration, Text: chunk.Text})
		case chunk.Done:
			if chunk.InputTokens > 0 || chunk.OutputTokens > 0 {
				o.logger.Debug("provider usage",
					"provider", o.provider.Name(),
					"input_tokens", chunk.InputTokens,
					"output_tokens", chunk.OutputTokens)
			}
		}
	}
	return text.String(), calls, nil
}
