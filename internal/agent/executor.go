package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/hooks"
	"github.com/troupehq/troupe/pkg/models"
)

// runTools executes one iteration's tool calls in parallel, bounded by
// MaxParallelTools. Results come back in call order regardless of
// completion order.
func (o *Orchestrator) runTools(ctx context.Context, calls []models.ToolCall, emit func(models.ProgressEvent), iteration int) []models.ToolResult {
	sem := make(chan struct{}, o.opts.MaxParallelTools)
	results := make([]models.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.runTool(ctx, call, emit, iteration)
		}(i, call)
	}
	wg.Wait()

	return results
}

// runTool drives one call through its full lifecycle: start event,
// pre-hook, execution, post-hook, end event. A pre-hook denial replaces
// execution with a synthetic error result; the loop carries on either way.
func (o *Orchestrator) runTool(ctx context.Context, call models.ToolCall, emit func(models.ProgressEvent), iteration int) models.ToolResult {
	start := models.ProgressEvent{
		Kind:       models.ProgressToolStart,
		Iteration:  iteration,
		Tool:       call.Name,
		ToolCallID: call.ID,
		ArgsDigest: digestArgs(call.Input),
	}
	switch call.Name {
	case "delegate":
		start.Agent = delegateAgent(call.Input)
	case "todo":
		start.Todos = todosFromArgs(call.Input)
	}
	emit(start)

	began := time.Now()
	var res *ToolResult

	pre := o.hooks.Fire(ctx, &hooks.Event{
		Type:       hooks.EventToolPre,
		Tool:       call.Name,
		ToolCallID: call.ID,
		Args:       call.Input,
	})
	if pre.Action == hooks.ActionDeny {
		reason := pre.Reason
		if reason == "" {
			reason = "denied"
		}
		res = ErrorResult(fmt.Sprintf("tool call denied: %s", reason))
	} else {
		res = o.executeGuarded(ctx, call)
	}

	o.hooks.Fire(ctx, &hooks.Event{
		Type:       hooks.EventToolPost,
		Tool:       call.Name,
		ToolCallID: call.ID,
		Args:       call.Input,
		Output:     res.Content,
		IsError:    res.IsError,
	})

	end := models.ProgressEvent{
		Kind:       models.ProgressToolEnd,
		Iteration:  iteration,
		Tool:       call.Name,
		ToolCallID: call.ID,
		Duration:   time.Since(began),
		IsError:    res.IsError,
	}
	if call.Name == "todo" && !res.IsError {
		if todos := todosFromResult(call.Input, res.Content); len(todos) > 0 {
			end.Todos = todos
		} else if todos := todosFromArgs(call.Input); len(todos) > 0 {
			end.Todos = todos
		}
	}
	emit(end)

	return models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: res.IsError}
}

// executeGuarded runs the registry call with panic containment. A
// panicking tool becomes an error result instead of taking the session
// down.
func (o *Orchestrator) executeGuarded(ctx context.Context, call models.ToolCall) (res *ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("tool panicked",
				"tool", call.Name,
				"panic", r,
				"stack", string(debug.Stack()))
			res = ErrorResult(fmt.Sprintf("%s panicked: %v", call.Name, r))
		}
	}()

	out, err := o.registry.Execute(ctx, call.Name, call.Input)
	if err != nil {
		return ErrorResult(fmt.Sprintf("%s failed: %v", call.Name, err))
	}
	if out == nil {
		return &ToolResult{}
	}
	return out
}
