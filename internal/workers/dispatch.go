// Package workers implements the background worker subsystem: the
// dispatch_worker tool that hands long-running work to a detached session,
// the TASKS.md ledger those workers report through, and the manager that
// tracks, times out, and cancels them.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/invopop/jsonschema"

	"github.com/troupehq/troupe/internal/agent"
)

// Executor runs worker prompts on their own conversations and queues
// completion notes for the origin conversation. *session.Registry
// implements it.
type Executor interface {
	Execute(ctx context.Context, instance, conversationID, prompt string, sink agent.ProgressSink) (string, error)
	Notify(instance, conversationID, text string) error
}

// dispatchParams is the dispatch_worker argument shape; the schema is
// generated by reflection.
type dispatchParams struct {
	Task    string `json:"task" jsonschema:"description=Complete task description for the worker. Must be self-contained: include all context the worker needs. The worker cannot see this conversation."`
	TaskID  string `json:"task_id" jsonschema:"description=Short identifier for this task (e.g. deck-stain-research). Used in TASKS.md tracking."`
	Context string `json:"context,omitempty" jsonschema:"description=Optional extra background appended below the task."`
}

var (
	dispatchSchemaOnce sync.Once
	dispatchSchema     json.RawMessage
)

// summaryLimit caps the result summary carried into TASKS.md and the
// worker report.
const summaryLimit = 500

// DispatchTool hands a task to a background worker session and returns
// immediately; force-respond closes the loop right after it. The worker
// writes its outcome to the ledger and queues a report for this
// conversation's next execution.
type DispatchTool struct {
	executor Executor
	manager  *Manager
	store    *Store
	instance string
	origin   string
	counter  atomic.Int64
	logger   *slog.Logger
}

// NewDispatchTool creates a dispatch_worker tool bound to one
// conversation. The store is shared per instance; the manager is global.
func NewDispatchTool(executor Executor, manager *Manager, store *Store, instance, originConversation string, logger *slog.Logger) *DispatchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatchTool{
		executor: executor,
		manager:  manager,
		store:    store,
		instance: instance,
		origin:   originConversation,
		logger:   logger.With("component", "workers"),
	}
}

func (t *DispatchTool) Name() string { return "dispatch_worker" }

func (t *DispatchTool) Description() string {
	return "Dispatch a task to a background worker. Use for work that takes more than a few " +
		"seconds. The worker runs independently and writes results to TASKS.md when done. " +
		"IMPORTANT: After calling this tool, respond to the user IMMEDIATELY. Do NOT read " +
		"files, call other tools, or do any more work. Just confirm the dispatch and ask " +
		"what else they need."
}

func (t *DispatchTool) Schema() json.RawMessage {
	dispatchSchemaOnce.Do(func() {
		dispatchSchema = reflectSchema(&dispatchParams{})
	})
	return dispatchSchema
}

func (t *DispatchTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input dispatchParams
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	task := strings.TrimSpace(input.Task)
	taskID := strings.TrimSpace(input.TaskID)
	if task == "" {
		return toolError("task is required"), nil
	}
	if taskID == "" {
		return toolError("task_id is required"), nil
	}

	n := t.counter.Add(1)
	if err := t.store.AddActive(taskID, task); err != nil {
		return toolError(fmt.Sprintf("record task: %v", err)), nil
	}

	prompt := task
	if extra := strings.TrimSpace(input.Context); extra != "" {
		prompt = task + "\n\nContext:\n" + extra
	}
	t.logger.Info("worker dispatched", "task", taskID, "instance", t.instance)
	t.manager.Run(taskID, task, func(ctx context.Context) {
		t.runWorker(ctx, taskID, prompt, n)
	})

	return &agent.ToolResult{Content: fmt.Sprintf(
		"Worker dispatched: %s. TASKS.md updated. STOP. Do NOT call any more tools. "+
			"Respond to the user NOW -- confirm what you dispatched and ask what else they need.",
		taskID)}, nil
}

// runWorker executes the task on its own conversation and reports the
// outcome. The report goes through Notify so it waits for the next
// execution instead of re-opening the loop force-respond just closed.
func (t *DispatchTool) runWorker(ctx context.Context, taskID, prompt string, n int64) {
	conversationID := fmt.Sprintf("worker:%s:%d", taskID, n)
	t.logger.Info("background worker starting", "task", taskID, "conversation", conversationID)

	text, err := t.executor.Execute(ctx, t.instance, conversationID, prompt, nil)

	// Cancelled workers (timeout sweep, shutdown) leave a ledger mark but
	// send no report.
	if ctx.Err() != nil {
		if storeErr := t.store.Fail(taskID, "cancelled"); storeErr != nil {
			t.logger.Warn("ledger update failed", "task", taskID, "error", storeErr)
		}
		t.logger.Info("background worker cancelled", "task", taskID)
		return
	}

	if err != nil {
		t.logger.Error("background worker failed", "task", taskID, "error", err)
		if storeErr := t.store.Fail(taskID, err.Error()); storeErr != nil {
			t.logger.Warn("ledger update failed", "task", taskID, "error", storeErr)
		}
		t.report(fmt.Sprintf("[WORKER REPORT] Task %q FAILED.\nError: %v", taskID, err))
		return
	}

	summary := strings.TrimSpace(text)
	if len([]rune(summary)) > summaryLimit {
		summary = truncateRunes(summary, summaryLimit) + "... [truncated]"
	}
	if storeErr := t.store.Complete(taskID, summary); storeErr != nil {
		t.logger.Warn("ledger update failed", "task", taskID, "error", storeErr)
	}
	t.logger.Info("background worker completed", "task", taskID)
	t.report(fmt.Sprintf("[WORKER REPORT] Task %q completed.\nResult: %s\nFull details in TASKS.md.", taskID, summary))
}

func (t *DispatchTool) report(text string) {
	if err := t.executor.Notify(t.instance, t.origin, text); err != nil {
		t.logger.Warn("worker report not delivered", "error", err)
	}
}

// reflectSchema generates a JSON schema from a parameter struct.
func reflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	payload, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
