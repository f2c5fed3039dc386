package dispatch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/hooks"
	"github.com/troupehq/troupe/internal/onboard"
	"github.com/troupehq/troupe/internal/progress"
	"github.com/troupehq/troupe/internal/slack"
	"github.com/troupehq/troupe/internal/tools"
	"github.com/troupehq/troupe/internal/workers"
	"github.com/troupehq/troupe/pkg/models"
)

// statusInitial matches the renderer's zero state so the first throttled
// update does not visibly rewrite the message.
const statusInitial = "⚙️ Thinking…"

// failureText is the persona-voiced reply when an execution errors out.
const failureText = "Something went wrong on my end. Mind trying that again?"

// statusUpdateTimeout bounds each status edit; edits race the execution
// and must not inherit its full deadline.
const statusUpdateTimeout = 10 * time.Second

const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

// runEnv carries everything one execution needs to narrate and respond.
type runEnv struct {
	instance  config.InstanceConfig
	conv      string
	channel   string
	threadTS  string
	userTS    string // empty for regenerations: nothing to decorate
	userID    string // empty when no onboarding applies
	userText  string
	newThread bool
	received  time.Time
}

func (env runEnv) persona() slack.Persona {
	return slack.Persona{Name: env.instance.Persona.Name, Emoji: env.instance.Persona.Emoji}
}

// execute runs one conversation turn end to end: claim the conversation,
// mark the user message, narrate progress on an editable status post,
// batch-replay anything that queued up mid-run, then replace the status
// with the persona-voiced response.
func (d *Dispatcher) execute(ctx context.Context, env runEnv, prompt string) {
	inst := env.instance
	sess, err := d.engine.Session(inst.Name, env.conv)
	if err != nil {
		d.logger.Error("session unavailable",
			"instance", inst.Name, "conversation", env.conv, "error", err)
		d.postFailure(ctx, env)
		return
	}
	d.bind(sess, inst, env)

	e := &execution{
		instance: inst.Name,
		channel:  env.channel,
		threadTS: env.threadTS,
		userTS:   env.userTS,
		live:     true,
		inject:   sess.Inject,
		cancel:   sess.Cancel,
	}
	claimed := false
	for attempt := 0; attempt < 3; attempt++ {
		if d.active.claim(env.conv, e) {
			claimed = true
			break
		}
		if cur, ok := d.active.get(env.conv); ok && cur.deliver(env.userText, nil) {
			d.react(ctx, env.channel, env.userTS, envelopeReaction)
			return
		}
	}
	if !claimed {
		d.logger.Error("conversation stayed contended, dropping message", "conversation", env.conv)
		return
	}
	defer d.active.release(env.conv, e)
	d.owners.Put(env.conv, inst.Name)

	d.react(ctx, env.channel, env.userTS, hourglassReaction)
	statusTS, err := d.poster.PostStatus(ctx, env.channel, env.threadTS, statusInitial)
	if err != nil {
		d.logger.Warn("status post failed", "channel", env.channel, "error", err)
	}
	e.setStatus(statusTS)

	var stopWatch func()
	if d.outbox != nil && d.watch {
		stop, werr := d.outbox.Watch(ctx, inst.WorkingDir, env.channel, env.threadTS)
		if werr != nil {
			d.logger.Warn("outbox watch failed", "error", werr)
		} else {
			stopWatch = stop
		}
	}

	tracker := progress.NewTracker(progress.Config{
		Instance: inst.Name,
		Queued:   sess.PendingInjections,
		Throttle: d.throttle,
		Update: func(text string) {
			if statusTS == "" {
				return
			}
			uctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
			defer cancel()
			if err := d.poster.UpdateStatus(uctx, env.channel, statusTS, text); err != nil {
				d.logger.Warn("status update failed", "error", err)
			}
		},
	})

	// Complete and error events are emitted on this goroutine, so the
	// status write is race-free; tool events arrive from tool goroutines
	// and only touch the (thread-safe) metrics.
	runStatus := models.RunStatusOK
	sink := func(pe models.ProgressEvent) {
		tracker.Handle(pe)
		switch pe.Kind {
		case models.ProgressThinking:
			e.markStreaming()
		case models.ProgressToolEnd:
			d.recordTool(pe)
		case models.ProgressInjectionApplied:
			d.recordInjections(inst.Name, pe.Count)
		case models.ProgressComplete:
			runStatus = pe.Status
		}
	}

	d.metricExecStart(inst.Name)
	start := time.Now()

	var text string
	var execErr error
	turn := prompt
	for {
		if extra := e.beginTurn(); len(extra) > 0 {
			turn = batchPrompt(append([]string{turn}, queuedTexts(extra)...))
		}
		text, execErr = d.engine.Execute(ctx, inst.Name, env.conv, turn, sink)
		if execErr != nil || runStatus == models.RunStatusCancelled {
			// The exchange ends here; steering queued behind it dies too.
			if dropped := e.finish(); len(dropped) > 0 {
				d.logger.Warn("dropping queued follow-ups",
					"conversation", env.conv, "count", len(dropped))
			}
			break
		}
		pending, more := e.endTurn(sess.TakeInjections)
		if !more {
			break
		}
		// Messages arrived mid-run: post this reply, then run them as
		// one batched follow-up turn.
		if strings.TrimSpace(text) != "" {
			d.postResponse(ctx, env, text, turn, false)
		}
		turn = batchPrompt(queuedTexts(pending))
	}

	tracker.Close()
	if stopWatch != nil {
		stopWatch()
	}
	if statusTS != "" {
		if err := d.poster.DeleteStatus(ctx, env.channel, statusTS); err != nil {
			d.logger.Warn("status delete failed", "error", err)
		}
	}

	outcome := outcomeCompleted
	switch {
	case execErr != nil:
		outcome = outcomeError
		d.logger.Error("execution failed",
			"instance", inst.Name, "conversation", env.conv, "error", execErr)
		d.postFailure(ctx, env)
	case runStatus == models.RunStatusCancelled:
		outcome = outcomeCancelled
		if strings.TrimSpace(text) != "" {
			d.postResponse(ctx, env, text, turn, true)
		}
	default:
		if strings.TrimSpace(text) != "" {
			d.postResponse(ctx, env, text, turn, true)
		}
	}
	d.metricExecFinish(inst.Name, outcome, time.Since(start))

	d.unreact(ctx, env.channel, env.userTS, hourglassReaction)
	d.active.release(env.conv, e)

	if d.outbox != nil {
		if err := d.outbox.Flush(ctx, inst.WorkingDir, env.channel, env.threadTS); err != nil {
			d.logger.Warn("outbox flush failed", "instance", inst.Name, "error", err)
		}
	}
	if d.onboard != nil && env.userID != "" {
		if err := d.onboard.Persist(env.userID); err != nil {
			d.logger.Warn("onboarding persist failed", "user", env.userID, "error", err)
		}
	}
}

// bind mounts the per-conversation surface before each execution. Tool
// registration replaces by name and capability slots replace their
// holder, so rebinding every turn is safe; the reaction tool must rebind
// anyway because the target message changes. A failed mount costs one
// capability, not the run.
func (d *Dispatcher) bind(sess Session, inst config.InstanceConfig, env runEnv) {
	persona := env.persona()
	post := func(ctx context.Context, channel, threadTS, text string) error {
		_, err := d.poster.PostPersona(ctx, channel, threadTS, persona, text)
		return err
	}
	fail := func(what string, err error) {
		if err != nil {
			d.logger.Warn("conversation bind failed", "what", what, "error", err)
		}
	}
	fail("slack_send_message", sess.Tools().Register(tools.NewSlackMessageTool(post, env.channel, env.threadTS)))
	fail("slack_add_reaction", sess.Tools().Register(tools.NewSlackReactionTool(d.poster.AddReaction, env.channel, env.userTS)))
	if d.approvals != nil {
		fail("approval", sess.Coordinator().Mount(hooks.CapApproval, d.approvals.Bind(env.channel, env.threadTS)))
	}
	if d.displays != nil {
		fail("display", sess.Coordinator().Mount(hooks.CapDisplay, d.displays.Bind(env.channel, env.threadTS)))
	}
	if d.workers != nil {
		fail("dispatch_worker", sess.Tools().Register(workers.NewDispatchTool(
			d.engine, d.workers, d.storeFor(inst), inst.Name, env.conv, d.logger)))
	}
}

// postResponse posts the persona-voiced reply and remembers the prompt
// that produced it so a regenerate reaction can replay the exchange. The
// onboarding suffix rides only on the final reply of a run.
func (d *Dispatcher) postResponse(ctx context.Context, env runEnv, text, prompt string, final bool) {
	body := text
	if final && d.onboard != nil && env.userID != "" {
		body += d.onboard.Suffix(env.userID, env.newThread,
			time.Since(env.received), onboard.HasCrossThreadReference(env.userText))
	}
	ts, err := d.poster.PostPersona(ctx, env.channel, env.threadTS, env.persona(), body)
	if err != nil {
		d.logger.Error("response post failed",
			"instance", env.instance.Name, "channel", env.channel, "error", err)
		return
	}
	d.prompts.Put(ts, promptRecord{
		instance: env.instance.Name,
		conv:     env.conv,
		channel:  env.channel,
		threadTS: env.threadTS,
		prompt:   prompt,
	})
}

func (d *Dispatcher) postFailure(ctx context.Context, env runEnv) {
	if _, err := d.poster.PostPersona(ctx, env.channel, env.threadTS, env.persona(), failureText); err != nil {
		d.logger.Warn("failure notice post failed", "channel", env.channel, "error", err)
	}
}

// storeFor returns the instance's shared TASKS.md ledger, creating the
// store on first use.
func (d *Dispatcher) storeFor(inst config.InstanceConfig) *workers.Store {
	d.storeMu.Lock()
	defer d.storeMu.Unlock()
	s, ok := d.stores[inst.Name]
	if !ok {
		s = workers.NewStore(filepath.Join(inst.WorkingDir, "TASKS.md"))
		d.stores[inst.Name] = s
	}
	return s
}

func (d *Dispatcher) metricExecStart(instance string) {
	if d.metrics != nil {
		d.metrics.ExecutionStarted(instance)
	}
}

func (d *Dispatcher) metricExecFinish(instance, outcome string, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.ExecutionFinished(instance, outcome, elapsed.Seconds())
	}
}

func (d *Dispatcher) recordTool(pe models.ProgressEvent) {
	if d.metrics == nil {
		return
	}
	status := "ok"
	if pe.IsError {
		status = "error"
	}
	d.metrics.RecordToolExecution(pe.Tool, status, pe.Duration.Seconds())
}

func (d *Dispatcher) recordInjections(instance string, count int) {
	if d.metrics != nil && count > 0 {
		d.metrics.InjectionApplied(instance, count)
	}
}
