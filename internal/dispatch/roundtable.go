package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/slack"
)

// roundtableStatus is the single status post a fan-out narrates through.
const roundtableStatus = "⚙️ Roundtable — waiting for perspectives…"

// passMarker is the exact reply an instance returns to bow out of a
// roundtable turn.
const passMarker = "[PASS]"

// runRoundtable fans one message out to every instance in parallel,
// filters passes and failures, and posts the surviving perspectives in
// persona voice, paced so the thread reads as a sequence rather than a
// burst. Messages arriving mid-roundtable queue up and are replayed
// through classification afterwards.
func (d *Dispatcher) runRoundtable(ctx context.Context, conv string, ev *slack.MessageEvent, text string, dir Directives) {
	threadTS := postThread(ev)

	e := &execution{
		channel:  ev.Channel,
		threadTS: threadTS,
		userTS:   ev.Timestamp,
		live:     true,
		// No inject: fan-out turns cannot absorb steering mid-flight.
		cancel: func() { d.cancelRoundtable(conv) },
	}
	if !d.active.claim(conv, e) {
		if cur, ok := d.active.get(conv); ok && cur.deliver(text, ev) {
			d.react(ctx, ev.Channel, ev.Timestamp, envelopeReaction)
		}
		return
	}
	defer d.active.release(conv, e)
	d.owners.Put(conv, RoundtableOwner)

	d.react(ctx, ev.Channel, ev.Timestamp, hourglassReaction)
	statusTS, err := d.poster.PostStatus(ctx, ev.Channel, threadTS, roundtableStatus)
	if err != nil {
		d.logger.Warn("status post failed", "channel", ev.Channel, "error", err)
	}
	e.setStatus(statusTS)

	prompt := BuildPrompt(text, ev.User, ev.Channel, dir.Name, "")

	type answer struct {
		inst config.InstanceConfig
		text string
		err  error
	}
	answers := make([]answer, len(d.instances))
	var wg sync.WaitGroup
	for i, inst := range d.instances {
		wg.Add(1)
		go func(i int, inst config.InstanceConfig) {
			defer wg.Done()
			wrapped := roundtablePrompt(prompt, inst.Name, d.names)
			if sess, serr := d.engine.Session(inst.Name, conv); serr == nil {
				d.bind(sess, inst, runEnv{
					instance: inst,
					conv:     conv,
					channel:  ev.Channel,
					threadTS: threadTS,
					userTS:   ev.Timestamp,
				})
			}
			d.metricExecStart(inst.Name)
			start := time.Now()
			out, rerr := d.engine.Execute(ctx, inst.Name, conv, wrapped, nil)
			outcome := outcomeCompleted
			if rerr != nil {
				outcome = outcomeError
			}
			d.metricExecFinish(inst.Name, outcome, time.Since(start))
			answers[i] = answer{inst: inst, text: out, err: rerr}
		}(i, inst)
	}
	wg.Wait()

	posted := 0
	for _, a := range answers {
		switch {
		case a.err != nil:
			// One failed perspective never blocks the rest.
			d.logger.Error("roundtable execution failed",
				"instance", a.inst.Name, "conversation", conv, "error", a.err)
			d.metricRoundtable(a.inst.Name, "error")
		case isPass(a.text):
			d.metricRoundtable(a.inst.Name, "passed")
		default:
			if posted > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(d.pace):
				}
			}
			persona := slack.Persona{Name: a.inst.Persona.Name, Emoji: a.inst.Persona.Emoji}
			ts, perr := d.poster.PostPersona(ctx, ev.Channel, threadTS, persona, a.text)
			if perr != nil {
				d.logger.Error("roundtable post failed", "instance", a.inst.Name, "error", perr)
			} else {
				d.prompts.Put(ts, promptRecord{
					instance: a.inst.Name,
					conv:     conv,
					channel:  ev.Channel,
					threadTS: threadTS,
					prompt:   roundtablePrompt(prompt, a.inst.Name, d.names),
				})
				posted++
			}
			d.metricRoundtable(a.inst.Name, "posted")
		}
	}
	if posted == 0 {
		d.logger.Info("roundtable ended with no perspectives", "conversation", conv)
	}

	if statusTS != "" {
		if err := d.poster.DeleteStatus(ctx, ev.Channel, statusTS); err != nil {
			d.logger.Warn("status delete failed", "error", err)
		}
	}
	d.unreact(ctx, ev.Channel, ev.Timestamp, hourglassReaction)
	d.active.release(conv, e)

	// Replays go through full classification: the topic may have changed
	// while the roundtable ran.
	for _, q := range e.finish() {
		if q.ev != nil {
			d.handleMessage(ctx, q.ev)
		}
	}
}

// cancelRoundtable trips every instance's session on the conversation.
func (d *Dispatcher) cancelRoundtable(conv string) {
	for _, inst := range d.instances {
		if sess, err := d.engine.Session(inst.Name, conv); err == nil {
			sess.Cancel()
		}
	}
}

// isPass reports whether a reply bows out. Models decorate the marker
// with whitespace and mixed case often enough that exact match is too
// strict; an empty reply counts as a pass too.
func isPass(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(trimmed), passMarker)
}

func (d *Dispatcher) metricRoundtable(instance, outcome string) {
	if d.metrics != nil {
		d.metrics.RoundtableResponse(instance, outcome)
	}
}
