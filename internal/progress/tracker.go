// Package progress turns orchestrator events into a live status message.
//
// One Tracker serves one execution. It keeps the last-announced tool, the
// published plan, and elapsed time; renders at most once per throttle
// interval; and hands rendered text to a single background poster so a
// slow Slack edit can never stall the agent loop. Stale renders are
// dropped, latest wins.
package progress

import (
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/format"
	"github.com/troupehq/troupe/pkg/models"
)

const defaultThrottle = 2 * time.Second

// Config wires a Tracker to its execution.
type Config struct {
	// Instance is the header name shown in plan mode.
	Instance string
	// Queued reports the live injection-queue depth. Nil means zero.
	Queued func() int
	// Update receives rendered status text, called from one goroutine.
	Update func(text string)
	// Throttle caps update frequency. Zero means the 2 s default.
	Throttle time.Duration
}

// Tracker consumes orchestrator progress events and drives a status
// message. Handle is safe to call from the agent loop; it never blocks.
type Tracker struct {
	instance string
	queued   func() int
	update   func(string)
	throttle time.Duration

	mu         sync.Mutex
	todos      []models.TodoItem
	planMode   bool
	tool       string
	agent      string
	start      time.Time
	lastUpdate time.Time
	closed     bool

	pending chan string
	done    chan struct{}
	once    sync.Once
}

// NewTracker starts the posting goroutine and returns a ready tracker.
func NewTracker(cfg Config) *Tracker {
	throttle := cfg.Throttle
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	update := cfg.Update
	if update == nil {
		update = func(string) {}
	}
	t := &Tracker{
		instance: cfg.Instance,
		queued:   cfg.Queued,
		update:   update,
		throttle: throttle,
		start:    time.Now(),
		pending:  make(chan string, 1),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		for text := range t.pending {
			t.update(text)
		}
	}()
	return t
}

// Handle is the progress sink. State updates on every event; rendering is
// throttled. Complete and error events are the dispatcher's teardown
// signal and render nothing.
func (t *Tracker) Handle(ev models.ProgressEvent) {
	t.mu.Lock()
	switch ev.Kind {
	case models.ProgressToolStart:
		t.tool = ev.Tool
		if ev.Tool == "delegate" {
			t.agent = ev.Agent
		} else {
			t.agent = ""
		}
		if len(ev.Todos) > 0 {
			t.todos = ev.Todos
			t.planMode = true
		}
	case models.ProgressToolEnd:
		if len(ev.Todos) > 0 {
			t.todos = ev.Todos
			t.planMode = true
		}
	case models.ProgressThinking:
		t.tool, t.agent = "", ""
	case models.ProgressContentDelta, models.ProgressInjectionApplied:
		// State lives elsewhere; this is only a refresh opportunity.
	case models.ProgressComplete, models.ProgressError:
		t.mu.Unlock()
		return
	}

	now := time.Now()
	if t.closed || now.Sub(t.lastUpdate) < t.throttle {
		t.mu.Unlock()
		return
	}
	t.lastUpdate = now
	// Offer under the lock: Close flips closed before closing the
	// channel, so a held lock here means the channel is still open.
	t.offer(t.renderLocked())
	t.mu.Unlock()
}

// Close stops the posting goroutine and waits for any in-flight update,
// so the caller can delete the status message without racing an edit.
func (t *Tracker) Close() {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.pending)
	})
	<-t.done
}

// PlanMode reports whether a todo plan has been published.
func (t *Tracker) PlanMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.planMode
}

func (t *Tracker) renderLocked() string {
	duration := format.Duration(time.Since(t.start))
	queued := 0
	if t.queued != nil {
		queued = t.queued()
	}
	if t.planMode {
		return renderPlan(t.todos, t.tool, t.agent, t.instance, duration, queued)
	}
	return renderSimple(t.tool, t.agent, duration, queued)
}

// offer replaces any undelivered render with the newer one.
func (t *Tracker) offer(text string) {
	for {
		select {
		case t.pending <- text:
			return
		default:
		}
		select {
		case <-t.pending:
		default:
		}
	}
}
