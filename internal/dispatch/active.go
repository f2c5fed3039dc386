package dispatch

import (
	"sync"

	"github.com/troupehq/troupe/internal/slack"
)

// runPhase tracks where a live execution is in its turn so deliver knows
// whether injection is safe. Injection is only live once the loop has
// emitted its first event: the loop clears its queue on entry, so
// anything injected before that would be silently dropped.
type runPhase int

const (
	phaseStarting  runPhase = iota // turn submitted, loop not yet streaming
	phaseStreaming                 // first progress event seen
)

// queuedMsg is a follow-up held for the batch turn. The event is kept so
// roundtable runs can replay it through classification afterwards.
type queuedMsg struct {
	text string
	ev   *slack.MessageEvent
}

// execution is one live run tracked by the dispatcher: the handle steering
// and cancellation act on.
type execution struct {
	instance string
	channel  string
	threadTS string
	userTS   string

	inject func(string) // nil for roundtable fan-outs
	cancel func()

	mu       sync.Mutex
	live     bool
	phase    runPhase
	statusTS string
	queued   []queuedMsg
}

// deliver hands a follow-up message to the run: injected into the loop
// when it is streaming, queued for the batch turn otherwise. Returns
// false when the run already drained; the caller routes the message as a
// fresh execution instead.
func (e *execution) deliver(text string, ev *slack.MessageEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return false
	}
	if e.phase == phaseStreaming && e.inject != nil {
		// A queue push, cheap enough to hold the lock across.
		e.inject(text)
		return true
	}
	e.queued = append(e.queued, queuedMsg{text: text, ev: ev})
	return true
}

// beginTurn marks the loop as submitted and takes any messages queued
// between turns so they ride along in the prompt.
func (e *execution) beginTurn() []queuedMsg {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = phaseStarting
	q := e.queued
	e.queued = nil
	return q
}

// markStreaming flips injection live. Called on the first progress event,
// which the loop only emits after clearing its queue.
func (e *execution) markStreaming() {
	e.mu.Lock()
	if e.phase == phaseStarting {
		e.phase = phaseStreaming
	}
	e.mu.Unlock()
}

// endTurn collects everything that must reach the next turn: messages
// queued while the loop ran plus injections that landed after the loop's
// last queue check (takeStrays drains those while the lock is held, so a
// racing deliver either lands here or in the next beginTurn). When
// nothing is pending the run goes dead and deliver starts refusing.
func (e *execution) endTurn(takeStrays func() []string) ([]queuedMsg, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = phaseStarting
	q := e.queued
	e.queued = nil
	if takeStrays != nil {
		for _, text := range takeStrays() {
			q = append(q, queuedMsg{text: text})
		}
	}
	if len(q) == 0 {
		e.live = false
		return nil, false
	}
	return q, true
}

// finish kills the run and returns whatever was still queued behind it.
func (e *execution) finish() []queuedMsg {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = false
	q := e.queued
	e.queued = nil
	return q
}

func (e *execution) setStatus(ts string) {
	e.mu.Lock()
	e.statusTS = ts
	e.mu.Unlock()
}

func (e *execution) status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusTS
}

func (e *execution) cancelRun() {
	if e.cancel != nil {
		e.cancel()
	}
}

// activeSet maps conversation ids to their live executions.
type activeSet struct {
	mu sync.Mutex
	m  map[string]*execution
}

func newActiveSet() *activeSet {
	return &activeSet{m: make(map[string]*execution)}
}

// claim registers e for conv unless another execution already holds it.
func (s *activeSet) claim(conv string, e *execution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[conv]; ok {
		return false
	}
	s.m[conv] = e
	return true
}

func (s *activeSet) get(conv string) (*execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[conv]
	return e, ok
}

// release removes conv only while e still holds it, so a stale deferred
// release cannot evict a successor.
func (s *activeSet) release(conv string, e *execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[conv] == e {
		delete(s.m, conv)
	}
}

// findByStatus locates the execution narrating on the given status
// message. Cancel reactions target status messages.
func (s *activeSet) findByStatus(channel, ts string) *execution {
	if ts == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.m {
		if e.channel == channel && e.status() == ts {
			return e
		}
	}
	return nil
}

func (s *activeSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
