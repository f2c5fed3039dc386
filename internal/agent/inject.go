package agent

import (
	"strings"
	"sync"
)

// injectionPreamble is the literal prefix the model sees on a synthesized
// mid-execution message. It is part of the message text, not a separate
// system message.
const injectionPreamble = "[The user sent additional messages while you were working. Incorporate this into your current task:]"

// InjectionQueue is the unbounded FIFO of mid-execution steering messages.
// Any goroutine may Push while Execute runs; the loop drains it at its
// three injection points.
type InjectionQueue struct {
	mu      sync.Mutex
	pending []string
}

// NewInjectionQueue returns an empty queue.
func NewInjectionQueue() *InjectionQueue {
	return &InjectionQueue{}
}

// Push appends a steering message.
func (q *InjectionQueue) Push(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, text)
}

// Len reports how many messages are waiting.
func (q *InjectionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain removes and returns all pending messages in arrival order.
func (q *InjectionQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Clear drops anything left over from a previous execution.
func (q *InjectionQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// InjectionMessage folds drained messages into the single user message the
// model sees.
func InjectionMessage(msgs []string) string {
	var b strings.Builder
	b.WriteString(injectionPreamble)
	for _, m := range msgs {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String()
}
