package models

// History is the ordered message context for one conversation. It is not
// safe for concurrent use; the owning session serializes access through
// its execution mutex.
type History struct {
	msgs []Message
}

// NewHistory builds a history seeded with previously persisted messages.
func NewHistory(msgs []Message) *History {
	h := &History{}
	if len(msgs) > 0 {
		h.msgs = append(h.msgs, msgs...)
	}
	return h
}

// Append adds a message to the end of the context.
func (h *History) Append(m Message) {
	h.msgs = append(h.msgs, m)
}

// Messages returns a snapshot copy of the context in order.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len reports the number of messages in the context.
func (h *History) Len() int {
	return len(h.msgs)
}

// Last returns the most recent message, or false when the context is empty.
func (h *History) Last() (Message, bool) {
	if len(h.msgs) == 0 {
		return Message{}, false
	}
	return h.msgs[len(h.msgs)-1], true
}
