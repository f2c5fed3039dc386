package agent

import "sync"

// CancelToken is the cooperative stop signal for one execution.
//
// It is deliberately not a context: the loop checks it only at safe points
// (top of iteration, around provider calls), so an in-flight provider or
// tool call always runs to completion and its results are discarded rather
// than torn down mid-stream.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns a live token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel trips the token. Safe to call from any goroutine, any number of
// times.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done exposes the underlying channel for select loops.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
