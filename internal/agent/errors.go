package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for agent operations.
var (
	// ErrMaxIterations indicates the loop exceeded its iteration cap.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no model backend is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrHookDenied indicates a hook handler vetoed the operation.
	ErrHookDenied = errors.New("denied by hook")
)

// Phase names the stage of the loop where a failure occurred.
type Phase string

const (
	PhasePrompt   Phase = "prompt"
	PhaseProvider Phase = "provider"
	PhaseTools    Phase = "tools"
	PhaseLoop     Phase = "loop"
)

// LoopError wraps a failure inside Execute with the phase and iteration
// where it happened. Callers surface a user-facing message and log the
// wrapped cause.
type LoopError struct {
	Phase     Phase
	Iteration int
	Err       error
}

func (e *LoopError) Error() string {
	if e.Iteration > 0 {
		return fmt.Sprintf("agent loop: %s failed at iteration %d: %v", e.Phase, e.Iteration, e.Err)
	}
	return fmt.Sprintf("agent loop: %s failed: %v", e.Phase, e.Err)
}

func (e *LoopError) Unwrap() error {
	return e.Err
}
