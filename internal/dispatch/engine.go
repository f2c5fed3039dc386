package dispatch

import (
	"context"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/hooks"
	"github.com/troupehq/troupe/internal/session"
)

// Engine runs prompts on per-conversation sessions. It is the dispatcher's
// whole view of the agent layer; *session.Registry satisfies it through
// RegistryEngine. Engine also covers workers.Executor, so the same value
// backs the dispatch_worker tool.
type Engine interface {
	Execute(ctx context.Context, instance, conversationID, prompt string, sink agent.ProgressSink) (string, error)
	Notify(instance, conversationID, text string) error
	Session(instance, conversationID string) (Session, error)
}

// Session is the slice of a live session the dispatcher steers: injection
// and cancellation, plus the mount points rebound before each run.
type Session interface {
	Inject(text string)
	TakeInjections() []string
	PendingInjections() int
	Cancel()
	Coordinator() *hooks.Coordinator
	Tools() *agent.Registry
}

// RegistryEngine adapts a session registry to Engine.
type RegistryEngine struct {
	*session.Registry
}

// Session returns the live session for one conversation, creating it on
// first use.
func (e RegistryEngine) Session(instance, conversationID string) (Session, error) {
	s, err := e.Registry.GetOrCreate(instance, conversationID)
	if err != nil {
		return nil, err
	}
	return s, nil
}
