package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/hooks"
	"github.com/troupehq/troupe/internal/transcript"
	"github.com/troupehq/troupe/pkg/models"
)

// Config wires a Registry. Provider and Store are required.
type Config struct {
	Provider agent.Provider
	Store    *transcript.Store

	// Options supplies orchestrator options for a new session; instance
	// system prompts and per-instance model overrides land here. Nil uses
	// zero options everywhere.
	Options func(instance, conversationID string) agent.Options

	// Setup runs once per new session, after the orchestrator and inject
	// capability are in place. Callers mount tools and the display and
	// approval back-channels here. An error fails session creation.
	Setup func(*Session) error

	Logger *slog.Logger
}

// Registry owns the sessions map. GetOrCreate is idempotent; Execute and
// Notify resolve through it so callers never hold raw map entries.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry validates the wiring and returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Provider == nil {
		return nil, agent.ErrNoProvider
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: registry needs a transcript store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}, nil
}

// GetOrCreate returns the session for (instance, conversation), creating
// it on first use: the persisted transcript is replayed into context, the
// hook coordinator and tool registry are initialized, the orchestrator is
// built, and the caller's Setup mounts its capabilities.
func (r *Registry) GetOrCreate(instance, conversationID string) (*Session, error) {
	key := Key(instance, conversationID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, nil
	}

	s, err := r.build(instance, conversationID)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = s
	r.logger.Info("session created", "session", key, "context", s.journal.hist.Len())
	return s, nil
}

func (r *Registry) build(instance, conversationID string) (*Session, error) {
	key := Key(instance, conversationID)
	logger := r.logger.With("session", key)

	msgs, err := r.cfg.Store.Load(instance, conversationID)
	if err != nil {
		return nil, fmt.Errorf("session: load transcript for %s: %w", key, err)
	}
	writer, err := r.cfg.Store.Open(instance, conversationID)
	if err != nil {
		return nil, fmt.Errorf("session: open transcript for %s: %w", key, err)
	}

	var opts agent.Options
	if r.cfg.Options != nil {
		opts = r.cfg.Options(instance, conversationID)
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}

	s := &Session{
		Instance:       instance,
		ConversationID: conversationID,
		journal:        &journal{hist: models.NewHistory(msgs), writer: writer, logger: logger},
		coord:          hooks.NewCoordinator(key, logger),
		tools:          agent.NewRegistry(),
		logger:         logger,
	}
	s.orch = agent.New(r.cfg.Provider, s.tools, s.coord, s.journal, opts)

	// The dispatcher reaches a running execution through this capability.
	if err := s.coord.Mount(hooks.CapInject, hooks.InjectFunc(s.orch.Inject)); err != nil {
		s.close()
		return nil, fmt.Errorf("session: mount inject for %s: %w", key, err)
	}

	if r.cfg.Setup != nil {
		if err := r.cfg.Setup(s); err != nil {
			s.close()
			return nil, fmt.Errorf("session: setup %s: %w", key, err)
		}
	}
	return s, nil
}

// Get returns an existing session without creating one.
func (r *Registry) Get(instance, conversationID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[Key(instance, conversationID)]
	return s, ok
}

// Execute resolves the session and runs one agent loop on it. See
// Session.Execute for locking semantics.
func (r *Registry) Execute(ctx context.Context, instance, conversationID, prompt string, sink agent.ProgressSink) (string, error) {
	s, err := r.GetOrCreate(instance, conversationID)
	if err != nil {
		return "", err
	}
	return s.Execute(ctx, prompt, sink)
}

// Notify enqueues a note for the next execution on (instance,
// conversation). The session is created if needed so reports for
// not-yet-woken conversations are not lost.
func (r *Registry) Notify(instance, conversationID, text string) error {
	s, err := r.GetOrCreate(instance, conversationID)
	if err != nil {
		return err
	}
	s.Notify(text)
	return nil
}

// Len reports how many sessions exist.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Keys returns all session keys, sorted, for inspection and export.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every session's transcript writer. Called at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.close()
	}
	r.sessions = make(map[string]*Session)
}
