// Package session maintains one agent session per (instance, conversation)
// pair: the in-memory context, its on-disk transcript, the hook coordinator,
// and the orchestrator driving it. A per-session mutex serializes executions
// on the same conversation; unrelated conversations run in parallel.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/hooks"
	"github.com/troupehq/troupe/internal/transcript"
	"github.com/troupehq/troupe/pkg/models"
)

// Key builds the registry key for an (instance, conversation) pair.
func Key(instance, conversationID string) string {
	return instance + ":" + conversationID
}

// Session is the per-(instance, conversation) unit of context and state.
// All context mutation happens inside Execute while the session mutex is
// held. Inject, Cancel, and Notify are safe from any goroutine.
type Session struct {
	Instance       string
	ConversationID string

	mu      sync.Mutex
	journal *journal
	coord   *hooks.Coordinator
	tools   *agent.Registry
	orch    *agent.Orchestrator

	noteMu sync.Mutex
	notes  []string

	logger *slog.Logger
}

// Key returns instance:conversation.
func (s *Session) Key() string {
	return Key(s.Instance, s.ConversationID)
}

// Coordinator exposes the session's hook coordinator so callers can mount
// capabilities after creation.
func (s *Session) Coordinator() *hooks.Coordinator {
	return s.coord
}

// Tools exposes the session's tool registry for post-creation mounting.
func (s *Session) Tools() *agent.Registry {
	return s.tools
}

// Inject queues a steering message for the running execution.
func (s *Session) Inject(text string) {
	s.orch.Inject(text)
}

// PendingInjections reports the live steering-queue depth.
func (s *Session) PendingInjections() int {
	return s.orch.PendingInjections()
}

// TakeInjections drains steering messages that missed the loop, so the
// caller can replay them instead of losing them to the next run's clear.
func (s *Session) TakeInjections() []string {
	return s.orch.TakeInjections()
}

// Cancel trips the running execution's cancellation token.
func (s *Session) Cancel() {
	s.orch.Cancel()
}

// Notify enqueues a note for the next Execute on this session. Unlike
// Inject it never reaches a running execution: worker reports must not
// re-open a loop that force-respond just closed.
func (s *Session) Notify(text string) {
	if text == "" {
		return
	}
	s.noteMu.Lock()
	s.notes = append(s.notes, text)
	s.noteMu.Unlock()
	s.logger.Debug("queued session note", "pending", len(s.notes))
}

// PendingNotes reports how many notes await the next execution.
func (s *Session) PendingNotes() int {
	s.noteMu.Lock()
	defer s.noteMu.Unlock()
	return len(s.notes)
}

func (s *Session) takeNotes() []string {
	s.noteMu.Lock()
	defer s.noteMu.Unlock()
	notes := s.notes
	s.notes = nil
	return notes
}

// Execute runs one agent loop over this session's context. The session
// mutex is held for the whole call, so concurrent executions on the same
// conversation serialize. Queued notes are appended to the context ahead
// of the triggering prompt.
func (s *Session) Execute(ctx context.Context, prompt string, sink agent.ProgressSink) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, note := range s.takeNotes() {
		s.journal.Append(models.UserMessage(note))
	}
	return s.orch.Execute(ctx, prompt, sink)
}

// Messages returns a snapshot of the session context.
func (s *Session) Messages() []models.Message {
	return s.journal.Messages()
}

// close releases the transcript writer. Only the registry calls this.
func (s *Session) close() {
	if s.journal.writer != nil {
		if err := s.journal.writer.Close(); err != nil {
			s.logger.Warn("closing transcript writer", "error", err)
		}
	}
}

// journal is the write-through context: every append lands in memory and,
// best-effort, on disk. A failed disk append is logged and dropped — the
// conversation must not die because the disk did.
type journal struct {
	hist   *models.History
	writer *transcript.Writer
	logger *slog.Logger
}

func (j *journal) Messages() []models.Message {
	return j.hist.Messages()
}

func (j *journal) Append(m models.Message) {
	j.hist.Append(m)
	if j.writer == nil {
		return
	}
	if err := j.writer.Append(m); err != nil {
		j.logger.Warn("transcript append failed", "error", err)
	}
}
