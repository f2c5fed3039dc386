// Package onboard tracks per-user onboarding: the one-time welcome DM
// and the progressive teaching suffixes appended to early responses.
// The system is designed to dissolve; after roughly six interactions it
// goes silent for good.
package onboard

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// recentThreadCap bounds the per-user thread history.
const recentThreadCap = 10

// WelcomeText is the one-time DM sent on a user's first interaction.
const WelcomeText = "Hey, welcome! Quick orientation: each Slack thread is its own conversation with me, " +
	"with its own memory. Start a new thread per topic and I'll keep the context there. " +
	"You can DM me, mention me in a channel, or react to any message with an instance's emoji to pull me in."

// State is the serialized per-user onboarding record.
type State struct {
	UserID                string            `json:"user_id"`
	Version               int               `json:"version"`
	FirstSeen             string            `json:"first_seen"`
	Welcomed              bool              `json:"welcomed"`
	ThreadsStarted        int               `json:"threads_started"`
	RecentThreads         []string          `json:"recent_threads"`
	TipsShown             map[string]string `json:"tips_shown"`
	CrossThreadNotesShown int               `json:"cross_thread_notes_shown"`
}

func newState(userID string) *State {
	return &State{
		UserID:    userID,
		Version:   1,
		FirstSeen: now(),
		TipsShown: map[string]string{},
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Manager holds onboarding state for every user the process has seen.
// States load lazily from disk and persist explicitly after a response.
type Manager struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	users map[string]*State
}

// NewManager creates a manager persisting under
// <stateDir>/users/<user>/onboarding.json.
func NewManager(stateDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:    filepath.Join(stateDir, "users"),
		logger: logger.With("component", "onboard"),
		users:  make(map[string]*State),
	}
}

// state returns the cached record, loading from disk or starting fresh.
// Callers hold m.mu.
func (m *Manager) state(userID string) *State {
	if s, ok := m.users[userID]; ok {
		return s
	}
	s := m.loadFromDisk(userID)
	m.users[userID] = s
	return s
}

// loadFromDisk reads a persisted record. Anything unreadable, missing,
// or corrupt starts the user over; onboarding is never worth an error.
func (m *Manager) loadFromDisk(userID string) *State {
	path := m.statePath(userID)
	data, err := os.ReadFile(path)
	if err != nil {
		return newState(userID)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		m.logger.Debug("onboarding state unreadable, starting over", "user", userID, "error", err)
		return newState(userID)
	}
	if s.UserID == "" {
		s.UserID = userID
	}
	if s.TipsShown == nil {
		s.TipsShown = map[string]string{}
	}
	return &s
}

func (m *Manager) statePath(userID string) string {
	return filepath.Join(m.dir, userID, "onboarding.json")
}

// NeedsWelcome reports whether the user has never been welcomed.
func (m *Manager) NeedsWelcome(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.state(userID).Welcomed
}

// MarkWelcomed records that the welcome DM went out.
func (m *Manager) MarkWelcomed(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(userID).Welcomed = true
}

// RecordThread notes an interaction in a conversation and reports whether
// it starts a new thread for this user.
func (m *Manager) RecordThread(userID, conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(userID)
	for _, id := range s.RecentThreads {
		if id == conversationID {
			return false
		}
	}
	s.RecentThreads = append(s.RecentThreads, conversationID)
	if len(s.RecentThreads) > recentThreadCap {
		s.RecentThreads = s.RecentThreads[len(s.RecentThreads)-recentThreadCap:]
	}
	s.ThreadsStarted++
	return true
}

// Persist writes the user's record to disk atomically. Best effort: the
// caller logs, nothing retries.
func (m *Manager) Persist(userID string) error {
	m.mu.Lock()
	s, ok := m.users[userID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.statePath(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".onboarding-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), m.statePath(userID)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
