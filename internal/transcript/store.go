// Package transcript persists conversation context as append-only JSONL
// files, one per (instance, conversation) pair. Transcripts survive process
// restarts and are replayed into session context on first use.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/troupehq/troupe/pkg/models"
)

// maxLineBytes bounds a single transcript record. Tool results can carry
// large payloads, so this is well above Scanner's default.
const maxLineBytes = 4 * 1024 * 1024

// Store resolves, loads, and opens per-session transcript files under
// <state-dir>/sessions.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the sessions directory if needed and returns a store.
func NewStore(stateDir string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("transcript: create sessions dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the sessions directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the transcript file for a session. Conversation ids embed
// Slack identifiers that may contain path separators; those are flattened.
func (s *Store) Path(instance, conversationID string) string {
	name := fileSafe(instance) + "-" + fileSafe(conversationID) + ".jsonl"
	return filepath.Join(s.dir, name)
}

func fileSafe(part string) string {
	part = strings.ReplaceAll(part, string(os.PathSeparator), "_")
	return strings.ReplaceAll(part, "..", "_")
}

// Load replays a persisted transcript in order. A missing file yields an
// empty context. Unparseable lines are skipped with a warning rather than
// poisoning the whole session.
func (s *Store) Load(instance, conversationID string) ([]models.Message, error) {
	return s.loadPath(s.Path(instance, conversationID))
}

func (s *Store) loadPath(path string) ([]models.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()

	var msgs []models.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Warn("skipping corrupt transcript line",
				"path", path, "line", lineNo, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return msgs, fmt.Errorf("transcript: read %s: %w", path, err)
	}
	return msgs, nil
}

// Open returns an append-only writer for a session's transcript. Each
// session owns exactly one writer; the session mutex serializes appends.
func (s *Store) Open(instance, conversationID string) (*Writer, error) {
	path := s.Path(instance, conversationID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s for append: %w", path, err)
	}
	return &Writer{f: f, path: path}, nil
}

// Writer appends JSONL records to one transcript file.
type Writer struct {
	f    *os.File
	path string
}

// Append writes one message as a single JSON line.
func (w *Writer) Append(msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transcript: marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("transcript: append to %s: %w", w.path, err)
	}
	return nil
}

// Close releases the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
