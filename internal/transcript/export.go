package transcript

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/troupehq/troupe/pkg/models"
)

// ExportEntry is one conversation's transcript bundled into a single
// document.
type ExportEntry struct {
	File         string           `json:"file"`
	Instance     string           `json:"instance,omitempty"`
	Conversation string           `json:"conversation,omitempty"`
	Messages     []models.Message `json:"messages"`
}

// ExportAll loads every persisted transcript and returns one entry per
// conversation file, sorted by file name. instances, when given, recovers
// the (instance, conversation) split from file stems by longest-prefix
// match; stems that match no instance keep both fields empty.
func (s *Store) ExportAll(instances []string) ([]ExportEntry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("transcript: scan %s: %w", s.dir, err)
	}
	sort.Strings(paths)

	byLength := append([]string(nil), instances...)
	sort.Slice(byLength, func(i, j int) bool { return len(byLength[i]) > len(byLength[j]) })

	entries := make([]ExportEntry, 0, len(paths))
	for _, path := range paths {
		stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		instance, conversation := splitStem(stem, byLength)

		msgs, err := s.loadPath(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ExportEntry{
			File:         filepath.Base(path),
			Instance:     instance,
			Conversation: conversation,
			Messages:     msgs,
		})
	}
	return entries, nil
}

// splitStem undoes Path's instance-conversation join. instances must be
// sorted longest first so "review-bot" wins over "review".
func splitStem(stem string, instances []string) (string, string) {
	for _, name := range instances {
		if rest, ok := strings.CutPrefix(stem, name+"-"); ok {
			return name, rest
		}
	}
	return "", ""
}
