package workers

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Canonical TASKS.md section names in render order.
const (
	SectionActive  = "Active"
	SectionWaiting = "Waiting on User"
	SectionParked  = "Parked"
	SectionDone    = "Done (last 30 days)"
)

var sectionOrder = []string{SectionActive, SectionWaiting, SectionParked, SectionDone}

// A field line: exactly 2-space indent, word key, colon, optional value.
var fieldRe = regexp.MustCompile(`^  (\w[\w_]*):\s?(.*)$`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// sanitizeValue collapses a value to a single line.
func sanitizeValue(value string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(value, " "))
}

// Field is one key: value line of a task entry. Order is preserved.
type Field struct {
	Key   string
	Value string
}

// Task is a single ledger entry.
type Task struct {
	ID     string
	Fields []Field
}

// Get returns the value for key, or "".
func (t *Task) Get(key string) string {
	for _, f := range t.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Set replaces key's value or appends the field.
func (t *Task) Set(key, value string) {
	for i := range t.Fields {
		if t.Fields[i].Key == key {
			t.Fields[i].Value = value
			return
		}
	}
	t.Fields = append(t.Fields, Field{Key: key, Value: value})
}

// TaskFile is the parsed TASKS.md structure: ordered sections containing
// task entries. Canonical sections always exist; extra sections found in
// the file are preserved after them.
type TaskFile struct {
	names []string
	tasks map[string][]*Task
}

// NewTaskFile returns a TaskFile with the canonical sections pre-seeded.
func NewTaskFile() *TaskFile {
	tf := &TaskFile{tasks: make(map[string][]*Task)}
	for _, name := range sectionOrder {
		tf.ensure(name)
	}
	return tf
}

func (f *TaskFile) ensure(name string) {
	if _, ok := f.tasks[name]; ok {
		return
	}
	f.names = append(f.names, name)
	f.tasks[name] = nil
}

// Sections returns the section names in render order.
func (f *TaskFile) Sections() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Section returns the tasks of a section, creating it if needed.
func (f *TaskFile) Section(name string) []*Task {
	f.ensure(name)
	return f.tasks[name]
}

// Insert puts a task at the front of a section.
func (f *TaskFile) Insert(section string, t *Task) {
	f.ensure(section)
	f.tasks[section] = append([]*Task{t}, f.tasks[section]...)
}

// Find locates a task by id across all sections.
func (f *TaskFile) Find(id string) (string, *Task, bool) {
	for _, name := range f.names {
		for _, t := range f.tasks[name] {
			if t.ID == id {
				return name, t, true
			}
		}
	}
	return "", nil, false
}

// Remove deletes a task by id from whatever section holds it.
func (f *TaskFile) Remove(id string) *Task {
	for _, name := range f.names {
		tasks := f.tasks[name]
		for i, t := range tasks {
			if t.ID == id {
				f.tasks[name] = append(tasks[:i], tasks[i+1:]...)
				return t
			}
		}
	}
	return nil
}

// normalizeSection maps heading variants onto canonical names, so an old
// "## Done" heading keeps feeding the Done section.
func normalizeSection(name string) string {
	if strings.HasPrefix(strings.ToLower(name), "done") {
		return SectionDone
	}
	return name
}

// ParseTasks parses TASKS.md content. Unrecognized lines inside an entry
// are appended to the previous field value, which absorbs multi-line
// values leaked in by hand edits.
func ParseTasks(content string) *TaskFile {
	tf := NewTaskFile()

	var currentSection string
	var currentTask *Task
	lastKey := ""

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "# ") && !strings.HasPrefix(stripped, "## ") {
			currentTask = nil
			lastKey = ""
			continue
		}

		if strings.HasPrefix(stripped, "## ") {
			currentSection = normalizeSection(strings.TrimSpace(stripped[3:]))
			tf.ensure(currentSection)
			currentTask = nil
			lastKey = ""
			continue
		}

		if stripped == "" {
			currentTask = nil
			lastKey = ""
			continue
		}

		if currentSection == "" {
			continue
		}

		if strings.HasPrefix(stripped, "- id: ") {
			currentTask = &Task{ID: strings.TrimSpace(stripped[6:])}
			tf.tasks[currentSection] = append(tf.tasks[currentSection], currentTask)
			lastKey = ""
			continue
		}

		if currentTask != nil {
			if m := fieldRe.FindStringSubmatch(line); m != nil {
				currentTask.Set(m[1], m[2])
				lastKey = m[1]
				continue
			}
			if lastKey != "" {
				currentTask.Set(lastKey, currentTask.Get(lastKey)+" "+stripped)
			}
		}
	}
	return tf
}

// renderTasks writes a TaskFile back to markdown.
func renderTasks(tf *TaskFile) string {
	lines := []string{"# Task Memory", ""}
	for _, name := range tf.names {
		lines = append(lines, "## "+name)
		tasks := tf.tasks[name]
		if len(tasks) == 0 {
			lines = append(lines, "")
			continue
		}
		for _, t := range tasks {
			lines = append(lines, "- id: "+t.ID)
			for _, f := range t.Fields {
				lines = append(lines, "  "+f.Key+": "+sanitizeValue(f.Value))
			}
			lines = append(lines, "")
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// Store is the mutex-guarded, atomically written TASKS.md ledger for one
// instance working directory.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a ledger store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the ledger file path.
func (s *Store) Path() string { return s.path }

// AddActive records a freshly dispatched task at the front of Active.
func (s *Store) AddActive(taskID, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, err := s.load()
	if err != nil {
		return err
	}
	tf.Insert(SectionActive, &Task{
		ID: taskID,
		Fields: []Field{
			{Key: "description", Value: sanitizeValue(truncateRunes(description, 200))},
			{Key: "started", Value: time.Now().Format("2006-01-02")},
			{Key: "status", Value: "worker dispatched"},
		},
	})
	return s.write(tf)
}

// Complete moves a task to the front of Done, carrying artifacts over.
func (s *Store) Complete(taskID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, err := s.load()
	if err != nil {
		return err
	}
	old := tf.Remove(taskID)
	done := &Task{
		ID: taskID,
		Fields: []Field{
			{Key: "completed", Value: time.Now().Format("2006-01-02")},
			{Key: "summary", Value: sanitizeValue(summary)},
		},
	}
	if old != nil {
		if artifacts := old.Get("artifacts"); artifacts != "" {
			done.Set("artifacts", artifacts)
		}
	}
	tf.Insert(SectionDone, done)
	return s.write(tf)
}

// Fail marks a task failed in place.
func (s *Store) Fail(taskID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, err := s.load()
	if err != nil {
		return err
	}
	if _, t, ok := tf.Find(taskID); ok {
		t.Set("status", "failed -- "+sanitizeValue(truncateRunes(errMsg, 200)))
	}
	return s.write(tf)
}

// ReadAll returns the current ledger snapshot.
func (s *Store) ReadAll() (*TaskFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*TaskFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTaskFile(), nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return ParseTasks(string(data)), nil
}

// write renders to a temp file in the same directory and renames it over
// the ledger, so readers never see a half-written file.
func (s *Store) write(tf *TaskFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tasks-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(renderTasks(tf)); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
