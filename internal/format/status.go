package format

import (
	"fmt"
	"strings"
	"time"
)

// friendlyToolNames maps tool identifiers to the labels shown in status
// messages. Anything absent falls back to "Working (<name>)".
var friendlyToolNames = map[string]string{
	"read_file":       "Reading files",
	"write_file":      "Writing files",
	"edit_file":       "Editing files",
	"run_command":     "Running command",
	"list_files":      "Searching files",
	"grep":            "Searching content",
	"web_search":      "Searching the web",
	"web_fetch":       "Fetching web page",
	"delegate":        "Delegating to agent",
	"todo":            "Managing tasks",
	"dispatch_worker": "Delegating work",
}

// FriendlyToolName returns the human label for a tool identifier.
func FriendlyToolName(tool string) string {
	if label, ok := friendlyToolNames[tool]; ok {
		return label
	}
	return fmt.Sprintf("Working (%s)", tool)
}

// Duration renders an elapsed time for status headers. Durations under ten
// seconds render empty so fresh executions do not flicker a counter.
func Duration(d time.Duration) string {
	s := int(d.Seconds())
	if s < 10 {
		return ""
	}
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	m, rem := s/60, s%60
	if rem == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm %ds", m, rem)
}

// Plural appends "s" to a noun unless n is exactly one.
func Plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// Truncate shortens text to at most limit runes, marking the cut.
func Truncate(text string, limit int) string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return text
	}
	runes := []rune(text)
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}

// Bytes renders a byte count for user-facing messages ("512 B", "2.3 MB").
func Bytes(n int64) string {
	switch {
	case n >= 1<<30:
		return trimTrailingZeros(fmt.Sprintf("%.1f", float64(n)/(1<<30))) + " GB"
	case n >= 1<<20:
		return trimTrailingZeros(fmt.Sprintf("%.1f", float64(n)/(1<<20))) + " MB"
	case n >= 1<<10:
		return trimTrailingZeros(fmt.Sprintf("%.1f", float64(n)/(1<<10))) + " KB"
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// trimTrailingZeros drops a redundant fractional part ("1.0" → "1") while
// keeping significant digits ("1.5" stays "1.5").
func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}
