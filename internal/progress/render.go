package progress

import (
	"fmt"
	"strings"

	"github.com/troupehq/troupe/internal/format"
	"github.com/troupehq/troupe/pkg/models"
)

var planSeparator = strings.Repeat("─", 39)

// renderSimple is the one-line status used before the execution reveals a
// plan: the current tool, elapsed time, and any queued follow-ups.
func renderSimple(tool, agent, duration string, queued int) string {
	var label string
	switch {
	case tool == "delegate" && agent != "":
		label = "Delegating to " + agent
	case tool == "":
		label = "Thinking"
	default:
		label = format.FriendlyToolName(tool)
	}

	line := "⚙️ " + label + "…"
	if duration != "" {
		line += " · " + duration
	}
	if queued > 0 {
		line += " · " + format.Plural(queued, "message") + " queued"
	}
	return line
}

// renderPlan is the multi-line status shown once the todo tool has
// published a plan. Completed items collapse past two, pending items past
// two, and in-progress items always show their active form.
func renderPlan(todos []models.TodoItem, tool, agent, instance, duration string, queued int) string {
	var b strings.Builder
	b.WriteString("⚙️ " + instance)
	if duration != "" {
		b.WriteString(" · " + duration)
	}
	b.WriteByte('\n')
	b.WriteString(planSeparator)
	b.WriteByte('\n')

	var completed, inProgress, pending []models.TodoItem
	for _, item := range todos {
		switch item.Status {
		case models.TodoCompleted:
			completed = append(completed, item)
		case models.TodoInProgress:
			inProgress = append(inProgress, item)
		default:
			pending = append(pending, item)
		}
	}

	if len(completed) > 2 {
		fmt.Fprintf(&b, "✅  %d completed\n", len(completed))
	} else {
		for _, item := range completed {
			fmt.Fprintf(&b, "✅  %s\n", item.Content)
		}
	}
	for _, item := range inProgress {
		fmt.Fprintf(&b, "▸  *%s*\n", item.Label())
	}
	for i, item := range pending {
		if i == 2 {
			break
		}
		fmt.Fprintf(&b, "○  %s\n", item.Content)
	}
	if len(pending) > 2 {
		fmt.Fprintf(&b, "    +%d more\n", len(pending)-2)
	}

	toolText := "Thinking"
	switch {
	case tool == "delegate" && agent != "":
		toolText = "Delegating to " + agent
	case tool == "delegate":
		toolText = "Delegating to agent"
	case tool != "":
		toolText = format.FriendlyToolName(tool)
	}
	fmt.Fprintf(&b, "🔧 %s · %d of %d complete", toolText, len(completed), len(todos))
	if queued > 0 {
		b.WriteString(" · " + format.Plural(queued, "message") + " queued")
	}
	return b.String()
}
