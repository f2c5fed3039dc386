// Package format converts model output into Slack mrkdwn and provides the
// small display helpers (tool labels, durations) shared by the progress
// pipeline and the posting layer.
package format

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]+`")
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	hruleRe      = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// hrule replaces markdown horizontal rules; Slack has no native equivalent.
var hrule = "\n" + strings.Repeat("━", 31) + "\n"

// ToMrkdwn converts standard markdown to Slack's mrkdwn dialect.
//
// Slack diverges from markdown in several ways: bold is *single asterisks*,
// links are <url|text>, and there is no heading or table syntax. Code spans
// are extracted first so their content survives the inline rewrites, and
// tables are converted before bold so cell markup is cleaned, not mangled.
func ToMrkdwn(text string) string {
	var protected []string
	protect := func(content string) string {
		protected = append(protected, content)
		return fmt.Sprintf("\x00P%d\x00", len(protected)-1)
	}

	text = codeBlockRe.ReplaceAllStringFunc(text, protect)
	text = inlineCodeRe.ReplaceAllStringFunc(text, protect)
	text = convertTables(text, protect)

	text = boldRe.ReplaceAllString(text, "*$1*")
	text = linkRe.ReplaceAllString(text, "<$2|$1>")
	text = headingRe.ReplaceAllString(text, "*$1*")
	text = hruleRe.ReplaceAllString(text, hrule)

	for i, content := range protected {
		text = strings.Replace(text, fmt.Sprintf("\x00P%d\x00", i), content, 1)
	}

	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
