package dispatch

import "strings"

// niceties are greeting words tolerated before an instance name, so
// "hey alpha, look at this" routes the same as "alpha, look at this".
var niceties = []string{"hey ", "hi ", "yo "}

// ParseInstancePrefix resolves which instance a message addresses. It
// recognizes "alpha: text", "alpha, text", "@alpha text", a bare leading
// name, and any of those behind a greeting, all case-insensitively.
// Embedded occurrences ("the alpha build") do not match. When no name
// leads the text, the fallback is returned with explicit false and the
// text untouched.
func ParseInstancePrefix(text string, names []string, fallback string) (instance, remaining string, explicit bool) {
	trimmed := strings.TrimSpace(text)
	if name, rest, ok := matchLeadingName(trimmed, names); ok {
		return name, rest, true
	}
	lower := strings.ToLower(trimmed)
	for _, nicety := range niceties {
		if !strings.HasPrefix(lower, nicety) {
			continue
		}
		if name, rest, ok := matchLeadingName(strings.TrimSpace(trimmed[len(nicety):]), names); ok {
			return name, rest, true
		}
		break
	}
	return fallback, trimmed, false
}

// matchLeadingName matches text against each known name at position zero,
// optionally behind "@", followed by a separator or end of text. Instance
// names are ASCII (enforced at config load), so byte offsets are safe.
func matchLeadingName(text string, names []string) (string, string, bool) {
	lower := strings.ToLower(text)
	for _, name := range names {
		nameLower := strings.ToLower(name)
		candidate, body := lower, text
		if strings.HasPrefix(lower, "@") {
			candidate, body = lower[1:], text[1:]
		}
		if !strings.HasPrefix(candidate, nameLower) {
			continue
		}
		rest := body[len(name):]
		if rest == "" {
			return name, "", true
		}
		switch rest[0] {
		case ':', ',':
			return name, strings.TrimSpace(rest[1:]), true
		case ' ', '\t', '\n':
			return name, strings.TrimSpace(rest), true
		}
		// A longer word that happens to start with the name.
	}
	return "", "", false
}
