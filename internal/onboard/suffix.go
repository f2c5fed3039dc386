package onboard

import (
	"regexp"
	"strings"
	"time"
)

// separator starts every teaching suffix: a rule line under the response.
var separator = "\n" + strings.Repeat("─", 31) + "\n"

// Teaching suffixes. At most one per response.
var (
	threadFooter = separator +
		"_New thread, fresh start — I don't have context from your other conversations._"

	crossThreadNote = separator +
		"_Heads up: each thread is its own conversation, so I don't have context " +
		"from other threads. If you're referring to something specific, paste it " +
		"here and I'll pick right up._"

	tipRegenerate = separator +
		"_Tip: React with :arrows_counterclockwise: on any of my responses to get a fresh take._"

	tipFileUpload = separator +
		"_Tip: You can drop files into the thread — code, images, docs. I'll read them._"

	tipMidExecution = separator +
		"_Tip: When you see the :hourglass_flowing_sand:, you can send follow-up " +
		"messages to steer what I'm doing._"
)

// crossThreadPatterns detects backward references to conversations this
// thread never saw ("as I mentioned", "remember when", "you said"...).
var crossThreadPatterns = regexp.MustCompile(`(?i)\b(` +
	`as (?:I|we) (?:said|mentioned|asked|described|discussed|noted)` +
	`|like (?:I|we) (?:said|discussed|talked about|mentioned)` +
	`|remember (?:when|what|that thing|the)` +
	`|(?:from|going back to) (?:earlier|before|our (?:last|previous))` +
	`|you (?:said|told me|mentioned|suggested|recommended)` +
	`|(?:earlier|previously|last time) (?:you|I|we)` +
	`|(?:in|from) (?:the|that|my) other (?:thread|conversation|chat|channel)` +
	`|continu(?:e|ing) (?:from |our |where )` +
	`|pick(?:ing)? up where` +
	`)`)

// HasCrossThreadReference reports whether text refers back to another
// conversation.
func HasCrossThreadReference(text string) bool {
	return crossThreadPatterns.MatchString(text)
}

// midExecutionThreshold is the response duration past which the
// follow-up steering tip becomes relevant.
const midExecutionThreshold = 20 * time.Second

// Suffix picks the teaching suffix for a response, or "". Priority,
// first match wins:
//
//  1. cross-thread confusion note (reactive, three lifetime showings)
//  2. fresh-start footer (first three threads)
//  3. mid-execution tip (first response over 20s, after footer phase)
//  4. regenerate tip (first new thread after footer phase)
//  5. file-upload tip (next new thread after the regenerate tip)
//
// State mutates as suffixes are handed out, so each tip shows once ever.
func (m *Manager) Suffix(userID string, newThread bool, elapsed time.Duration, crossRef bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(userID)

	if crossRef && newThread && s.CrossThreadNotesShown < 3 {
		s.CrossThreadNotesShown++
		return crossThreadNote
	}

	if newThread && s.ThreadsStarted <= 3 {
		return threadFooter
	}
	if s.ThreadsStarted <= 3 {
		return ""
	}

	if elapsed > midExecutionThreshold && s.TipsShown["mid_execution"] == "" {
		s.TipsShown["mid_execution"] = now()
		return tipMidExecution
	}

	if !newThread {
		return ""
	}
	for _, tip := range []struct {
		name string
		text string
	}{
		{"regenerate", tipRegenerate},
		{"file_upload", tipFileUpload},
	} {
		if s.TipsShown[tip.name] == "" {
			s.TipsShown[tip.name] = now()
			return tip.text
		}
	}
	return ""
}
