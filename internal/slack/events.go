package slack

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MessageEvent is a normalized inbound message: channel posts, thread
// replies, DMs, app mentions, and file shares all arrive through it.
type MessageEvent struct {
	Channel     string
	ChannelType string // "channel", "group", "im", "mpim"
	User        string
	Text        string
	Timestamp   string
	ThreadTS    string // empty for top-level messages
	SubType     string // "" or "file_share"
	Mention     bool   // arrived as app_mention
	Files       []File
}

// IsDM reports whether the message arrived in a direct message.
func (e *MessageEvent) IsDM() bool {
	return e.ChannelType == "im" || strings.HasPrefix(e.Channel, "D")
}

// File is the subset of Slack file metadata the core needs for intake.
type File struct {
	ID          string
	Name        string
	Mimetype    string
	Size        int
	DownloadURL string
}

// ReactionEvent is a normalized reaction_added or reaction_removed.
type ReactionEvent struct {
	User     string
	Reaction string // emoji name without colons
	Channel  string
	ItemTS   string // timestamp of the reacted-to message
	ItemUser string
	Removed  bool
}

// BlockAction is a normalized button click from a block_actions payload.
type BlockAction struct {
	User      string
	ActionID  string
	Value     string
	Channel   string
	MessageTS string
}

// Handler consumes normalized events. Implementations must return
// promptly: the gateway calls them on the pump goroutine, and a slow
// handler stalls the socket. Long work belongs in a spawned goroutine.
type Handler interface {
	OnMessage(ctx context.Context, ev *MessageEvent)
	OnReaction(ctx context.Context, ev *ReactionEvent)
	OnBlockAction(ctx context.Context, ev *BlockAction)
}

// ParseTimestamp converts a Slack "seconds.fraction" timestamp.
func ParseTimestamp(ts string) (time.Time, error) {
	var sec, frac int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &frac); err != nil {
		return time.Time{}, fmt.Errorf("slack: invalid timestamp %q: %w", ts, err)
	}
	return time.Unix(sec, frac*1000), nil
}

var mentionPrefix = regexp.MustCompile(`^<@[A-Z0-9]+>\s*`)

// StripMention removes a leading <@U…> mention from message text.
func StripMention(text string) string {
	return strings.TrimSpace(mentionPrefix.ReplaceAllString(text, ""))
}
