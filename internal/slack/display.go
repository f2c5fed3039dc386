package slack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/hooks"
)

// Displays implements the hooks.Display back-channel: hook-originated
// messages posted into the conversation. Posting is fire-and-forget on a
// background goroutine — hooks must never block on Slack — and failures
// are logged, not returned.
type Displays struct {
	client Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDisplays builds the shared display surface.
func NewDisplays(client Client, logger *slog.Logger) *Displays {
	if logger == nil {
		logger = slog.Default()
	}
	return &Displays{client: client, logger: logger.With("component", "display")}
}

// Bind scopes the surface to one conversation for mounting on a session.
func (d *Displays) Bind(channel, threadTS string) hooks.Display {
	return &boundDisplays{surface: d, channel: channel, threadTS: threadTS}
}

// Wait blocks until in-flight posts finish. Called at shutdown so
// fire-and-forget work is owned, not orphaned.
func (d *Displays) Wait() {
	d.wg.Wait()
}

func (d *Displays) show(channel, threadTS, text, level, source string) {
	switch level {
	case hooks.LevelWarning:
		text = "⚠️ " + text
	case hooks.LevelError:
		text = "🚨 " + text
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		if _, _, err := d.client.PostMessageContext(ctx, channel, opts...); err != nil {
			d.logger.Debug("failed to post display message",
				"level", level, "source", source, "error", err)
		}
	}()
}

type boundDisplays struct {
	surface  *Displays
	channel  string
	threadTS string
}

func (b *boundDisplays) ShowMessage(ctx context.Context, text, level, source string) {
	b.surface.show(b.channel, b.threadTS, text, level, source)
}
