package slack

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/format"
	"github.com/troupehq/troupe/internal/retry"
)

// Persona is the display identity for a final response post. Requires the
// chat:write.customize scope; persona posts cannot be edited afterwards,
// which is why progress lives on a separate bot-identity message.
type Persona struct {
	Name  string
	Emoji string
}

// Error codes retrying cannot fix.
var permanentSlackCodes = []string{
	"invalid_auth",
	"account_inactive",
	"token_revoked",
	"missing_scope",
	"not_allowed_token_type",
	"channel_not_found",
	"not_in_channel",
	"is_archived",
	"message_not_found",
	"cant_update_message",
	"cant_delete_message",
	"msg_too_long",
	"no_text",
	"already_reacted",
	"no_reaction",
	"invalid_name",
	"bad_timestamp",
}

func isPermanentSlackError(err error) bool {
	msg := err.Error()
	for _, code := range permanentSlackCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// Poster wraps the Web API calls that carry conversation traffic: status
// posts and edits, persona posts, reactions. Transient failures retry
// with backoff; rate limits honor the server's retry-after.
type Poster struct {
	client Client
	retry  retry.Config
	logger *slog.Logger
}

// NewPoster builds a poster with the default retry budget.
func NewPoster(client Client, logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		client: client,
		retry:  retry.Exponential(3, 500*time.Millisecond, 10*time.Second),
		logger: logger.With("component", "poster"),
	}
}

func (p *Poster) do(ctx context.Context, op func() error) error {
	result := retry.Do(ctx, p.retry, func() error {
		err := op()
		if err == nil {
			return nil
		}
		var rl *slack.RateLimitedError
		if errors.As(err, &rl) {
			// Honor the server-directed wait, then let the budget decide.
			select {
			case <-ctx.Done():
				return retry.Permanent(ctx.Err())
			case <-time.After(rl.RetryAfter):
			}
			return err
		}
		if isPermanentSlackError(err) {
			return retry.Permanent(err)
		}
		return err
	})
	return result.Err
}

// PostStatus posts an editable bot-identity message and returns its
// timestamp. Only bot-identity posts accept chat.update.
func (p *Poster) PostStatus(ctx context.Context, channel, threadTS, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	var ts string
	err := p.do(ctx, func() error {
		var postErr error
		_, ts, postErr = p.client.PostMessageContext(ctx, channel, opts...)
		return postErr
	})
	return ts, err
}

// UpdateStatus edits a previously posted status message in place.
func (p *Poster) UpdateStatus(ctx context.Context, channel, ts, text string) error {
	return p.do(ctx, func() error {
		_, _, _, err := p.client.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(text, false))
		return err
	})
}

// DeleteStatus removes a status message. An already-deleted message is
// success, not an error.
func (p *Poster) DeleteStatus(ctx context.Context, channel, ts string) error {
	err := p.do(ctx, func() error {
		_, _, err := p.client.DeleteMessageContext(ctx, channel, ts)
		return err
	})
	if err != nil && strings.Contains(err.Error(), "message_not_found") {
		return nil
	}
	return err
}

// PostPersona posts a final response under the instance persona,
// converting markdown to Slack mrkdwn on the way out. Returns the post's
// timestamp.
func (p *Poster) PostPersona(ctx context.Context, channel, threadTS string, persona Persona, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(format.ToMrkdwn(text), false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if persona.Name != "" {
		opts = append(opts, slack.MsgOptionUsername(persona.Name))
	}
	if persona.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(persona.Emoji))
	}
	var ts string
	err := p.do(ctx, func() error {
		var postErr error
		_, ts, postErr = p.client.PostMessageContext(ctx, channel, opts...)
		return postErr
	})
	return ts, err
}

// PostPlain posts an unformatted bot-identity message (welcome DMs,
// back-channel notices). Returns the post's timestamp.
func (p *Poster) PostPlain(ctx context.Context, channel, threadTS, text string) (string, error) {
	return p.PostStatus(ctx, channel, threadTS, text)
}

// AddReaction places an emoji on a message. Reacting twice is success.
func (p *Poster) AddReaction(ctx context.Context, channel, ts, name string) error {
	err := p.do(ctx, func() error {
		return p.client.AddReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
	})
	if err != nil && strings.Contains(err.Error(), "already_reacted") {
		return nil
	}
	return err
}

// RemoveReaction clears an emoji from a message. A missing reaction is
// success.
func (p *Poster) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	err := p.do(ctx, func() error {
		return p.client.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
	})
	if err != nil && (strings.Contains(err.Error(), "no_reaction") || strings.Contains(err.Error(), "message_not_found")) {
		return nil
	}
	return err
}
