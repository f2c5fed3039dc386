package dispatch

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/slack"
)

// ModeRoundtable fans unaddressed channel messages out to every instance.
const ModeRoundtable = "roundtable"

// topicTTL is how long a fetched channel topic is trusted before the next
// message refetches it. Topic edits take at most this long to apply.
const topicTTL = 60 * time.Second

// Directives are the routing controls embedded in a channel topic. They
// coexist with prose; everything else in the topic is ignored.
type Directives struct {
	Instance string // [instance:x] pins all traffic to x
	Default  string // [default:x] catches unaddressed messages
	Mode     string // [mode:roundtable] activates fan-out
	Name     string // channel name, carried for prompt context
}

var directivePattern = regexp.MustCompile(`\[(\w+):(\w+)\]`)

// ParseTopic extracts routing directives from a channel topic. Keys and
// values match case-insensitively; unknown keys and instance names that
// are not configured are ignored rather than erroring, since topics are
// user-edited text.
func ParseTopic(topic string, names []string) Directives {
	var d Directives
	known := make(map[string]string, len(names))
	for _, n := range names {
		known[strings.ToLower(n)] = n
	}
	for _, m := range directivePattern.FindAllStringSubmatch(topic, -1) {
		key, value := strings.ToLower(m[1]), strings.ToLower(m[2])
		switch key {
		case "instance":
			if name, ok := known[value]; ok {
				d.Instance = name
			}
		case "default":
			if name, ok := known[value]; ok {
				d.Default = name
			}
		case "mode":
			if value == ModeRoundtable {
				d.Mode = value
			}
		}
	}
	return d
}

// topicCache serves channel directives with a short TTL so hot channels
// do not hit conversations.info on every message. Fetch failures are
// served as empty directives and cached like any other result; a broken
// topic fetch degrades routing to defaults instead of stalling it.
type topicCache struct {
	client slack.Client
	names  []string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]topicEntry
}

type topicEntry struct {
	directives Directives
	fetched    time.Time
}

func newTopicCache(client slack.Client, names []string, logger *slog.Logger) *topicCache {
	return &topicCache{
		client:  client,
		names:   names,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]topicEntry),
	}
}

// Get returns the directives for channel, fetching on miss or expiry.
func (c *topicCache) Get(ctx context.Context, channel string) Directives {
	c.mu.Lock()
	if e, ok := c.entries[channel]; ok && c.now().Sub(e.fetched) < topicTTL {
		c.mu.Unlock()
		return e.directives
	}
	c.mu.Unlock()

	var d Directives
	info, err := c.client.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{
		ChannelID: channel,
	})
	if err != nil {
		c.logger.Warn("channel info fetch failed", "channel", channel, "error", err)
	} else {
		d = ParseTopic(info.Topic.Value, c.names)
		d.Name = info.Name
	}

	c.mu.Lock()
	c.entries[channel] = topicEntry{directives: d, fetched: c.now()}
	c.mu.Unlock()
	return d
}
