package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// redialDelay spaces reconnect attempts after the socket loop exits.
const redialDelay = 3 * time.Second

// Config carries the two Slack credentials.
type Config struct {
	BotToken string // xoxb-, Web API
	AppToken string // xapp-, Socket Mode
	Debug    bool
}

// Gateway pumps Socket Mode events, filters noise (bot echoes, irrelevant
// subtypes), normalizes payloads, and hands them to a Handler. It owns the
// reconnect loop; Kick tears down the current connection so Run redials.
type Gateway struct {
	api     Client
	dial    func() SocketClient
	handler Handler
	logger  *slog.Logger
	redial  time.Duration

	mu        sync.RWMutex
	botUserID string
	connected bool
	kick      context.CancelFunc
}

// NewGateway builds a gateway over real Slack clients.
func NewGateway(cfg Config, handler Handler, logger *slog.Logger) *Gateway {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return NewGatewayWithClients(api, NewSocketDialer(api, cfg.Debug), handler, logger)
}

// NewSocketDialer returns a dial function over the real Socket Mode client.
// Callers that share one Web API client across components pair this with
// NewGatewayWithClients.
func NewSocketDialer(api *slack.Client, debug bool) func() SocketClient {
	return func() SocketClient {
		return &socketModeClient{client: socketmode.New(api, socketmode.OptionDebug(debug))}
	}
}

// NewGatewayWithClients wires explicit clients. Tests inject mocks here.
func NewGatewayWithClients(api Client, dial func() SocketClient, handler Handler, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		api:     api,
		dial:    dial,
		handler: handler,
		logger:  logger.With("component", "slack"),
		redial:  redialDelay,
	}
}

// Run authenticates, then pumps socket connections until ctx ends. Each
// pass dials a fresh Socket Mode client; transient drops are reconnected
// inside the library, and Kick or a fatal error lands back here.
func (g *Gateway) Run(ctx context.Context) error {
	auth, err := g.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth.test: %w", err)
	}
	g.mu.Lock()
	g.botUserID = auth.UserID
	g.mu.Unlock()
	g.logger.Info("gateway authenticated", "bot_user", auth.UserID, "team", auth.Team)

	for {
		runCtx, cancel := context.WithCancel(ctx)
		g.setKick(cancel)
		err := g.pump(runCtx, g.dial())
		cancel()
		g.setConnected(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Warn("socket connection ended, redialing", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.redial):
		}
	}
}

// Kick forces a reconnect. The watchdog calls this for staleness the
// socket library cannot observe (clock jumps after sleep, revoked auth).
func (g *Gateway) Kick(reason string) {
	g.logger.Warn("forcing reconnect", "reason", reason)
	g.mu.RLock()
	kick := g.kick
	g.mu.RUnlock()
	if kick != nil {
		kick()
	}
}

// BotUserID returns the authenticated bot user, known after Run starts.
func (g *Gateway) BotUserID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.botUserID
}

// Connected reports whether a socket is currently established.
func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *Gateway) setKick(cancel context.CancelFunc) {
	g.mu.Lock()
	g.kick = cancel
	g.mu.Unlock()
}

func (g *Gateway) setConnected(connected bool) {
	g.mu.Lock()
	g.connected = connected
	g.mu.Unlock()
}

func (g *Gateway) pump(ctx context.Context, socket SocketClient) error {
	runErr := make(chan error, 1)
	go func() { runErr <- socket.Run(ctx) }()

	for {
		select {
		case err := <-runErr:
			return err
		case ev, ok := <-socket.Events():
			if !ok {
				return errors.New("slack: event stream closed")
			}
			g.route(ctx, socket, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gateway) route(ctx context.Context, socket SocketClient, ev socketmode.Event) {
	switch ev.Type {
	case socketmode.EventTypeConnecting:
		g.logger.Info("connecting to slack")
	case socketmode.EventTypeConnectionError:
		g.setConnected(false)
		g.logger.Warn("slack connection error", "data", fmt.Sprint(ev.Data))
	case socketmode.EventTypeConnected:
		g.setConnected(true)
		g.logger.Info("connected to slack")
	case socketmode.EventTypeHello:
		// Server greeting after (re)connect.
	case socketmode.EventTypeEventsAPI:
		g.handleEventsAPI(ctx, socket, ev)
	case socketmode.EventTypeInteractive:
		g.handleInteractive(ctx, socket, ev)
	case socketmode.EventTypeSlashCommand:
		// Not part of the surface; ack so Slack stops redelivering.
		if ev.Request != nil {
			socket.Ack(*ev.Request)
		}
	}
}

func (g *Gateway) handleEventsAPI(ctx context.Context, socket SocketClient, ev socketmode.Event) {
	// Ack first: Slack redelivers unacked envelopes, and handling may
	// spawn work that outlives the ack deadline.
	if ev.Request != nil {
		socket.Ack(*ev.Request)
	}
	payload, ok := ev.Data.(slackevents.EventsAPIEvent)
	if !ok {
		g.logger.Warn("unexpected events api payload", "type", fmt.Sprintf("%T", ev.Data))
		return
	}
	if payload.Type != slackevents.CallbackEvent {
		return
	}

	switch inner := payload.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.User == "" || inner.User == g.BotUserID() {
			return
		}
		g.dispatchMessage(ctx, &MessageEvent{
			Channel:   inner.Channel,
			User:      inner.User,
			Text:      inner.Text,
			Timestamp: inner.TimeStamp,
			ThreadTS:  inner.ThreadTimeStamp,
			Mention:   true,
		})
	case *slackevents.MessageEvent:
		g.handleMessage(ctx, inner)
	case *slackevents.ReactionAddedEvent:
		g.handleReaction(ctx, inner.User, inner.Reaction, inner.ItemUser, inner.Item, false)
	case *slackevents.ReactionRemovedEvent:
		g.handleReaction(ctx, inner.User, inner.Reaction, inner.ItemUser, inner.Item, true)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Drop bot echoes — including our own status and persona posts — and
	// subtypes that are edits, joins, and similar noise. file_share is the
	// one subtype that carries user intent.
	if ev.BotID != "" || ev.User == "" || ev.User == g.BotUserID() {
		return
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}

	msg := &MessageEvent{
		Channel:     ev.Channel,
		ChannelType: ev.ChannelType,
		User:        ev.User,
		Text:        ev.Text,
		Timestamp:   ev.TimeStamp,
		ThreadTS:    ev.ThreadTimeStamp,
		SubType:     ev.SubType,
	}
	for _, f := range ev.Files {
		url := f.URLPrivateDownload
		if url == "" {
			url = f.URLPrivate
		}
		msg.Files = append(msg.Files, File{
			ID:          f.ID,
			Name:        f.Name,
			Mimetype:    f.Mimetype,
			Size:        f.Size,
			DownloadURL: url,
		})
	}
	g.dispatchMessage(ctx, msg)
}

func (g *Gateway) handleReaction(ctx context.Context, user, reaction, itemUser string, item slackevents.Item, removed bool) {
	// The core's own ack reactions come back as events; ignore them.
	if user == "" || user == g.BotUserID() {
		return
	}
	if item.Type != "message" {
		return
	}
	g.dispatchReaction(ctx, &ReactionEvent{
		User:     user,
		Reaction: reaction,
		Channel:  item.Channel,
		ItemTS:   item.Timestamp,
		ItemUser: itemUser,
		Removed:  removed,
	})
}

func (g *Gateway) handleInteractive(ctx context.Context, socket SocketClient, ev socketmode.Event) {
	if ev.Request != nil {
		socket.Ack(*ev.Request)
	}
	cb, ok := ev.Data.(slack.InteractionCallback)
	if !ok {
		g.logger.Warn("unexpected interactive payload", "type", fmt.Sprintf("%T", ev.Data))
		return
	}
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		g.dispatchBlockAction(ctx, &BlockAction{
			User:      cb.User.ID,
			ActionID:  action.ActionID,
			Value:     action.Value,
			Channel:   cb.Channel.ID,
			MessageTS: cb.Message.Timestamp,
		})
	}
}

// A panicking handler must not take the socket pump down with it.

func (g *Gateway) dispatchMessage(ctx context.Context, ev *MessageEvent) {
	if g.handler == nil {
		return
	}
	defer g.recoverHandler("message")
	g.handler.OnMessage(ctx, ev)
}

func (g *Gateway) dispatchReaction(ctx context.Context, ev *ReactionEvent) {
	if g.handler == nil {
		return
	}
	defer g.recoverHandler("reaction")
	g.handler.OnReaction(ctx, ev)
}

func (g *Gateway) dispatchBlockAction(ctx context.Context, ev *BlockAction) {
	if g.handler == nil {
		return
	}
	defer g.recoverHandler("block_action")
	g.handler.OnBlockAction(ctx, ev)
}

func (g *Gateway) recoverHandler(kind string) {
	if r := recover(); r != nil {
		g.logger.Error("event handler panicked", "kind", kind, "panic", r)
	}
}
