package slack

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recordingHandler buffers normalized events so tests can assert on them
// without racing the pump goroutine.
type recordingHandler struct {
	messages  chan *MessageEvent
	reactions chan *ReactionEvent
	actions   chan *BlockAction
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages:  make(chan *MessageEvent, 16),
		reactions: make(chan *ReactionEvent, 16),
		actions:   make(chan *BlockAction, 16),
	}
}

func (h *recordingHandler) OnMessage(_ context.Context, ev *MessageEvent)    { h.messages <- ev }
func (h *recordingHandler) OnReaction(_ context.Context, ev *ReactionEvent)  { h.reactions <- ev }
func (h *recordingHandler) OnBlockAction(_ context.Context, ev *BlockAction) { h.actions <- ev }

func (h *recordingHandler) nextMessage(t *testing.T) *MessageEvent {
	t.Helper()
	select {
	case ev := <-h.messages:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (h *recordingHandler) expectNoMessage(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.messages:
		t.Fatalf("expected message to be filtered, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *recordingHandler) nextReaction(t *testing.T) *ReactionEvent {
	t.Helper()
	select {
	case ev := <-h.reactions:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reaction")
		return nil
	}
}

// newTestGateway starts a gateway over mocks and waits for authentication.
func newTestGateway(t *testing.T, handler Handler) (*Gateway, *MockSocketClient) {
	t.Helper()
	socket := NewMockSocketClient()
	gw := NewGatewayWithClients(&MockClient{}, func() SocketClient { return socket }, handler, testLogger())
	gw.redial = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = gw.Run(ctx) }()
	waitFor(t, "authentication", func() bool { return gw.BotUserID() != "" })
	return gw, socket
}

func messageEnvelope(ev *slackevents.MessageEvent) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Type: "message", Data: ev},
		},
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}
}

func TestGatewayRunAuthenticates(t *testing.T) {
	gw, _ := newTestGateway(t, newRecordingHandler())
	if got := gw.BotUserID(); got != "UBOT" {
		t.Errorf("BotUserID() = %q, want UBOT", got)
	}
}

func TestGatewayAuthFailure(t *testing.T) {
	api := &MockClient{
		AuthTestContextFunc: func(ctx context.Context) (*slack.AuthTestResponse, error) {
			return nil, errors.New("invalid_auth")
		},
	}
	gw := NewGatewayWithClients(api, func() SocketClient { return NewMockSocketClient() }, newRecordingHandler(), testLogger())
	err := gw.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail when auth.test fails")
	}
}

func TestGatewayDeliversNormalizedMessage(t *testing.T) {
	handler := newRecordingHandler()
	_, socket := newTestGateway(t, handler)

	socket.EventsChan <- messageEnvelope(&slackevents.MessageEvent{
		Type:            "message",
		User:            "U123",
		Text:            "hello there",
		Channel:         "C42",
		ChannelType:     "channel",
		TimeStamp:       "1700000100.000200",
		ThreadTimeStamp: "1700000000.000100",
	})

	msg := handler.nextMessage(t)
	if msg.User != "U123" || msg.Text != "hello there" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Channel != "C42" || msg.ChannelType != "channel" {
		t.Errorf("channel fields = %q/%q", msg.Channel, msg.ChannelType)
	}
	if msg.Timestamp != "1700000100.000200" || msg.ThreadTS != "1700000000.000100" {
		t.Errorf("timestamps = %q/%q", msg.Timestamp, msg.ThreadTS)
	}
	if msg.Mention {
		t.Error("plain channel message should not be flagged as mention")
	}
}

func TestGatewayAcksBeforeFiltering(t *testing.T) {
	handler := newRecordingHandler()
	_, socket := newTestGateway(t, handler)

	var acks atomic.Int32
	socket.AckFunc = func(req socketmode.Request, payload ...interface{}) { acks.Add(1) }

	// A bot echo is dropped, but its envelope still gets acked so Slack
	// does not redeliver it.
	socket.EventsChan <- messageEnvelope(&slackevents.MessageEvent{
		Type: "message", BotID: "B999", Channel: "C42", TimeStamp: "1.2",
	})
	waitFor(t, "ack", func() bool { return acks.Load() == 1 })
	handler.expectNoMessage(t)
}

func TestGatewayFiltersSelfAndBots(t *testing.T) {
	tests := []struct {
		name  string
		event *slackevents.MessageEvent
	}{
		{"bot message", &slackevents.MessageEvent{Type: "message", BotID: "B1", User: "U1", Channel: "C1", TimeStamp: "1.2", Text: "x"}},
		{"own message", &slackevents.MessageEvent{Type: "message", User: "UBOT", Channel: "C1", TimeStamp: "1.2", Text: "x"}},
		{"no user", &slackevents.MessageEvent{Type: "message", Channel: "C1", TimeStamp: "1.2", Text: "x"}},
		{"edited message", &slackevents.MessageEvent{Type: "message", User: "U1", SubType: "message_changed", Channel: "C1", TimeStamp: "1.2", Text: "x"}},
		{"channel join", &slackevents.MessageEvent{Type: "message", User: "U1", SubType: "channel_join", Channel: "C1", TimeStamp: "1.2"}},
	}

	handler := newRecordingHandler()
	_, socket := newTestGateway(t, handler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			socket.EventsChan <- messageEnvelope(tt.event)
			handler.expectNoMessage(t)
		})
	}
}

func TestGatewayFileShareSubtypePasses(t *testing.T) {
	handler := newRecordingHandler()
	_, socket := newTestGateway(t, handler)

	socket.EventsChan <- messageEnvelope(&slackevents.MessageEvent{
		Type:      "message",
		SubType:   "file_share",
		User:      "U123",
		Text:      "here you go",
		Channel:   "C42",
		TimeStamp: "1.2",
		Files: []slack.File{
			{ID: "F1", Name: "report.csv", Mimetype: "text/csv", Size: 1024, URLPrivateDownload: "https://files/dl/F1"},
			{ID: "F2", Name: "notes.txt", Mimetype: "text/plain", Size: 64, URLPrivate: "https://files/F2"},
		},
	})

	msg := handler.nextMessage(t)
	if msg.SubType != "file_share" || len(msg.Files) != 2 {
		t.Fatalf("got subtype %q with %d files", msg.SubType, len(msg.Files))
	}
	if msg.Files[0].DownloadURL != "https://files/dl/F1" {
		t.Errorf("file 1 should use URLPrivateDownload, got %q", msg.Files[0].DownloadURL)
	}
	if msg.Files[1].DownloadURL != "https://files/F2" {
		t.Errorf("file 2 should fall back to URLPrivate, got %q", msg.Files[1].DownloadURL)
	}
}

func TestGatewayAppMention(t *testing.T) {
	handler := newRecordingHandler()
	_, socket := newTestGateway(t, handler)

	socket.EventsChan <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Type: "app_mention", Data: &slackevents.AppMentionEvent{
				User:      "U77",
				Text:      "<@UBOT> summarize this",
				Channel:   "C9",
				TimeStamp: "3.4",
			}},
		},
		Request: &socketmode.Request{EnvelopeID: "env-2"},
	}

	msg := handler.nextMessage(t)
	if !msg.Mention {
		t.Error("app_mention should be flagged as mention")
	}
	if msg.User != "U77" || msg.Channel != "C9" {
		t.Errorf("unexpected mention %+v", msg)
	}
}

func TestGatewayReactions(t *testing.T) {
	handler := newRecordingHandler()
	_, socket := newTestGateway(t, handler)

	item := slackevents.Item{Type: "message", Channel: "C1", Timestamp: "5.6"}
	socket.EventsChan <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Type: "reaction_added", Data: &slackevents.ReactionAddedEvent{
				User: "U1", Reaction: "x", ItemUser: "UBOT", Item: item,
			}},
		},
		Request: &socketmode.Request{},
	}

	ev := handler.nextReaction(t)
	if ev.Reaction != "x" || ev.Removed {
		t.Errorf("unexpected reaction %+v", ev)
	}
	if ev.Channel != "C1" || ev.ItemTS != "5.6" || ev.ItemUser != "UBOT" {
		t.Errorf("item fields wrong: %+v", ev)
	}

	socket.EventsChan <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Type: "reaction_removed", Data: &slackevents.ReactionRemovedEvent{
				User: "U1", Reaction: "eyes", Item: item,
			}},
		},
		Request: &socketmode.Request{},
	}
	if ev := handler.nextReaction(t); !ev.Removed {
		t.Error("reaction_removed should set Removed")
	}

	// The gateway's own ack reactions come back as events and are dropped.
	socket.EventsChan <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Type: "reaction_added", Data: &slackevents.ReactionAddedEvent{
				User: "UBOT", Reaction: "incoming_envelope", Item: item,
			}},
		},
		Request: &socketmode.Request{},
	}
	select {
	case ev := <-handler.reactions:
		t.Fatalf("self reaction should be filtered, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGatewayBlockActions(t *testing.T) {
	handler := newRecordingHandler()
	_, socket := newTestGateway(t, handler)

	cb := slack.InteractionCallback{
		Type: slack.InteractionTypeBlockActions,
		User: slack.User{ID: "U5"},
		ActionCallback: slack.ActionCallbacks{
			BlockActions: []*slack.BlockAction{
				{ActionID: "approval_ab12cd34_Allow", Value: "Allow"},
				{ActionID: "approval_ab12cd34_Deny", Value: "Deny"},
			},
		},
	}
	cb.Channel.ID = "C3"
	cb.Message.Timestamp = "7.8"

	socket.EventsChan <- socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    cb,
		Request: &socketmode.Request{},
	}

	for i := 0; i < 2; i++ {
		select {
		case action := <-handler.actions:
			if action.User != "U5" || action.Channel != "C3" || action.MessageTS != "7.8" {
				t.Errorf("action %d fields wrong: %+v", i, action)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for block action")
		}
	}
}

// panicOnceHandler panics on the first message, then delegates.
type panicOnceHandler struct {
	inner Handler
	fired atomic.Bool
}

func (h *panicOnceHandler) OnMessage(ctx context.Context, ev *MessageEvent) {
	if h.fired.CompareAndSwap(false, true) {
		panic("handler exploded")
	}
	h.inner.OnMessage(ctx, ev)
}

func (h *panicOnceHandler) OnReaction(ctx context.Context, ev *ReactionEvent) {
	h.inner.OnReaction(ctx, ev)
}

func (h *panicOnceHandler) OnBlockAction(ctx context.Context, ev *BlockAction) {
	h.inner.OnBlockAction(ctx, ev)
}

func TestGatewayHandlerPanicDoesNotKillPump(t *testing.T) {
	inner := newRecordingHandler()
	_, socket := newTestGateway(t, &panicOnceHandler{inner: inner})

	msg := &slackevents.MessageEvent{Type: "message", User: "U1", Text: "boom", Channel: "C1", TimeStamp: "1.2"}
	socket.EventsChan <- messageEnvelope(msg)
	socket.EventsChan <- messageEnvelope(&slackevents.MessageEvent{Type: "message", User: "U1", Text: "still alive", Channel: "C1", TimeStamp: "1.3"})

	if got := inner.nextMessage(t); got.Text != "still alive" {
		t.Errorf("got %q after panic, want the second message", got.Text)
	}
}

func TestGatewayKickRedials(t *testing.T) {
	var dials atomic.Int32
	dial := func() SocketClient {
		dials.Add(1)
		return NewMockSocketClient()
	}
	gw := NewGatewayWithClients(&MockClient{}, dial, newRecordingHandler(), testLogger())
	gw.redial = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gw.Run(ctx) }()

	waitFor(t, "first dial", func() bool { return dials.Load() >= 1 })
	gw.Kick("watchdog says stale")
	waitFor(t, "redial after kick", func() bool { return dials.Load() >= 2 })
}

func TestGatewayConnectedLifecycle(t *testing.T) {
	gw, socket := newTestGateway(t, newRecordingHandler())

	if gw.Connected() {
		t.Error("should not report connected before the socket says so")
	}
	socket.EventsChan <- socketmode.Event{Type: socketmode.EventTypeConnected}
	waitFor(t, "connected", gw.Connected)

	socket.EventsChan <- socketmode.Event{Type: socketmode.EventTypeConnectionError}
	waitFor(t, "disconnected", func() bool { return !gw.Connected() })
}
