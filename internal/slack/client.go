// Package slack is the transport layer between the core and Slack: the
// Socket Mode gateway that normalizes inbound events, the poster that
// implements the two-post pattern (editable bot-identity status, final
// persona response), the approval and display back-channels, and the
// connection watchdog.
package slack

import (
	"context"
	"io"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// Client is the Web API surface the core uses. Declared as an interface so
// tests inject MockClient; *slack.Client satisfies it.
type Client interface {
	// Authentication
	AuthTest() (*slack.AuthTestResponse, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)

	// Messaging
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessage(channel, messageTimestamp string) (string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)

	// Reactions
	AddReaction(name string, item slack.ItemRef) error
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReaction(name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error

	// Conversations
	GetConversationHistory(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationInfo(input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	OpenConversation(params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)

	// Files
	UploadFileV2(params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	GetFileInfo(fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFile(downloadURL string, writer io.Writer) error

	// Users
	GetUserInfo(user string) (*slack.User, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

// SocketClient is the Socket Mode surface the gateway pumps.
type SocketClient interface {
	// Run opens the connection and blocks until ctx ends or the
	// connection fails fatally. The library reconnects transient drops
	// internally.
	Run(ctx context.Context) error

	// Ack acknowledges an envelope. Slack redelivers unacked events.
	Ack(req socketmode.Request, payload ...interface{})

	// Events is the stream of connection and payload events.
	Events() <-chan socketmode.Event
}

// Ensure the real client satisfies the interface.
var _ Client = (*slack.Client)(nil)

// socketModeClient adapts *socketmode.Client: Events on the concrete type
// is a channel field, not a method.
type socketModeClient struct {
	client *socketmode.Client
}

func (s *socketModeClient) Run(ctx context.Context) error {
	return s.client.RunContext(ctx)
}

func (s *socketModeClient) Ack(req socketmode.Request, payload ...interface{}) {
	s.client.Ack(req, payload...)
}

func (s *socketModeClient) Events() <-chan socketmode.Event {
	return s.client.Events
}
