package slack

import (
	"context"
	"io"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// MockClient is a test double for Client. Each method delegates to its
// Func field when set and otherwise returns a benign default, so tests
// only stub what they assert on.
type MockClient struct {
	AuthTestFunc                      func() (*slack.AuthTestResponse, error)
	AuthTestContextFunc               func(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageFunc                   func(channelID string, options ...slack.MsgOption) (string, string, error)
	PostMessageContextFunc            func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageFunc                 func(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	UpdateMessageContextFunc          func(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageFunc                 func(channel, messageTimestamp string) (string, string, error)
	DeleteMessageContextFunc          func(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	AddReactionFunc                   func(name string, item slack.ItemRef) error
	AddReactionContextFunc            func(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionFunc                func(name string, item slack.ItemRef) error
	RemoveReactionContextFunc         func(ctx context.Context, name string, item slack.ItemRef) error
	GetConversationHistoryFunc        func(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationHistoryContextFunc func(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationInfoFunc           func(input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetConversationInfoContextFunc    func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	OpenConversationFunc              func(params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	OpenConversationContextFunc       func(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	UploadFileV2Func                  func(params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	UploadFileV2ContextFunc           func(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	GetFileInfoFunc                   func(fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFileInfoContextFunc            func(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFileFunc                       func(downloadURL string, writer io.Writer) error
	GetUserInfoFunc                   func(user string) (*slack.User, error)
	GetUserInfoContextFunc            func(ctx context.Context, user string) (*slack.User, error)
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) AuthTest() (*slack.AuthTestResponse, error) {
	if m.AuthTestFunc != nil {
		return m.AuthTestFunc()
	}
	return &slack.AuthTestResponse{UserID: "UBOT", User: "troupe", Team: "testteam"}, nil
}

func (m *MockClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if m.AuthTestContextFunc != nil {
		return m.AuthTestContextFunc(ctx)
	}
	return m.AuthTest()
}

func (m *MockClient) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.PostMessageFunc != nil {
		return m.PostMessageFunc(channelID, options...)
	}
	return channelID, "1700000000.000100", nil
}

func (m *MockClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.PostMessageContextFunc != nil {
		return m.PostMessageContextFunc(ctx, channelID, options...)
	}
	return m.PostMessage(channelID, options...)
}

func (m *MockClient) UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if m.UpdateMessageFunc != nil {
		return m.UpdateMessageFunc(channelID, timestamp, options...)
	}
	return channelID, timestamp, "", nil
}

func (m *MockClient) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if m.UpdateMessageContextFunc != nil {
		return m.UpdateMessageContextFunc(ctx, channelID, timestamp, options...)
	}
	return m.UpdateMessage(channelID, timestamp, options...)
}

func (m *MockClient) DeleteMessage(channel, messageTimestamp string) (string, string, error) {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(channel, messageTimestamp)
	}
	return channel, messageTimestamp, nil
}

func (m *MockClient) DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error) {
	if m.DeleteMessageContextFunc != nil {
		return m.DeleteMessageContextFunc(ctx, channel, messageTimestamp)
	}
	return m.DeleteMessage(channel, messageTimestamp)
}

func (m *MockClient) AddReaction(name string, item slack.ItemRef) error {
	if m.AddReactionFunc != nil {
		return m.AddReactionFunc(name, item)
	}
	return nil
}

func (m *MockClient) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.AddReactionContextFunc != nil {
		return m.AddReactionContextFunc(ctx, name, item)
	}
	return m.AddReaction(name, item)
}

func (m *MockClient) RemoveReaction(name string, item slack.ItemRef) error {
	if m.RemoveReactionFunc != nil {
		return m.RemoveReactionFunc(name, item)
	}
	return nil
}

func (m *MockClient) RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.RemoveReactionContextFunc != nil {
		return m.RemoveReactionContextFunc(ctx, name, item)
	}
	return m.RemoveReaction(name, item)
}

func (m *MockClient) GetConversationHistory(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	if m.GetConversationHistoryFunc != nil {
		return m.GetConversationHistoryFunc(params)
	}
	return &slack.GetConversationHistoryResponse{}, nil
}

func (m *MockClient) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	if m.GetConversationHistoryContextFunc != nil {
		return m.GetConversationHistoryContextFunc(ctx, params)
	}
	return m.GetConversationHistory(params)
}

func (m *MockClient) GetConversationInfo(input *slack.GetConversationInfoInput) (*slack.Channel, error) {
	if m.GetConversationInfoFunc != nil {
		return m.GetConversationInfoFunc(input)
	}
	return &slack.Channel{}, nil
}

func (m *MockClient) GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
	if m.GetConversationInfoContextFunc != nil {
		return m.GetConversationInfoContextFunc(ctx, input)
	}
	return m.GetConversationInfo(input)
}

func (m *MockClient) OpenConversation(params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	if m.OpenConversationFunc != nil {
		return m.OpenConversationFunc(params)
	}
	ch := &slack.Channel{}
	ch.ID = "D123"
	return ch, false, false, nil
}

func (m *MockClient) OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	if m.OpenConversationContextFunc != nil {
		return m.OpenConversationContextFunc(ctx, params)
	}
	return m.OpenConversation(params)
}

func (m *MockClient) UploadFileV2(params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	if m.UploadFileV2Func != nil {
		return m.UploadFileV2Func(params)
	}
	return &slack.FileSummary{ID: "F123"}, nil
}

func (m *MockClient) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	if m.UploadFileV2ContextFunc != nil {
		return m.UploadFileV2ContextFunc(ctx, params)
	}
	return m.UploadFileV2(params)
}

func (m *MockClient) GetFileInfo(fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error) {
	if m.GetFileInfoFunc != nil {
		return m.GetFileInfoFunc(fileID, count, page)
	}
	return &slack.File{ID: fileID}, nil, nil, nil
}

func (m *MockClient) GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error) {
	if m.GetFileInfoContextFunc != nil {
		return m.GetFileInfoContextFunc(ctx, fileID, count, page)
	}
	return m.GetFileInfo(fileID, count, page)
}

func (m *MockClient) GetFile(downloadURL string, writer io.Writer) error {
	if m.GetFileFunc != nil {
		return m.GetFileFunc(downloadURL, writer)
	}
	_, err := writer.Write([]byte("mock file body"))
	return err
}

func (m *MockClient) GetUserInfo(user string) (*slack.User, error) {
	if m.GetUserInfoFunc != nil {
		return m.GetUserInfoFunc(user)
	}
	return &slack.User{ID: user, Name: "testuser"}, nil
}

func (m *MockClient) GetUserInfoContext(ctx context.Context, user string) (*slack.User, error) {
	if m.GetUserInfoContextFunc != nil {
		return m.GetUserInfoContextFunc(ctx, user)
	}
	return m.GetUserInfo(user)
}

// MockSocketClient is a test double for SocketClient. Push events into
// EventsChan; Run blocks until the supplied context ends.
type MockSocketClient struct {
	RunFunc    func(ctx context.Context) error
	AckFunc    func(req socketmode.Request, payload ...interface{})
	EventsChan chan socketmode.Event
}

var _ SocketClient = (*MockSocketClient)(nil)

func NewMockSocketClient() *MockSocketClient {
	return &MockSocketClient{EventsChan: make(chan socketmode.Event, 100)}
}

func (m *MockSocketClient) Run(ctx context.Context) error {
	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	if m.AckFunc != nil {
		m.AckFunc(req, payload...)
	}
}

func (m *MockSocketClient) Events() <-chan socketmode.Event {
	return m.EventsChan
}

// Close ends the event stream.
func (m *MockSocketClient) Close() {
	close(m.EventsChan)
}
