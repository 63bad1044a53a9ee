package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/restflow/restflow/internal/models"
)

type mockBotClient struct {
	sent    []*bot.SendMessageParams
	actions []*bot.SendChatActionParams
	sendErr error
}

func (m *mockBotClient) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, params)
	return &tgmodels.Message{ID: len(m.sent)}, nil
}
func (m *mockBotClient) SendPhoto(context.Context, *bot.SendPhotoParams) (*tgmodels.Message, error) {
	return &tgmodels.Message{}, nil
}
func (m *mockBotClient) SendDocument(context.Context, *bot.SendDocumentParams) (*tgmodels.Message, error) {
	return &tgmodels.Message{}, nil
}
func (m *mockBotClient) SendAudio(context.Context, *bot.SendAudioParams) (*tgmodels.Message, error) {
	return &tgmodels.Message{}, nil
}
func (m *mockBotClient) GetFile(context.Context, *bot.GetFileParams) (*tgmodels.File, error) {
	return &tgmodels.File{}, nil
}
func (m *mockBotClient) GetMe(context.Context) (*tgmodels.User, error) { return &tgmodels.User{}, nil }
func (m *mockBotClient) SetWebhook(context.Context, *bot.SetWebhookParams) (bool, error) {
	return true, nil
}
func (m *mockBotClient) SendChatAction(_ context.Context, params *bot.SendChatActionParams) (bool, error) {
	m.actions = append(m.actions, params)
	return true, nil
}
func (m *mockBotClient) RegisterHandler(bot.HandlerType, string, bot.MatchType, bot.HandlerFunc) {}
func (m *mockBotClient) Start(ctx context.Context)                                               { <-ctx.Done() }
func (m *mockBotClient) StartWebhook(context.Context)                                             {}

func newTestAdapter(t *testing.T) (*Adapter, *mockBotClient) {
	t.Helper()
	a, err := NewAdapter(Config{Token: "test-token"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	mock := &mockBotClient{}
	a.SetBotClient(mock)
	return a, mock
}

func TestAdapterTypeAndConfigured(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.Type() != models.ChannelTelegram {
		t.Errorf("Type() = %v", a.Type())
	}
	if !a.IsConfigured() {
		t.Error("expected IsConfigured true with token set")
	}
}

func TestValidateRequiresToken(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestSendDeliversMessage(t *testing.T) {
	a, mock := newTestAdapter(t)
	err := a.Send(context.Background(), &models.OutboundMessage{ConversationID: "12345", Content: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mock.sent) != 1 || mock.sent[0].Text != "hello" {
		t.Fatalf("unexpected sent messages: %+v", mock.sent)
	}
}

func TestSendRejectsBadConversationID(t *testing.T) {
	a, _ := newTestAdapter(t)
	err := a.Send(context.Background(), &models.OutboundMessage{ConversationID: "not-a-number", Content: "hi"})
	if err == nil {
		t.Fatal("expected error for non-numeric conversation id")
	}
}

func TestSendChunksLongMessages(t *testing.T) {
	a, mock := newTestAdapter(t)
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	err := a.Send(context.Background(), &models.OutboundMessage{ConversationID: "1", Content: string(long)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mock.sent) < 2 {
		t.Fatalf("expected message to be chunked, got %d parts", len(mock.sent))
	}
}

func TestSendTyping(t *testing.T) {
	a, mock := newTestAdapter(t)
	if err := a.SendTyping(context.Background(), "1"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
	if len(mock.actions) != 1 {
		t.Fatalf("expected one chat action, got %d", len(mock.actions))
	}
}

func TestStartAndStop(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Status().Connected {
		t.Error("expected Connected true after Start")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
