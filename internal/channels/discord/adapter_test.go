package discord

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/restflow/restflow/internal/models"
)

type fakeSession struct {
	sent     []string
	typed    int
	openErr  error
	sendErr  error
	handlers []interface{}
}

func (f *fakeSession) Open() error  { return f.openErr }
func (f *fakeSession) Close() error { return nil }
func (f *fakeSession) ChannelMessageSend(_, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, content)
	return &discordgo.Message{}, nil
}
func (f *fakeSession) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.typed++
	return nil
}
func (f *fakeSession) AddHandler(h interface{}) func() {
	f.handlers = append(f.handlers, h)
	return func() {}
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeSession) {
	t.Helper()
	a, err := NewAdapter(Config{Token: "test-token"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	sess := &fakeSession{}
	a.SetSession(sess)
	return a, sess
}

func TestDiscordTypeAndConfigured(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.Type() != models.ChannelDiscord {
		t.Errorf("Type() = %v", a.Type())
	}
	if !a.IsConfigured() {
		t.Error("expected configured")
	}
}

func TestDiscordValidateRequiresToken(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestDiscordStartRegistersHandlerAndOpens(t *testing.T) {
	a, sess := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(sess.handlers) != 1 {
		t.Fatalf("expected one handler registered, got %d", len(sess.handlers))
	}
	if !a.Status().Connected {
		t.Error("expected Connected true")
	}
}

func TestDiscordSendChunksLongMessages(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.SetStatus(true, "")

	long := strings.Repeat("a ", 2000)
	if err := a.Send(context.Background(), &models.OutboundMessage{ConversationID: "chan-1", Content: long}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent) < 2 {
		t.Fatalf("expected chunked send, got %d parts", len(sess.sent))
	}
}

func TestDiscordSendTyping(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.SendTyping(context.Background(), "chan-1"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
	if sess.typed != 1 {
		t.Fatalf("expected one typing call, got %d", sess.typed)
	}
}

func TestDiscordHandleMessageCreateIgnoresBots(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:    &discordgo.User{ID: "bot-1", Bot: true},
		ChannelID: "chan-1",
		Content:   "ignored",
	}})
	select {
	case <-a.Messages():
		t.Fatal("expected bot message to be ignored")
	default:
	}
}

func TestDiscordHandleMessageCreateForwardsUserMessages(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		ChannelID: "chan-1",
		Content:   "hello",
	}})
	msg := <-a.Messages()
	if msg.SenderID != "user-1" || msg.Content != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
