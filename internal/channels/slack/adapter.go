// Package slack implements the Slack channel adapter (SPEC_FULL §4.10) over
// Socket Mode, so no public ingress endpoint is required.
package slack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/restflow/restflow/internal/channels"
	"github.com/restflow/restflow/internal/channels/chunk"
	"github.com/restflow/restflow/internal/channels/utils"
	"github.com/restflow/restflow/internal/models"
)

// Config holds configuration for the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for Web API calls
	AppToken string // xapp- token for Socket Mode
	Logger   *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.BotToken == "" || c.AppToken == "" {
		return channels.ErrConfig("bot_token and app_token are required", nil)
	}
	c.Logger = utils.EnsureLoggerWithComponent(c.Logger, "slack")
	return nil
}

// Adapter implements channels.FullChannel for Slack.
type Adapter struct {
	config       Config
	client       SlackAPIClient
	socketClient SocketModeClient
	messages     chan *models.InboundMessage
	botUserID    string
	botUserIDMu  sync.RWMutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *slog.Logger
	*channels.BaseHealthAdapter
}

// NewAdapter creates a new Slack adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	return &Adapter{
		config:            config,
		client:            client,
		socketClient:      newRealSocketClient(socketmode.New(client)),
		messages:          make(chan *models.InboundMessage, 100),
		logger:            config.Logger,
		BaseHealthAdapter: channels.NewBaseHealthAdapter(models.ChannelSlack, config.Logger),
	}, nil
}

// SetClients overrides the API and socket clients, used by tests to inject mocks.
func (a *Adapter) SetClients(api SlackAPIClient, socket SocketModeClient) {
	a.client = api
	a.socketClient = socket
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType { return models.ChannelSlack }

// IsConfigured reports whether the adapter has both required tokens.
func (a *Adapter) IsConfigured() bool { return a.config.BotToken != "" && a.config.AppToken != "" }

// Start authenticates and begins listening to the Socket Mode event stream.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.RecordError(channels.ErrCodeAuthentication)
		return channels.ErrAuthentication("failed to authenticate with slack", err)
	}
	a.botUserIDMu.Lock()
	a.botUserID = auth.UserID
	a.botUserIDMu.Unlock()

	a.wg.Add(2)
	go a.handleEvents(ctx)
	go func() {
		defer a.wg.Done()
		if err := a.socketClient.Run(); err != nil {
			a.logger.Error("socket mode run exited", "error", err)
			a.SetStatus(false, err.Error())
		}
	}()

	a.SetStatus(true, "")
	a.RecordConnectionOpened()
	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID)
	return nil
}

// Stop shuts the adapter down gracefully.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
		a.SetStatus(false, "")
		a.RecordConnectionClosed()
		return nil
	case <-ctx.Done():
		a.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

func (a *Adapter) handleEvents(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socketClient.Events():
			if !ok {
				return
			}
			a.UpdateLastPing()
			if event.Type == socketmode.EventTypeEventsAPI {
				a.handleEventsAPI(event)
			} else if event.Request != nil {
				a.socketClient.Ack(*event.Request)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if event.Request != nil {
			a.socketClient.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	start := time.Now()
	var msg *models.InboundMessage
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		msg = &models.InboundMessage{
			ID: ev.TimeStamp, ChannelType: models.ChannelSlack,
			SenderID: ev.User, ConversationID: ev.Channel, Content: ev.Text,
		}
	case *slackevents.MessageEvent:
		if ev.BotID != "" || (ev.SubType != "" && ev.SubType != "file_share") {
			return
		}
		a.botUserIDMu.RLock()
		isSelf := ev.User == a.botUserID
		a.botUserIDMu.RUnlock()
		if isSelf {
			return
		}
		msg = &models.InboundMessage{
			ID: ev.TimeStamp, ChannelType: models.ChannelSlack,
			SenderID: ev.User, ConversationID: ev.Channel, Content: ev.Text,
		}
	default:
		return
	}

	a.RecordMessageReceived()
	a.RecordReceiveLatency(time.Since(start))

	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("messages channel full, dropping message", "conversation_id", msg.ConversationID)
		a.RecordMessageFailed()
	}
}

// Messages returns the inbound message stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage { return a.messages }

// Send delivers an outbound message, chunking it to Slack's block size limit.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	start := time.Now()
	for _, part := range chunk.MarkdownForChannel(msg.Content, "slack") {
		options := []slack.MsgOption{slack.MsgOptionText(part, false)}
		if msg.ReplyTo != "" {
			options = append(options, slack.MsgOptionTS(msg.ReplyTo))
		}
		if _, _, err := a.client.PostMessageContext(ctx, msg.ConversationID, options...); err != nil {
			a.RecordMessageFailed()
			a.RecordError(channels.ErrCodeInternal)
			return channels.ErrInternal("failed to send slack message", err)
		}
	}
	a.RecordMessageSent()
	a.RecordSendLatency(time.Since(start))
	return nil
}

// SendTyping is a no-op: Slack's Web API has no typing-indicator endpoint for bots.
func (a *Adapter) SendTyping(context.Context, string) error { return nil }
