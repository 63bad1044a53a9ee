// Package telegram implements the Telegram channel adapter (SPEC_FULL §4.10)
// using long polling against the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/restflow/restflow/internal/channels"
	"github.com/restflow/restflow/internal/channels/chunk"
	channelcontext "github.com/restflow/restflow/internal/channels/context"
	"github.com/restflow/restflow/internal/channels/utils"
	"github.com/restflow/restflow/internal/models"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	Token                string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	RateLimit            float64
	RateBurst            int
	Logger               *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30 // Telegram's soft limit is ~30 msgs/sec
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	c.Logger = utils.EnsureLoggerWithComponent(c.Logger, "telegram")
	return nil
}

// Adapter implements channels.FullChannel for Telegram.
type Adapter struct {
	config      Config
	botClient   BotClient
	messages    chan *models.InboundMessage
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	rateLimiter *channels.RateLimiter
	delivery    *channelcontext.DeliveryContext
	logger      *slog.Logger
	*channels.BaseHealthAdapter
}

// NewAdapter creates a new Telegram adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:            config,
		messages:          make(chan *models.InboundMessage, 100),
		rateLimiter:       channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		delivery:          channelcontext.New("telegram"),
		logger:            config.Logger,
		BaseHealthAdapter: channels.NewBaseHealthAdapter(models.ChannelTelegram, config.Logger),
	}, nil
}

// SetBotClient overrides the bot client, used by tests to inject a mock.
func (a *Adapter) SetBotClient(client BotClient) { a.botClient = client }

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

// IsConfigured reports whether the adapter has a bot token.
func (a *Adapter) IsConfigured() bool { return a.config.Token != "" }

// Start begins long polling for updates.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.botClient == nil {
		b, err := bot.New(a.config.Token)
		if err != nil {
			a.SetStatus(false, fmt.Sprintf("failed to create bot: %v", err))
			a.RecordError(channels.ErrCodeAuthentication)
			return channels.ErrAuthentication("failed to create bot", err)
		}
		a.botClient = newRealBotClient(b)
	}
	a.RecordConnectionOpened()

	a.botClient.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleMessage)

	a.wg.Add(1)
	go a.runWithReconnect(ctx)

	a.SetStatus(true, "")
	a.logger.Info("telegram adapter started")
	return nil
}

func (a *Adapter) runWithReconnect(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.messages)

	reconnector := &channels.Reconnector{
		Config: channels.ReconnectConfig{
			MaxAttempts:  a.config.MaxReconnectAttempts,
			InitialDelay: a.config.ReconnectDelay,
			MaxDelay:     30 * time.Second,
			Factor:       2,
			Jitter:       true,
		},
		Logger: a.logger,
		Health: a.BaseHealthAdapter,
	}

	err := reconnector.Run(ctx, func(runCtx context.Context) error {
		a.botClient.Start(runCtx)
		return runCtx.Err()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("telegram adapter stopped", "error", err)
		a.RecordError(channels.ErrCodeConnection)
	}
	a.SetStatus(false, "")
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
		a.RecordConnectionClosed()
		return nil
	case <-ctx.Done():
		a.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

func (a *Adapter) handleMessage(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	start := time.Now()
	if update.Message == nil {
		return
	}

	msg := &models.InboundMessage{
		ID:             strconv.Itoa(update.Message.ID),
		ChannelType:    models.ChannelTelegram,
		SenderID:       strconv.FormatInt(update.Message.From.ID, 10),
		SenderName:     update.Message.From.Username,
		ConversationID: strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:        update.Message.Text,
	}

	a.RecordMessageReceived()
	a.RecordReceiveLatency(time.Since(start))
	a.UpdateLastPing()

	select {
	case a.messages <- msg:
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "chat_id", msg.ConversationID)
		a.RecordMessageFailed()
	}
}

// Messages returns the inbound message stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage { return a.messages }

// Send delivers an outbound message, chunking it to Telegram's size limit.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}
	if a.botClient == nil {
		a.RecordMessageFailed()
		return channels.ErrInternal("bot not initialized", nil)
	}

	chatID, err := strconv.ParseInt(msg.ConversationID, 10, 64)
	if err != nil {
		a.RecordMessageFailed()
		return channels.ErrInvalidInput("invalid chat id", err)
	}

	text := a.delivery.FormatText(msg.Content)
	for _, part := range chunkForTelegram(text) {
		if _, err := a.botClient.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: part}); err != nil {
			a.RecordMessageFailed()
			a.RecordError(channels.ErrCodeConnection)
			return channels.ErrConnection("send message", err)
		}
	}

	a.RecordMessageSent()
	a.RecordSendLatency(time.Since(start))
	return nil
}

// SendTyping surfaces a typing indicator while the agent is working.
func (a *Adapter) SendTyping(ctx context.Context, conversationID string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return channels.ErrInvalidInput("invalid chat id", err)
	}
	_, err = a.botClient.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: tgmodels.ChatActionTyping})
	if err != nil {
		a.logger.Debug("failed to send typing indicator", "error", err)
	}
	return nil
}

// chunkForTelegram splits outbound text to Telegram's message size limit,
// preserving code fences across chunk boundaries.
func chunkForTelegram(text string) []string {
	parts := chunk.MarkdownForChannel(text, "telegram")
	if len(parts) == 0 && text != "" {
		return []string{text}
	}
	return parts
}
