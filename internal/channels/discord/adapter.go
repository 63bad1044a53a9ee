// Package discord implements the Discord channel adapter (SPEC_FULL §4.10)
// over a persistent discordgo WebSocket session.
package discord

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/restflow/restflow/internal/channels"
	"github.com/restflow/restflow/internal/channels/chunk"
	"github.com/restflow/restflow/internal/channels/utils"
	"github.com/restflow/restflow/internal/models"
)

// discordSession is the subset of *discordgo.Session the adapter depends on,
// narrowed so tests can inject a fake.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Config holds configuration for the Discord adapter.
type Config struct {
	Token                string
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
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
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5 // conservative default; Discord limits vary per endpoint
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	c.Logger = utils.EnsureLoggerWithComponent(c.Logger, "discord")
	return nil
}

// Adapter implements channels.FullChannel for Discord.
type Adapter struct {
	config      Config
	session     discordSession
	messages    chan *models.InboundMessage
	mu          sync.RWMutex
	cancel      context.CancelFunc
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	*channels.BaseHealthAdapter
}

// NewAdapter creates a new Discord adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:            config,
		messages:          make(chan *models.InboundMessage, 100),
		rateLimiter:       channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:            config.Logger,
		BaseHealthAdapter: channels.NewBaseHealthAdapter(models.ChannelDiscord, config.Logger),
	}, nil
}

// SetSession overrides the Discord session, used by tests to inject a fake.
func (a *Adapter) SetSession(s discordSession) { a.session = s }

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType { return models.ChannelDiscord }

// IsConfigured reports whether the adapter has a bot token.
func (a *Adapter) IsConfigured() bool { return a.config.Token != "" }

// Start opens the Discord gateway connection.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			a.RecordError(channels.ErrCodeAuthentication)
			return channels.ErrAuthentication("failed to create discord session", err)
		}
		a.session = dg
	}

	a.session.AddHandler(a.handleMessageCreate)

	reconnector := &channels.Reconnector{
		Config: channels.ReconnectConfig{
			MaxAttempts:  a.config.MaxReconnectAttempts,
			InitialDelay: time.Second,
			MaxDelay:     a.config.ReconnectBackoff,
			Factor:       2,
			Jitter:       true,
		},
		Logger: a.logger,
		Health: a.BaseHealthAdapter,
	}
	if err := reconnector.Run(ctx, func(context.Context) error { return a.session.Open() }); err != nil {
		a.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to connect to discord", err)
	}

	a.SetStatus(true, "")
	a.RecordConnectionOpened()
	a.logger.Info("discord adapter started")

	return nil
}

// Stop closes the Discord gateway connection.
func (a *Adapter) Stop(context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.RecordError(channels.ErrCodeConnection)
			return channels.ErrConnection("failed to close discord session", err)
		}
	}
	a.SetStatus(false, "")
	a.RecordConnectionClosed()
	return nil
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	start := time.Now()
	if m.Author == nil || m.Author.Bot {
		return
	}

	msg := &models.InboundMessage{
		ID:             m.ID,
		ChannelType:    models.ChannelDiscord,
		SenderID:       m.Author.ID,
		SenderName:     m.Author.Username,
		ConversationID: m.ChannelID,
		Content:        m.Content,
	}

	a.RecordMessageReceived()
	a.RecordReceiveLatency(time.Since(start))
	a.UpdateLastPing()

	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("messages channel full, dropping message", "channel_id", m.ChannelID)
		a.RecordMessageFailed()
	}
}

// Messages returns the inbound message stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage { return a.messages }

// Send delivers an outbound message, chunking it to Discord's size limit.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}
	if a.session == nil {
		a.RecordMessageFailed()
		return channels.ErrUnavailable("adapter not connected", nil)
	}

	for _, part := range chunk.MarkdownForChannel(msg.Content, "discord") {
		if _, err := a.session.ChannelMessageSend(msg.ConversationID, part); err != nil {
			a.RecordMessageFailed()
			a.RecordError(channels.ErrCodeInternal)
			return channels.ErrInternal("failed to send message", err)
		}
	}

	a.RecordMessageSent()
	a.RecordSendLatency(time.Since(start))
	return nil
}

// SendTyping surfaces a typing indicator while the agent is working.
func (a *Adapter) SendTyping(ctx context.Context, conversationID string) error {
	if a.session == nil {
		return channels.ErrUnavailable("adapter not connected", nil)
	}
	if err := a.session.ChannelTyping(conversationID); err != nil {
		return channels.ErrConnection("send typing", err)
	}
	return nil
}
