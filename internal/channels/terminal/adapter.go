// Package terminal implements a dependency-free channel adapter (SPEC_FULL
// §4.10) that reads lines from stdin and writes replies to stdout, for
// local interactive use without any external chat platform configured.
// Grounded on the other adapters' Config/Validate/BaseHealthAdapter shape
// in this package, with no third-party transport since there is none to
// wrap for a terminal.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/restflow/restflow/internal/channels"
	"github.com/restflow/restflow/internal/channels/utils"
	"github.com/restflow/restflow/internal/models"
)

const conversationID = "terminal"

// Config holds configuration for the terminal adapter.
type Config struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
}

// Validate applies defaults; the terminal adapter is always configured.
func (c *Config) Validate() error {
	if c.In == nil {
		c.In = os.Stdin
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	c.Logger = utils.EnsureLoggerWithComponent(c.Logger, "terminal")
	return nil
}

// Adapter implements channels.FullChannel by piping stdin/stdout.
type Adapter struct {
	config   Config
	messages chan *models.InboundMessage
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	out      io.Writer
	logger   *slog.Logger
	*channels.BaseHealthAdapter
}

// NewAdapter creates a new terminal adapter reading/writing the given streams.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:            config,
		messages:          make(chan *models.InboundMessage, 10),
		out:               config.Out,
		logger:            config.Logger,
		BaseHealthAdapter: channels.NewBaseHealthAdapter(models.ChannelTerminal, config.Logger),
	}, nil
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType { return models.ChannelTerminal }

// IsConfigured is always true: a terminal needs no credentials.
func (a *Adapter) IsConfigured() bool { return true }

// Start begins reading lines from the input stream in the background.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.readLoop(ctx)

	a.SetStatus(true, "")
	a.RecordConnectionOpened()
	return nil
}

// Stop stops reading input.
func (a *Adapter) Stop(context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.SetStatus(false, "")
	a.RecordConnectionClosed()
	return nil
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	scanner := bufio.NewScanner(a.config.In)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg := &models.InboundMessage{
			ID:             fmt.Sprintf("term-%d", models.NowMillis()),
			ChannelType:    models.ChannelTerminal,
			SenderID:       "local",
			SenderName:     "local",
			ConversationID: conversationID,
			Content:        line,
		}
		a.RecordMessageReceived()
		a.UpdateLastPing()
		select {
		case a.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Messages returns the inbound message stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage { return a.messages }

// Send writes the message to the output stream.
func (a *Adapter) Send(_ context.Context, msg *models.OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := fmt.Fprintf(a.out, "%s\n", msg.Content); err != nil {
		a.RecordMessageFailed()
		return channels.ErrInternal("write to terminal", err)
	}
	a.RecordMessageSent()
	return nil
}

// SendTyping is a no-op: there is no typing indicator for a terminal.
func (a *Adapter) SendTyping(context.Context, string) error { return nil }
