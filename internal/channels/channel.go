// Package channels implements the channel router (SPEC_FULL §4.10): a
// registry of chat-platform adapters behind a common inbound/outbound
// contract, fanned in for dispatch and fanned out for delivery.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/restflow/restflow/internal/models"
)

// Channel is the minimal contract every adapter implements.
type Channel interface {
	Type() models.ChannelType
	IsConfigured() bool
}

// LifecycleChannel starts and stops the adapter's connection.
type LifecycleChannel interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundChannel delivers a message, chunking as needed for the platform's
// message-size limit.
type OutboundChannel interface {
	Send(ctx context.Context, msg *models.OutboundMessage) error
}

// TypingChannel optionally surfaces a typing indicator.
type TypingChannel interface {
	SendTyping(ctx context.Context, conversationID string) error
}

// InboundChannel emits a stream of inbound messages with at-least-once
// delivery and stable ids.
type InboundChannel interface {
	Messages() <-chan *models.InboundMessage
}

// HealthChannel exposes status and metrics for operational visibility.
type HealthChannel interface {
	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
	Metrics() MetricsSnapshot
}

// FullChannel aggregates every capability a complete adapter offers.
type FullChannel interface {
	Channel
	LifecycleChannel
	OutboundChannel
	InboundChannel
	HealthChannel
}

// Status is the adapter's current connection status.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

// HealthStatus is the result of a single health check.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// Registry holds every registered channel, indexed by capability so the
// router never needs a type switch to find one.
type Registry struct {
	mu        sync.RWMutex
	channels  map[models.ChannelType]Channel
	inbound   map[models.ChannelType]InboundChannel
	outbound  map[models.ChannelType]OutboundChannel
	lifecycle map[models.ChannelType]LifecycleChannel
	health    map[models.ChannelType]HealthChannel
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		channels:  make(map[models.ChannelType]Channel),
		inbound:   make(map[models.ChannelType]InboundChannel),
		outbound:  make(map[models.ChannelType]OutboundChannel),
		lifecycle: make(map[models.ChannelType]LifecycleChannel),
		health:    make(map[models.ChannelType]HealthChannel),
	}
}

// Register adds a channel, indexing it under every optional capability
// interface it satisfies.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := ch.Type()
	r.channels[t] = ch

	if inbound, ok := ch.(InboundChannel); ok {
		r.inbound[t] = inbound
	}
	if outbound, ok := ch.(OutboundChannel); ok {
		r.outbound[t] = outbound
	}
	if lifecycle, ok := ch.(LifecycleChannel); ok {
		r.lifecycle[t] = lifecycle
	}
	if health, ok := ch.(HealthChannel); ok {
		r.health[t] = health
	}
}

// Get returns a channel by type.
func (r *Registry) Get(t models.ChannelType) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[t]
	return ch, ok
}

// Outbound returns the outbound half of a channel, for sending replies.
func (r *Registry) Outbound(t models.ChannelType) (OutboundChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.outbound[t]
	return ch, ok
}

// HealthChannels returns a snapshot of every channel exposing health.
func (r *Registry) HealthChannels() map[models.ChannelType]HealthChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.ChannelType]HealthChannel, len(r.health))
	for t, h := range r.health {
		out[t] = h
	}
	return out
}

// All returns every registered channel.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// StartAll starts every channel with a lifecycle, stopping already-started
// ones if any fails to start.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycle := make(map[models.ChannelType]LifecycleChannel, len(r.lifecycle))
	for t, l := range r.lifecycle {
		lifecycle[t] = l
	}
	r.mu.RUnlock()

	started := make([]LifecycleChannel, 0, len(lifecycle))
	for _, ch := range lifecycle {
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return err
		}
		started = append(started, ch)
	}
	return nil
}

// StopAll stops every channel with a lifecycle, continuing past individual
// failures and returning the last one encountered.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycle := make([]LifecycleChannel, 0, len(r.lifecycle))
	for _, l := range r.lifecycle {
		lifecycle = append(lifecycle, l)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, ch := range lifecycle {
		if err := ch.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans every registered inbound channel's stream into one
// channel, closed once ctx is cancelled or every source closes.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan *models.InboundMessage {
	r.mu.RLock()
	sources := make([]InboundChannel, 0, len(r.inbound))
	for _, in := range r.inbound {
		sources = append(sources, in)
	}
	r.mu.RUnlock()

	out := make(chan *models.InboundMessage)
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(in InboundChannel) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-in.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
