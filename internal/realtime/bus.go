package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Bus moves envelopes to the hub of every gateway process.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Start begins forwarding remote envelopes to the local hub until ctx ends.
	Start(ctx context.Context) error
	Close() error
}

// LocalBus delivers straight to the in-process hub.
type LocalBus struct {
	hub *Hub
}

// NewLocalBus returns a single-process bus.
func NewLocalBus(hub *Hub) *LocalBus { return &LocalBus{hub: hub} }

// Publish implements Bus.
func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.hub.Deliver(env)
	return nil
}

// Start implements Bus; there is nothing to forward.
func (b *LocalBus) Start(context.Context) error { return nil }

// Close implements Bus.
func (b *LocalBus) Close() error { return nil }

// RedisBus fans envelopes out over a Redis pub/sub channel. Every process,
// including the publisher, receives each envelope through its subscription
// and delivers it to its own hub.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	hub     *Hub
	log     zerolog.Logger
}

// NewRedisBus wraps an existing client.
func NewRedisBus(rdb redis.UniversalClient, channel string, hub *Hub, log zerolog.Logger) (*RedisBus, error) {
	if rdb == nil {
		return nil, errors.New("realtime: redis client required")
	}
	if channel == "" {
		return nil, errors.New("realtime: redis channel required")
	}
	return &RedisBus{rdb: rdb, channel: channel, hub: hub, log: log}, nil
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// Start implements Bus. It returns once the subscription is confirmed; the
// forwarding goroutine exits when ctx is cancelled.
func (b *RedisBus) Start(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("realtime: subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.log.Warn().Err(err).Msg("bad envelope on realtime bus")
					continue
				}
				b.hub.Deliver(env)
			}
		}
	}()
	return nil
}

// Close implements Bus. The client is owned by the caller.
func (b *RedisBus) Close() error { return nil }
