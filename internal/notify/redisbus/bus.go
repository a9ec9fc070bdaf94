// Package redisbus relays call events between server instances over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "clinic-queue:calls"

type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type Bus struct {
	client  *redis.Client
	channel string
}

func New(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Bus{client: client, channel: channel}
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish sends the event to every instance subscribed to the channel.
func (b *Bus) Publish(ctx context.Context, event models.CallEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal call event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish call event: %w", err)
	}
	return nil
}

// Relay forwards every event received on the channel to target until ctx ends.
// ready, when not nil, is closed once the subscription is active.
func (b *Bus) Relay(ctx context.Context, target notify.Publisher, ready chan<- struct{}) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	log.Info().Str("channel", b.channel).Msg("relaying call events")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event models.CallEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("channel", b.channel).Msg("decode call event")
				continue
			}
			if err := target.Publish(ctx, event); err != nil {
				log.Warn().Err(err).Int64("ticket_id", event.TicketID).Msg("relay call event")
			}
		}
	}
}

func (b *Bus) Close() error {
	return b.client.Close()
}
