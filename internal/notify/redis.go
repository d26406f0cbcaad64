package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher sends verification events over a Redis pub/sub channel. The
// worker process publishes here; the API process bridges the channel into its
// WebSocket hub. Delivery is fire-and-forget, matching the channel's
// best-effort contract.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, event VerificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verification event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish verification event: %w", err)
	}
	return nil
}

// RedisBridge subscribes to the event channel and forwards every decodable
// event into the hub. It runs in the API process for as long as the process
// lives.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	logger  *log.Logger
}

func NewRedisBridge(client redis.UniversalClient, channel string, hub *Hub, logger *log.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled, forwarding events from Redis to the hub.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("notification subscription closed")
			}
			var event VerificationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Printf("drop undecodable notification payload: %v", err)
				continue
			}
			if err := b.hub.Publish(ctx, event); err != nil {
				b.logger.Printf("hub broadcast failed chore_id=%d err=%v", event.ChoreID, err)
			}
		}
	}
}
