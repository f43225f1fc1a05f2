package events

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/clutchstake/backend/internal/models"
)

// RedisPublisher fans events out over pub/sub for live UI updates.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, e models.Event) error {
	payload, err := encode(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.ID, err)
	}
	return nil
}
