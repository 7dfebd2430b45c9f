package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	model "auction-stream/internal/models"
	"auction-stream/utils"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "auction:events"

// RedisChannel fans events out to every instance subscribed to the same Redis channel
type RedisChannel struct {
	client  *redis.Client
	channel string

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisClient parses a redis:// URL and verifies the connection with a ping
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisChannel(client *redis.Client, channel string) *RedisChannel {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisChannel{client: client, channel: channel}
}

func (c *RedisChannel) Publish(ctx context.Context, event model.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("pubsub: marshal event %s: %w", event.ID, err)
	}
	if err := c.client.Publish(ctx, c.channel, raw).Err(); err != nil {
		return fmt.Errorf("pubsub: publish event %s: %w", event.ID, err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, handler func(model.Event)) error {
	sub := c.client.Subscribe(ctx, c.channel)
	// wait for the subscription confirmation so no publish after return is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("pubsub: subscribe %s: %w", c.channel, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	messages := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event model.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					utils.Warn("dropping malformed pubsub message", map[string]any{
						"channel": c.channel,
						"error":   err.Error(),
					})
					continue
				}
				handler(event)
			}
		}
	}()
	return nil
}

func (c *RedisChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, sub := range c.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.subs = nil
	return firstErr
}
