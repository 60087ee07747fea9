// Package notify pushes real-time events to per-user channels.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher sends event with payload to channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Envelope is the JSON body delivered to subscribers.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// RedisPublisher publishes envelopes with Redis PUBLISH on <prefix>:<channel>.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(addr, password, prefix string) (*RedisPublisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("notify redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ransomhub:notify"
	}
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
	}, nil
}

// Channel returns the Redis channel name for a logical channel.
func (p *RedisPublisher) Channel(name string) string {
	return p.prefix + ":" + name
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	body, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.Publish(ctx, p.Channel(channel), body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
