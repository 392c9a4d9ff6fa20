package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/optical-storefront/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel for token changes
const DefaultRedisChannel = "storefront:credentials:changed"

// NewRedisClient creates a client for addr, returning nil when addr is empty
func NewRedisClient(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

// RedisBackend stores credentials as plain Redis strings
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "storefront:credentials:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBackend) Save(ctx context.Context, key string, data []byte) error {
	return b.client.Set(ctx, b.prefix+key, data, 0).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.prefix+key).Err()
}

// RedisNotifier fans changes out over Redis pub/sub
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

func (n *RedisNotifier) Subscribe(fn func(Change)) (func(), error) {
	ctx := context.Background()
	pubsub := n.client.Subscribe(ctx, n.channel)
	// Wait for the subscription to be confirmed so no change is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				logger.Warn("[RedisNotifier] invalid payload", "error", err)
				continue
			}
			fn(c)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}
