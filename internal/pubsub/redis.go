package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher pushes serialized orderbook payloads to a redis channel so
// out-of-process consumers can follow the cache without polling the HTTP API.
type RedisPublisher struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisPublisher connects to redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, logger *zap.Logger, addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisPublisher{
		logger: logger.Named("redis-publisher"),
		client: client,
	}, nil
}

// Publish sends the payload to the channel. Delivery is fire-and-forget;
// the cache treats failures as non-fatal.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Close releases the underlying connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
