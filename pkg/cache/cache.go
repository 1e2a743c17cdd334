// Package cache owns the Redis connection used for pub/sub fan-out, chat
// memory and short-lived lookups.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps the Redis client shared by the event plane and the memory
// service.
type Cache struct {
	client *redis.Client
}

// Connect parses the URI, opens the connection and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*Cache, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URI: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache ping failed: %w", err)
	}

	slog.Info("Cache connected", "addr", opts.Addr)
	return &Cache{client: client}, nil
}

// Client exposes the underlying client for pub/sub and list operations.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Health pings the cache. Used by the readiness endpoint.
func (c *Cache) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
