package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wonny/newstrace/backend/pkg/config"
)

// Client wraps the go-redis client behind the enabled flag.
// ⭐ SSOT: the Redis connection is managed here only
//
// A client built with REDIS_ENABLED=false is still valid: the cache and
// rate limit helpers check Enabled() and fall back to no-ops, so the
// tracking loop runs without Redis.
type Client struct {
	rdb     *redis.Client
	enabled bool
}

// New creates a Redis client, or a disabled stand-in when Redis is off
func New(cfg *config.Config) (*Client, error) {
	if !cfg.Redis.Enabled {
		return &Client{enabled: false}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Client{
		rdb:     rdb,
		enabled: true,
	}, nil
}

// Close releases the connection. Safe to call on a disabled client.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Enabled reports whether a live Redis connection backs the client
func (c *Client) Enabled() bool {
	return c.enabled
}

// Redis exposes the underlying go-redis client. Callers must guard
// with Enabled(): on a disabled client this is nil.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}
