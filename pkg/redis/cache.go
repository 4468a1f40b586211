package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache provides typed caching on top of Client
// ⭐ SSOT: cache helpers live here only
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a cache helper. Keys are namespaced under prefix.
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

func (c *Cache) fullKey(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

// Get loads a cached value into dest and reports whether the key was
// present. Any read error counts as a miss: the caller recomputes.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	return true, nil
}

// Set stores a value under key for ttl
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	return c.client.Redis().Set(ctx, c.fullKey(key), data, ttl).Err()
}

// Delete drops a cached value. Used to invalidate the rating board
// after a rating pass rewrites the grades.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}

	return c.client.Redis().Del(ctx, c.fullKey(key)).Err()
}

// GetOrSet reads through the cache: on a miss it calls fn, stores the
// result for ttl, and fills dest either way.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, fn func() (interface{}, error)) error {
	found, err := c.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	value, err := fn()
	if err != nil {
		return err
	}

	// A failed write is not fatal: the next read recomputes
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return nil
	}

	// Round-trip through JSON so dest holds exactly what was stored
	data, _ := json.Marshal(value)
	return json.Unmarshal(data, dest)
}

// Predefined TTLs
const (
	TTLShort  = 1 * time.Minute  // intraday state
	TTLMedium = 10 * time.Minute // leaderboard, weight snapshot
	TTLLong   = 1 * time.Hour    // benchmark windows
	TTLDaily  = 24 * time.Hour   // historical closes
)

// Common cache key generators
func SnapshotKey(ticker string, date string) string {
	return fmt.Sprintf("snapshot:%s:%s", ticker, date)
}

func BenchmarkKey(symbol string, from string, to string) string {
	return fmt.Sprintf("benchmark:%s:%s:%s", symbol, from, to)
}

func BoardKey() string {
	return "rating:board"
}
