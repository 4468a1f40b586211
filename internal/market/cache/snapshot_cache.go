// Package cache holds the in-process snapshot cache for daily closes.
// It sits in front of Redis and the quote provider so a sweep over many
// tasks sharing tickers hits the network once per ticker and date.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/wonny/newstrace/backend/pkg/logger"
)

// Snapshot is one cached daily close
type Snapshot struct {
	Ticker    string    `json:"ticker"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Close     float64   `json:"close"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SnapshotCache is an in-memory cache for daily close prices
// ⭐ SSOT: in-process price caching happens in this struct only
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]*Snapshot
	ttl     time.Duration
	logger  *logger.Logger
}

// NewSnapshotCache creates a new snapshot cache. Closes are immutable
// once published, so the TTL only bounds memory, not correctness.
func NewSnapshotCache(ttl time.Duration, log *logger.Logger) *SnapshotCache {
	return &SnapshotCache{
		entries: make(map[string]*Snapshot),
		ttl:     ttl,
		logger:  log,
	}
}

func key(ticker, date string) string {
	return fmt.Sprintf("%s|%s", ticker, date)
}

// Put stores a close price for a ticker and date
func (c *SnapshotCache) Put(ticker, date string, close float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key(ticker, date)] = &Snapshot{
		Ticker:    ticker,
		Date:      date,
		Close:     close,
		FetchedAt: time.Now(),
	}
}

// Get retrieves a close price from the cache
func (c *SnapshotCache) Get(ticker, date string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, exists := c.entries[key(ticker, date)]
	if !exists {
		return 0, false
	}

	if time.Since(snap.FetchedAt) > c.ttl {
		return 0, false
	}

	return snap.Close, true
}

// GetMany retrieves closes for multiple tickers on one date. Missing or
// expired entries are simply absent from the result.
func (c *SnapshotCache) GetMany(tickers []string, date string) map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]float64, len(tickers))
	for _, ticker := range tickers {
		snap, exists := c.entries[key(ticker, date)]
		if !exists {
			continue
		}
		if time.Since(snap.FetchedAt) > c.ttl {
			continue
		}
		result[ticker] = snap.Close
	}

	return result
}

// Delete removes one entry from the cache
func (c *SnapshotCache) Delete(ticker, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key(ticker, date))
}

// Clear removes all entries
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Snapshot)
	c.logger.Info("Cleared snapshot cache")
}

// Len returns the number of cached entries
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// CleanExpired removes entries older than the TTL and returns the count
func (c *SnapshotCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	count := 0

	for k, snap := range c.entries {
		if now.Sub(snap.FetchedAt) > c.ttl {
			delete(c.entries, k)
			count++
		}
	}

	if count > 0 {
		c.logger.WithField("count", count).Info("Cleaned expired snapshots from cache")
	}

	return count
}

// Stats returns cache statistics
func (c *SnapshotCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		TotalCount: len(c.entries),
	}

	now := time.Now()
	for _, snap := range c.entries {
		if now.Sub(snap.FetchedAt) > c.ttl {
			stats.ExpiredCount++
		}
	}

	stats.FreshCount = stats.TotalCount - stats.ExpiredCount

	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalCount   int `json:"total_count"`
	FreshCount   int `json:"fresh_count"`
	ExpiredCount int `json:"expired_count"`
}
