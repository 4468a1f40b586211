package redis

import (
	"context"
	"testing"

	"github.com/wonny/newstrace/backend/pkg/config"
)

// disabledClient builds the no-op client used when REDIS_ENABLED is off
func disabledClient(t *testing.T) *Client {
	t.Helper()

	cfg := &config.Config{
		Redis: config.RedisConfig{Enabled: false},
	}

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)

	if client.Enabled() {
		t.Error("Expected client to be disabled")
	}
	if client.Redis() != nil {
		t.Error("Expected nil go-redis client when disabled")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")
	ctx := context.Background()

	// Without Redis there is no shared budget: everything is allowed
	allowed, remaining, err := limiter.Allow(ctx, QuotesRateLimit)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("Expected request to be allowed when Redis disabled")
	}
	if remaining != QuotesRateLimit.Limit {
		t.Errorf("Expected remaining = %d, got %d", QuotesRateLimit.Limit, remaining)
	}

	if err := limiter.Wait(ctx, HistoryRateLimit); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")
	ctx := context.Background()

	var result string
	found, err := cache.Get(ctx, "key", &result)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Expected cache miss when Redis disabled")
	}

	if err := cache.Set(ctx, "key", "value", TTLShort); err != nil {
		t.Errorf("Set() error = %v", err)
	}
	if err := cache.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestGetOrSet_DisabledCallsThrough(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")
	ctx := context.Background()

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return []string{"reuters", "bloomberg"}, nil
	}

	var got []string
	for i := 0; i < 2; i++ {
		if err := cache.GetOrSet(ctx, BoardKey(), &got, TTLMedium, fetch); err != nil {
			t.Fatalf("GetOrSet() error = %v", err)
		}
	}

	// Nothing is stored without Redis, so every read recomputes
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
	if len(got) != 2 || got[0] != "reuters" {
		t.Errorf("dest = %v, want the fetched board", got)
	}
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name     string
		fn       func() string
		expected string
	}{
		{
			name:     "SnapshotKey",
			fn:       func() string { return SnapshotKey("600519.SH", "2026-08-17") },
			expected: "snapshot:600519.SH:2026-08-17",
		},
		{
			name:     "BenchmarkKey",
			fn:       func() string { return BenchmarkKey("000300.SH", "2026-08-10", "2026-08-17") },
			expected: "benchmark:000300.SH:2026-08-10:2026-08-17",
		},
		{
			name:     "BoardKey",
			fn:       func() string { return BoardKey() },
			expected: "rating:board",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}
