package quotes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	marketcache "github.com/wonny/newstrace/backend/internal/market/cache"
	"github.com/wonny/newstrace/backend/internal/metrics"
	"github.com/wonny/newstrace/backend/pkg/config"
	"github.com/wonny/newstrace/backend/pkg/httputil"
	"github.com/wonny/newstrace/backend/pkg/logger"
	"github.com/wonny/newstrace/backend/pkg/redis"
)

// Client handles communication with the Sina Finance quote endpoints
// ⭐ SSOT: quote provider HTTP calls happen in this client only
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	historyURL string
	benchmark  string

	limiter *rate.Limiter
	shared  *redis.RateLimiter
	breaker *gobreaker.CircuitBreaker

	cache     *redis.Cache
	snapshots *marketcache.SnapshotCache

	drift   Drift
	metrics *metrics.Registry
}

// NewClient creates a new quote client. The breaker trips on three
// consecutive failures or a >5% error rate over at least 20 requests,
// and stays open for one minute.
func NewClient(cfg config.QuotesConfig, httpClient *httputil.Client, cache *redis.Cache, snapshots *marketcache.SnapshotCache, log *logger.Logger) *Client {
	var breaker *gobreaker.CircuitBreaker
	if cfg.BreakerEnabled {
		st := gobreaker.Settings{Name: "quotes"}
		st.Interval = 60 * time.Second
		st.Timeout = 60 * time.Second
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		}
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Quote breaker state changed")
		}
		breaker = gobreaker.NewCircuitBreaker(st)
	}

	return &Client{
		httpClient: httpClient,
		logger:     log,
		baseURL:    cfg.BaseURL,
		historyURL: cfg.HistoryURL,
		benchmark:  cfg.BenchmarkSymbol,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		breaker:    breaker,
		cache:      cache,
		snapshots:  snapshots,
	}
}

// WithDrift sets the per-regime drift table used when the benchmark
// index cannot be fetched
func (c *Client) WithDrift(d Drift) *Client {
	c.drift = d
	return c
}

// WithMetrics enables fetch-outcome counters
func (c *Client) WithMetrics(m *metrics.Registry) *Client {
	c.metrics = m
	return c
}

// WithSharedLimit adds the redis sliding-window limiter so the api and
// scheduler processes draw from one provider quota. The local limiter
// still smooths bursts within this process.
func (c *Client) WithSharedLimit(r *redis.RateLimiter) *Client {
	c.shared = r
	return c
}

// count records one fetch outcome when metrics are wired
func (c *Client) count(outcome string) {
	if c.metrics != nil {
		c.metrics.QuoteFetches.WithLabelValues(outcome).Inc()
	}
}

// fetchBody performs one rate-limited, breaker-guarded GET and returns
// the response body
func (c *Client) fetchBody(ctx context.Context, fullURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	if c.shared != nil {
		if err := c.shared.Wait(ctx, redis.QuotesRateLimit); err != nil {
			return nil, fmt.Errorf("shared rate limit wait failed: %w", err)
		}
	}

	get := func() (interface{}, error) {
		resp, err := c.httpClient.Get(ctx, fullURL)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body failed: %w", err)
		}
		return body, nil
	}

	if c.breaker == nil {
		out, err := get()
		if err != nil {
			return nil, err
		}
		return out.([]byte), nil
	}

	out, err := c.breaker.Execute(get)
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// fetchHTML fetches an HTML page from the history host. Scrapes sit
// under the tighter history window on top of the regular quota.
func (c *Client) fetchHTML(ctx context.Context, path string, params url.Values) (string, error) {
	fullURL := fmt.Sprintf("%s%s", c.historyURL, path)
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	if c.shared != nil {
		if err := c.shared.Wait(ctx, redis.HistoryRateLimit); err != nil {
			return "", fmt.Errorf("history rate limit wait failed: %w", err)
		}
	}

	body, err := c.fetchBody(ctx, fullURL)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// store writes a close through both cache layers
func (c *Client) store(ctx context.Context, ticker, day string, closePrice float64) {
	c.snapshots.Put(ticker, day, closePrice)
	if err := c.cache.Set(ctx, redis.SnapshotKey(ticker, day), closePrice, redis.TTLDaily); err != nil {
		c.logger.WithError(err).Debug("Close cache write failed")
	}
}

// klineSymbol converts an exchange-suffixed ticker (600519.SH) into the
// provider symbol (sh600519). Index tickers use the same scheme, so the
// CSI 300 at 000300.SH maps to sh000300.
func klineSymbol(ticker string) (string, error) {
	parts := strings.Split(ticker, ".")
	if len(parts) != 2 || parts[0] == "" {
		return "", fmt.Errorf("malformed ticker %q", ticker)
	}
	switch strings.ToUpper(parts[1]) {
	case "SH":
		return "sh" + parts[0], nil
	case "SZ":
		return "sz" + parts[0], nil
	case "BJ":
		return "bj" + parts[0], nil
	default:
		return "", fmt.Errorf("unknown exchange suffix in ticker %q", ticker)
	}
}

// KlineBar is one daily bar from the quote provider
type KlineBar struct {
	Ticker string
	Day    string // YYYY-MM-DD
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}
