package quotes

import (
	"context"
	"math"
	"time"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/pkg/redis"
)

// Drift is the expected benchmark move per calendar day under each
// market regime, used when the index itself cannot be fetched
type Drift struct {
	BullPctPerDay    float64
	BearPctPerDay    float64
	NeutralPctPerDay float64
}

// PerDay returns the drift for regime
func (d Drift) PerDay(regime contracts.MarketRegime) float64 {
	switch regime {
	case contracts.RegimeBull:
		return d.BullPctPerDay
	case contracts.RegimeBear:
		return d.BearPctPerDay
	default:
		return d.NeutralPctPerDay
	}
}

// WindowReturn returns the benchmark index move in percent over
// [from, to]. Window endpoints falling on non-trading days resolve to
// the last close at or before them. When the index cannot be fetched at
// all the drift table supplies an estimate, so a non-nil error here
// means the window itself was invalid.
func (c *Client) WindowReturn(ctx context.Context, regime contracts.MarketRegime, from, to time.Time) (float64, error) {
	if !to.After(from) {
		return 0, &contracts.InvalidInputError{Field: "window", Message: "to must be after from"}
	}

	key := redis.BenchmarkKey(c.benchmark, from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached float64
	if found, err := c.cache.Get(ctx, key, &cached); err == nil && found {
		return cached, nil
	}

	start, end, err := c.windowCloses(ctx, from, to)
	if err == nil {
		pct := round2((end - start) / start * 100)
		// Drift estimates are never cached, only real index windows
		if cacheErr := c.cache.Set(ctx, key, pct, redis.TTLLong); cacheErr != nil {
			c.logger.WithError(cacheErr).Debug("Benchmark cache write failed")
		}
		return pct, nil
	}

	days := to.Sub(from).Hours() / 24
	est := round2(c.drift.PerDay(regime) * days)
	c.logger.WithError(err).WithFields(map[string]interface{}{
		"benchmark": c.benchmark,
		"regime":    string(regime),
		"days":      days,
	}).Warn("Benchmark window unavailable, using drift estimate")
	return est, nil
}

// windowCloses resolves the index closes bracketing the window from one
// kline request: the last bar at or before each endpoint.
func (c *Client) windowCloses(ctx context.Context, from, to time.Time) (float64, float64, error) {
	bars, err := c.FetchKline(ctx, c.benchmark, klineSpan(from))
	if err != nil {
		return 0, 0, err
	}
	for _, bar := range bars {
		c.store(ctx, c.benchmark, bar.Day, bar.Close)
	}

	start, end, ok := bracketCloses(bars, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if !ok {
		return 0, 0, &contracts.DataUnavailableError{Ticker: c.benchmark, Date: from}
	}
	return start, end, nil
}

// bracketCloses picks the last close at or before each endpoint from
// bars ordered oldest first
func bracketCloses(bars []KlineBar, fromDay, toDay string) (float64, float64, bool) {
	var start, end float64
	for _, bar := range bars {
		if bar.Day <= fromDay {
			start = bar.Close
		}
		if bar.Day <= toDay {
			end = bar.Close
		}
	}
	return start, end, start > 0 && end > 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
