package contracts

import (
	"context"
	"time"
)

// PriceSource resolves the close price of a ticker on a given trading
// date. Implementations may block on network calls; callers bound them
// with a context deadline and own the retry policy. A date with no
// observation returns *DataUnavailableError.
type PriceSource interface {
	Fetch(ctx context.Context, ticker string, date time.Time) (float64, error)
}

// BenchmarkSource returns the benchmark index return in percent over
// [from, to] for the given regime. Implementations fall back to the
// policy drift table when the index itself cannot be resolved, so a
// non-nil error here means even the fallback failed.
type BenchmarkSource interface {
	WindowReturn(ctx context.Context, regime MarketRegime, from, to time.Time) (float64, error)
}
