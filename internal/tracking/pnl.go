package tracking

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ReturnPct is the percentage move from t0 to p, rounded to two
// decimals. Callers guarantee t0 > 0.
func ReturnPct(t0, p float64) float64 {
	return round2((p - t0) / t0 * 100)
}

// BasketReturnPct is the equal-weighted mean of per-ticker returns
// versus T0, rounded to two decimals. Tickers without a price in both
// maps are skipped; an empty overlap returns 0.
func BasketReturnPct(t0Prices, prices map[string]float64) float64 {
	rets := make([]float64, 0, len(t0Prices))
	for ticker, t0 := range t0Prices {
		p, ok := prices[ticker]
		if !ok || t0 <= 0 {
			continue
		}
		rets = append(rets, (p-t0)/t0*100)
	}
	if len(rets) == 0 {
		return 0
	}
	return round2(stat.Mean(rets, nil))
}

// UpdateDrawdown folds a newly observed basket return into the
// incremental maximum drawdown. The result is never positive: drawdown
// starts at 0 and only deepens.
func UpdateDrawdown(current, returnPct float64) float64 {
	if returnPct < current {
		return returnPct
	}
	return current
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
