package contracts

import "time"

// FeedbackKey identifies one feedback record. A task produces at most one
// record per close horizon, so the pair is unique.
type FeedbackKey struct {
	TaskID  string
	Horizon Horizon
}

// MarketFeedback is the immutable reward record emitted when a task
// closes at T+3 or T+7. AdjustedPct is the realized basket return minus
// the regime benchmark over the same window; Contributions carry the
// per-feature rewards the evolution cycle will consume.
type MarketFeedback struct {
	TaskID        string             `json:"task_id"`
	NewsID        string             `json:"news_id"`
	Source        string             `json:"source"`
	Horizon       Horizon            `json:"horizon"`
	Regime        MarketRegime       `json:"regime"`
	Features      FeatureVector      `json:"features"`
	ReturnPct     float64            `json:"return_pct"`
	BenchmarkPct  float64            `json:"benchmark_pct"`
	AdjustedPct   float64            `json:"adjusted_pct"`
	DrawdownPct   float64            `json:"drawdown_pct"`
	Contributions map[string]float64 `json:"contributions"`
	ClosedAt      time.Time          `json:"closed_at"`
	ConsumedAt    *time.Time         `json:"consumed_at,omitempty"`
}

// Key returns the record's unique key.
func (f *MarketFeedback) Key() FeedbackKey {
	return FeedbackKey{TaskID: f.TaskID, Horizon: f.Horizon}
}

// Favorable reports whether the regime-adjusted move went the right way.
func (f *MarketFeedback) Favorable() bool {
	return f.AdjustedPct > 0
}
