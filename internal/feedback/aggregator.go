// Package feedback turns closed tracking tasks into the immutable reward
// records the evolution cycle consumes.
package feedback

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
)

// Aggregator builds the MarketFeedback record for a closing task
// ⭐ SSOT: reward computation happens here only
type Aggregator struct {
	benchmark contracts.BenchmarkSource
	policy    *strategyconfig.Config
	loc       *time.Location
	log       zerolog.Logger
}

// NewAggregator creates a feedback aggregator
func NewAggregator(benchmark contracts.BenchmarkSource, policy *strategyconfig.Config, log zerolog.Logger) (*Aggregator, error) {
	loc, err := policy.Meta.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve policy timezone: %w", err)
	}
	return &Aggregator{
		benchmark: benchmark,
		policy:    policy,
		loc:       loc,
		log:       log.With().Str("component", "feedback.aggregator").Logger(),
	}, nil
}

// Build assembles the feedback record for the given close horizon. The
// realized return is the latest checkpoint at or before the horizon (T0
// when none was recorded); the benchmark return over the same window is
// subtracted to isolate the news-specific move. A benchmark failure
// aborts the build so the close can retry later instead of persisting an
// unadjusted reward.
func (a *Aggregator) Build(ctx context.Context, task *contracts.TrackingTask, horizon contracts.Horizon, closedAt time.Time) (*contracts.MarketFeedback, error) {
	realized := task.LatestReturn(horizon)

	from := dateOf(task.T0At.In(a.loc))
	to := from.AddDate(0, 0, horizon.Days())

	benchmarkPct, err := a.benchmark.WindowReturn(ctx, task.Regime, from, to)
	if err != nil {
		return nil, fmt.Errorf("benchmark window %s to %s: %w", from.Format("2006-01-02"), to.Format("2006-01-02"), err)
	}

	adjusted := round2(realized - benchmarkPct)
	contributions := a.contributions(task.Features, adjusted)

	fb := &contracts.MarketFeedback{
		TaskID:        task.ID,
		NewsID:        task.NewsID,
		Source:        task.Source,
		Horizon:       horizon,
		Regime:        task.Regime,
		Features:      task.Features,
		ReturnPct:     realized,
		BenchmarkPct:  benchmarkPct,
		AdjustedPct:   adjusted,
		DrawdownPct:   task.MaxDrawdownPct,
		Contributions: contributions,
		ClosedAt:      closedAt,
	}

	a.log.Debug().
		Str("task_id", task.ID).
		Str("horizon", string(horizon)).
		Float64("return_pct", realized).
		Float64("benchmark_pct", benchmarkPct).
		Float64("adjusted_pct", adjusted).
		Int("contributions", len(contributions)).
		Msg("feedback built")

	return fb, nil
}

// contributions computes the per-feature reward: activation strength
// times direction agreement times the capped magnitude of the adjusted
// move. Features with zero activation took no part in the call and get
// no reward either way.
func (a *Aggregator) contributions(features contracts.FeatureVector, adjustedPct float64) map[string]float64 {
	magnitude := math.Abs(adjustedPct)
	if magnitude > a.policy.Reward.MagnitudeCapPct {
		magnitude = a.policy.Reward.MagnitudeCapPct
	}

	out := make(map[string]float64, len(features.Activations))
	for name, act := range features.Activations {
		if act == 0 {
			continue
		}
		agreement := -1.0
		if (act >= 0 && adjustedPct >= 0) || (act < 0 && adjustedPct < 0) {
			agreement = 1.0
		}
		out[name] = math.Abs(act) * agreement * magnitude
	}
	return out
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
