// Package rating scores news sources over a trailing window of finished
// tracking tasks and maintains the credibility leaderboard.
package rating

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/metrics"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/pkg/redis"
)

// TaskSource lists the finished tasks a rating pass scores.
type TaskSource interface {
	ListFinalClosedSince(ctx context.Context, since time.Time) ([]*contracts.TrackingTask, error)
}

// FeedbackSource supplies the adjusted T+7 returns for those tasks.
type FeedbackSource interface {
	ListClosedSince(ctx context.Context, horizon contracts.Horizon, since time.Time) ([]*contracts.MarketFeedback, error)
}

// BoardStore swaps in the finished leaderboard.
type BoardStore interface {
	ReplaceBoard(ctx context.Context, ratings []*contracts.SourceRating) error
}

// Aggregator rebuilds the source leaderboard from the trailing window of
// final-closed tasks. Each pass replaces the whole board.
//
// ⭐ SSOT: source grades are computed here only.
type Aggregator struct {
	tasks    TaskSource
	feedback FeedbackSource
	board    BoardStore
	cache    *redis.Cache
	policy   *strategyconfig.Config
	log      zerolog.Logger
	metrics  *metrics.Registry
}

func NewAggregator(tasks TaskSource, feedback FeedbackSource, board BoardStore, policy *strategyconfig.Config, log zerolog.Logger, m *metrics.Registry) *Aggregator {
	return &Aggregator{
		tasks:    tasks,
		feedback: feedback,
		board:    board,
		policy:   policy,
		log:      log.With().Str("component", "rating.aggregator").Logger(),
		metrics:  m,
	}
}

// WithCache makes a pass drop the cached board after replacing it
func (a *Aggregator) WithCache(c *redis.Cache) *Aggregator {
	a.cache = c
	return a
}

// sourceStats accumulates one source's window before scoring
type sourceStats struct {
	adjusted        []float64
	rumorHits       int
	tickerTotal     int
	tickerPositives int
}

// RunPass rebuilds the board from tasks final-closed in the trailing
// window ending at asOf. Sources below the minimum task count are
// dropped; a quiet window yields an empty board.
func (a *Aggregator) RunPass(ctx context.Context, asOf time.Time) ([]*contracts.SourceRating, error) {
	cfg := a.policy.Rating
	since := asOf.AddDate(0, 0, -cfg.WindowDays)

	tasks, err := a.tasks.ListFinalClosedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed tasks: %w", err)
	}
	records, err := a.feedback.ListClosedSince(ctx, contracts.HorizonT7, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}

	byTask := make(map[string]*contracts.MarketFeedback, len(records))
	for _, fb := range records {
		byTask[fb.TaskID] = fb
	}

	stats := make(map[string]*sourceStats)
	for _, task := range tasks {
		fb, ok := byTask[task.ID]
		if !ok {
			// Closed without a reward record (manual close path); it
			// carries no adjusted return, so it cannot be scored
			a.log.Debug().Str("task_id", task.ID).Msg("skipping task without feedback")
			continue
		}

		st := stats[task.Source]
		if st == nil {
			st = &sourceStats{}
			stats[task.Source] = st
		}

		st.adjusted = append(st.adjusted, fb.AdjustedPct)
		if task.Features.Risk == contracts.RiskHigh && fb.Favorable() {
			st.rumorHits++
		}

		prices := task.LatestPrices(contracts.HorizonT7)
		if cp, ok := task.Checkpoints[contracts.HorizonT7]; ok {
			for ticker, p := range cp.Prices {
				prices[ticker] = p
			}
		}
		for _, ticker := range task.Tickers {
			t0 := task.T0Prices[ticker]
			p, ok := prices[ticker]
			if t0 <= 0 || !ok {
				continue
			}
			st.tickerTotal++
			if p > t0 {
				st.tickerPositives++
			}
		}
	}

	ratings := make([]*contracts.SourceRating, 0, len(stats))
	for source, st := range stats {
		count := len(st.adjusted)
		if count < cfg.MinTasks {
			a.log.Debug().
				Str("source", source).
				Int("tasks", count).
				Int("min", cfg.MinTasks).
				Msg("source below rating minimum")
			continue
		}

		avg := round2(stat.Mean(st.adjusted, nil))
		rumor := float64(st.rumorHits) / float64(count)
		accuracy := 0.0
		if st.tickerTotal > 0 {
			accuracy = float64(st.tickerPositives) / float64(st.tickerTotal)
		}
		score := a.score(avg, rumor, accuracy)
		grade := a.grade(score)

		ratings = append(ratings, &contracts.SourceRating{
			Source:         source,
			WindowStart:    since,
			WindowEnd:      asOf,
			TaskCount:      count,
			AvgReturnPct:   avg,
			RumorRate:      rumor,
			Accuracy:       accuracy,
			Score:          score,
			Grade:          grade,
			Recommendation: recommendation(grade),
			ComputedAt:     asOf,
		})
	}

	sort.Slice(ratings, func(i, j int) bool {
		if ratings[i].Score != ratings[j].Score {
			return ratings[i].Score > ratings[j].Score
		}
		return ratings[i].Source < ratings[j].Source
	})

	if err := a.board.ReplaceBoard(ctx, ratings); err != nil {
		return nil, fmt.Errorf("failed to replace rating board: %w", err)
	}
	if a.cache != nil {
		if err := a.cache.Delete(ctx, redis.BoardKey()); err != nil {
			a.log.Warn().Err(err).Msg("board cache invalidation failed")
		}
	}
	a.metrics.SourcesRated.Set(float64(len(ratings)))

	a.log.Info().
		Time("window_start", since).
		Time("window_end", asOf).
		Int("tasks", len(tasks)).
		Int("sources", len(ratings)).
		Msg("Rating pass completed")

	return ratings, nil
}

// score folds the three window metrics into a 0-100 composite. The
// average return is normalized over [-10%, +10%]; rumor rate counts
// against the source, accuracy for it.
func (a *Aggregator) score(avgReturnPct, rumorRate, accuracy float64) float64 {
	w := a.policy.Rating.Weights
	norm := (avgReturnPct + 10) / 20
	if norm < 0 {
		norm = 0
	}
	if norm > 1 {
		norm = 1
	}
	raw := w.AvgReturn*(norm*100) + w.RumorRate*((1-rumorRate)*100) + w.Accuracy*(accuracy*100)
	return round2(raw)
}

func (a *Aggregator) grade(score float64) contracts.Grade {
	bands := a.policy.Rating.Bands
	switch {
	case score >= bands.A:
		return contracts.GradeA
	case score >= bands.B:
		return contracts.GradeB
	case score >= bands.C:
		return contracts.GradeC
	default:
		return contracts.GradeD
	}
}

func recommendation(g contracts.Grade) string {
	switch g {
	case contracts.GradeA:
		return "Highly credible; fast-track for scoring"
	case contracts.GradeB:
		return "Reliable; score at normal weight"
	case contracts.GradeC:
		return "Mixed record; apply extra scrutiny"
	default:
		return "Low credibility; treat as rumor until corroborated"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
