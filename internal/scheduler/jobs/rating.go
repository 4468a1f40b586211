package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/newstrace/backend/internal/rating"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// RatingJob rebuilds the source leaderboard from the trailing window
type RatingJob struct {
	aggregator *rating.Aggregator
	policy     *strategyconfig.Config
	logger     *logger.Logger
}

// NewRatingJob creates a new rating job
func NewRatingJob(aggregator *rating.Aggregator, policy *strategyconfig.Config, log *logger.Logger) *RatingJob {
	return &RatingJob{
		aggregator: aggregator,
		policy:     policy,
		logger:     log,
	}
}

// Name returns the job name
func (j *RatingJob) Name() string {
	return "source_rating"
}

// Schedule returns the cron schedule from the policy (weekly)
func (j *RatingJob) Schedule() string {
	return j.policy.Schedules.Rating
}

// Run executes one rating pass
func (j *RatingJob) Run(ctx context.Context) error {
	ratings, err := j.aggregator.RunPass(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("rating pass: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"sources": len(ratings),
		"window":  j.policy.Rating.WindowDays,
	}).Info("Scheduled rating pass finished")

	return nil
}
