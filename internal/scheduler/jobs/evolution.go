package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/newstrace/backend/internal/strategy"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// EvolutionJob runs one weight evolution cycle over the pending feedback
type EvolutionJob struct {
	updater *strategy.Updater
	policy  *strategyconfig.Config
	logger  *logger.Logger
}

// NewEvolutionJob creates a new evolution job
func NewEvolutionJob(updater *strategy.Updater, policy *strategyconfig.Config, log *logger.Logger) *EvolutionJob {
	return &EvolutionJob{
		updater: updater,
		policy:  policy,
		logger:  log,
	}
}

// Name returns the job name
func (j *EvolutionJob) Name() string {
	return "weight_evolution"
}

// Schedule returns the cron schedule from the policy (nightly, after the sweep)
func (j *EvolutionJob) Schedule() string {
	return j.policy.Schedules.Evolution
}

// Run executes one evolution cycle
func (j *EvolutionJob) Run(ctx context.Context) error {
	result, err := j.updater.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("evolution cycle: %w", err)
	}

	if result.NoOp {
		j.logger.Debug("No pending feedback, weights unchanged")
		return nil
	}

	j.logger.WithFields(map[string]interface{}{
		"cycle_id":         result.CycleID,
		"from_version":     result.FromVersion,
		"to_version":       result.ToVersion,
		"feedback":         result.FeedbackCount,
		"rejected":         result.RejectedCount,
		"changed_features": result.ChangedFeatures,
	}).Info("Scheduled evolution cycle finished")

	return nil
}
