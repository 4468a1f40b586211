package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/internal/tracking"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// SweepJob advances every active tracking task through its due
// checkpoints and closes
// ⭐ SSOT: the sweep schedule lives in this job only
type SweepJob struct {
	manager *tracking.Manager
	policy  *strategyconfig.Config
	logger  *logger.Logger
}

// NewSweepJob creates a new sweep job
func NewSweepJob(manager *tracking.Manager, policy *strategyconfig.Config, log *logger.Logger) *SweepJob {
	return &SweepJob{
		manager: manager,
		policy:  policy,
		logger:  log,
	}
}

// Name returns the job name
func (j *SweepJob) Name() string {
	return "checkpoint_sweep"
}

// Schedule returns the cron schedule from the policy (after market close)
func (j *SweepJob) Schedule() string {
	return j.policy.Schedules.Sweep
}

// Run executes one checkpoint sweep
func (j *SweepJob) Run(ctx context.Context) error {
	result, err := j.manager.RunSweep(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"scanned":      result.Scanned,
		"applied":      result.Applied,
		"stale_fills":  result.StaleFills,
		"short_closes": result.ShortCloses,
		"final_closes": result.FinalCloses,
		"conflicts":    result.Conflicts,
		"errors":       result.Errors,
		"duration":     result.Duration,
	}).Info("Scheduled sweep finished")

	return nil
}
