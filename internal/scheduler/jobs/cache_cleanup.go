package jobs

import (
	"context"

	"github.com/wonny/newstrace/backend/internal/market/cache"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// CacheCleanupJob evicts expired entries from the snapshot cache
type CacheCleanupJob struct {
	cache  *cache.SnapshotCache
	policy *strategyconfig.Config
	logger *logger.Logger
}

// NewCacheCleanupJob creates a new cache cleanup job
func NewCacheCleanupJob(snapshots *cache.SnapshotCache, policy *strategyconfig.Config, log *logger.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		cache:  snapshots,
		policy: policy,
		logger: log,
	}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

// Schedule returns the cron schedule from the policy (hourly)
func (j *CacheCleanupJob) Schedule() string {
	return j.policy.Schedules.CacheCleanup
}

// Run executes the cache cleanup
func (j *CacheCleanupJob) Run(ctx context.Context) error {
	j.logger.Debug("Starting scheduled cache cleanup")

	count := j.cache.CleanExpired()

	if count > 0 {
		j.logger.WithField("removed", count).Info("Cache cleanup completed")
	}

	return nil
}
