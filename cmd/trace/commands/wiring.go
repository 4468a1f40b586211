package commands

import (
	"fmt"

	"github.com/wonny/newstrace/backend/internal/audit"
	"github.com/wonny/newstrace/backend/internal/external/quotes"
	"github.com/wonny/newstrace/backend/internal/feedback"
	marketcache "github.com/wonny/newstrace/backend/internal/market/cache"
	"github.com/wonny/newstrace/backend/internal/metrics"
	"github.com/wonny/newstrace/backend/internal/rating"
	"github.com/wonny/newstrace/backend/internal/strategy"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/internal/tracking"
	"github.com/wonny/newstrace/backend/pkg/config"
	"github.com/wonny/newstrace/backend/pkg/database"
	"github.com/wonny/newstrace/backend/pkg/httputil"
	"github.com/wonny/newstrace/backend/pkg/logger"
	"github.com/wonny/newstrace/backend/pkg/redis"
)

// runtime bundles the wired tracking stack shared by the one-shot
// commands. Callers own it and call Close when done.
type runtime struct {
	cfg        *config.Config
	policy     *strategyconfig.Config
	policySnap *strategyconfig.PolicySnapshot
	log        *logger.Logger
	db         *database.DB
	rdb        *redis.Client
	cache      *redis.Cache
	reg        *metrics.Registry

	tasks    *tracking.Repository
	feedback *feedback.Repository
	weights  *strategy.Repository
	ratings  *rating.Repository
	audits   *audit.Repository

	snapshots *marketcache.SnapshotCache
	quotes    *quotes.Client
	manager   *tracking.Manager
	updater   *strategy.Updater
	rater     *rating.Aggregator
}

// initRuntime wires the full stack: config, policy, stores, market
// clients, and the three processing components.
func initRuntime() (*runtime, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 2. Load evolution policy
	policy, yamlData, err := strategyconfig.Load(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	policySnap, err := strategyconfig.NewPolicySnapshot(policy, yamlData, "")
	if err != nil {
		return nil, fmt.Errorf("snapshot policy: %w", err)
	}

	// 3. Initialize logger
	log := logger.New(cfg)
	zl := log.Zerolog()

	// 4. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// 5. Connect to Redis (a disabled client degrades to a no-op cache)
	rdb, err := redis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	redisCache := redis.NewCache(rdb, "trace")

	// 6. Create metrics registry
	reg := metrics.NewRegistry()

	// 7. Create HTTP client and snapshot cache
	httpClient := httputil.New(cfg, log)
	snapshots := marketcache.NewSnapshotCache(cfg.Quotes.CacheTTL, log)

	// 8. Create quote client (the shared limiter spans api and scheduler)
	quoteClient := quotes.NewClient(cfg.Quotes, httpClient, redisCache, snapshots, log).
		WithDrift(quotes.Drift{
			BullPctPerDay:    policy.Reward.Benchmark.BullDriftPctPerDay,
			BearPctPerDay:    policy.Reward.Benchmark.BearDriftPctPerDay,
			NeutralPctPerDay: policy.Reward.Benchmark.NeutralDriftPctPerDay,
		}).
		WithMetrics(reg).
		WithSharedLimit(redis.NewRateLimiter(rdb, "trace"))

	// 9. Create repositories
	taskRepo := tracking.NewRepository(db.Pool)
	feedbackRepo := feedback.NewRepository(db.Pool)
	weightRepo := strategy.NewRepository(db.Pool)
	ratingRepo := rating.NewRepository(db.Pool)
	auditRepo := audit.NewRepository(db.Pool)

	// 10. Create feedback builder
	builder, err := feedback.NewAggregator(quoteClient, policy, zl)
	if err != nil {
		return nil, fmt.Errorf("create feedback aggregator: %w", err)
	}

	// 11. Create tracking manager
	manager, err := tracking.NewManager(taskRepo, quoteClient, builder, policy, log, reg)
	if err != nil {
		return nil, fmt.Errorf("create tracking manager: %w", err)
	}

	// 12. Create weight updater and rating aggregator
	updater := strategy.NewUpdater(weightRepo, feedbackRepo, policy, policySnap.ConfigHash, zl, reg)
	rater := rating.NewAggregator(taskRepo, feedbackRepo, ratingRepo, policy, zl, reg).
		WithCache(redisCache)

	return &runtime{
		cfg:        cfg,
		policy:     policy,
		policySnap: policySnap,
		log:        log,
		db:         db,
		rdb:        rdb,
		cache:      redisCache,
		reg:        reg,
		tasks:      taskRepo,
		feedback:   feedbackRepo,
		weights:    weightRepo,
		ratings:    ratingRepo,
		audits:     auditRepo,
		snapshots:  snapshots,
		quotes:     quoteClient,
		manager:    manager,
		updater:    updater,
		rater:      rater,
	}, nil
}

// Close releases the database and Redis connections.
func (rt *runtime) Close() {
	rt.db.Close()
	rt.rdb.Close()
}
