package contracts

import (
	"context"
	"time"
)

// Repository interfaces are defined here and nowhere else; the concrete
// pgx implementations live with the module that owns each table.

// TaskRepository persists tracking tasks. Update and CloseTask enforce
// optimistic concurrency on TrackingTask.Version and return
// ErrVersionConflict when a concurrent transition won; both bump the
// version on success. CloseTask writes the status change and the
// feedback record in one transaction.
type TaskRepository interface {
	Create(ctx context.Context, task *TrackingTask) error
	Get(ctx context.Context, id string) (*TrackingTask, error)
	Update(ctx context.Context, task *TrackingTask) error
	CloseTask(ctx context.Context, task *TrackingTask, fb *MarketFeedback) error
	ListActive(ctx context.Context) ([]*TrackingTask, error)
	ListByNews(ctx context.Context, newsID string) ([]*TrackingTask, error)
	ListByStatus(ctx context.Context, status TaskStatus, limit int) ([]*TrackingTask, error)
	ListFinalClosedSince(ctx context.Context, since time.Time) ([]*TrackingTask, error)
}

// FeedbackRepository reads the immutable feedback records produced by
// task closes. Pending records are those no evolution cycle has consumed
// yet, ordered by (closed_at, task_id) so batches replay the same way.
type FeedbackRepository interface {
	Get(ctx context.Context, key FeedbackKey) (*MarketFeedback, error)
	ListPending(ctx context.Context, limit int) ([]*MarketFeedback, error)
	ListClosedSince(ctx context.Context, horizon Horizon, since time.Time) ([]*MarketFeedback, error)
	CountPending(ctx context.Context) (int, error)
}

// WeightRepository owns the versioned weight store and its audit trail.
// ApplyCycle replaces the snapshot, appends the log entries, marks the
// consumed feedback, and records the cycle row in one transaction; it
// fails with ErrVersionConflict when fromVersion no longer matches the
// stored snapshot.
type WeightRepository interface {
	Snapshot(ctx context.Context) (*WeightSet, error)
	Seed(ctx context.Context, initial map[string]float64) error
	ApplyCycle(ctx context.Context, fromVersion int64, next *WeightSet, entries []EvolutionEntry, consumed []FeedbackKey, cycle *EvolutionCycle) error
	Log(ctx context.Context, limit int) ([]EvolutionEntry, error)
	Cycles(ctx context.Context, limit int) ([]EvolutionCycle, error)
}

// RatingRepository stores the source leaderboard. ReplaceBoard swaps the
// whole board transactionally so readers never see a half-updated pass.
type RatingRepository interface {
	ReplaceBoard(ctx context.Context, ratings []*SourceRating) error
	Board(ctx context.Context) ([]*SourceRating, error)
	Get(ctx context.Context, source string) (*SourceRating, error)
}
