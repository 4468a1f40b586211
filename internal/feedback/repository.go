package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// Repository reads the feedback records written at task close. Records
// are inserted by the tracking repository inside the close transaction
// and marked consumed by the evolution cycle, so this side is read-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new feedback repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get retrieves one feedback record by its (task, horizon) key
func (r *Repository) Get(ctx context.Context, key contracts.FeedbackKey) (*contracts.MarketFeedback, error) {
	query := `
		SELECT task_id, horizon, news_id, source, regime, features, return_pct,
		       benchmark_pct, adjusted_pct, drawdown_pct, contributions,
		       closed_at, consumed_at
		FROM market_feedback
		WHERE task_id = $1 AND horizon = $2
	`

	fb, err := scanFeedback(r.pool.QueryRow(ctx, query, key.TaskID, string(key.Horizon)))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("feedback %s/%s: %w", key.TaskID, key.Horizon, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}

	return fb, nil
}

// ListPending retrieves unconsumed records ordered by (closed_at,
// task_id) so every evolution cycle replays the batch the same way
func (r *Repository) ListPending(ctx context.Context, limit int) ([]*contracts.MarketFeedback, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT task_id, horizon, news_id, source, regime, features, return_pct,
		       benchmark_pct, adjusted_pct, drawdown_pct, contributions,
		       closed_at, consumed_at
		FROM market_feedback
		WHERE consumed_at IS NULL
		ORDER BY closed_at ASC, task_id ASC
		LIMIT $1
	`

	return r.queryFeedback(ctx, query, limit)
}

// ListClosedSince retrieves records for one horizon closed at or after
// the given instant. This feeds the source rating window.
func (r *Repository) ListClosedSince(ctx context.Context, horizon contracts.Horizon, since time.Time) ([]*contracts.MarketFeedback, error) {
	query := `
		SELECT task_id, horizon, news_id, source, regime, features, return_pct,
		       benchmark_pct, adjusted_pct, drawdown_pct, contributions,
		       closed_at, consumed_at
		FROM market_feedback
		WHERE horizon = $1 AND closed_at >= $2
		ORDER BY closed_at ASC, task_id ASC
	`

	return r.queryFeedback(ctx, query, string(horizon), since)
}

// CountPending returns the number of unconsumed records
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_feedback WHERE consumed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending feedback: %w", err)
	}
	return count, nil
}

func (r *Repository) queryFeedback(ctx context.Context, query string, args ...interface{}) ([]*contracts.MarketFeedback, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	records := make([]*contracts.MarketFeedback, 0)

	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		records = append(records, fb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeedback(row rowScanner) (*contracts.MarketFeedback, error) {
	var fb contracts.MarketFeedback
	var featuresJSON, contributionsJSON []byte
	var horizon, regime string
	var consumedAt *time.Time

	err := row.Scan(
		&fb.TaskID, &horizon, &fb.NewsID, &fb.Source, &regime, &featuresJSON,
		&fb.ReturnPct, &fb.BenchmarkPct, &fb.AdjustedPct, &fb.DrawdownPct,
		&contributionsJSON, &fb.ClosedAt, &consumedAt,
	)
	if err != nil {
		return nil, err
	}

	fb.Horizon = contracts.Horizon(horizon)
	fb.Regime = contracts.MarketRegime(regime)
	fb.ConsumedAt = consumedAt

	if err := json.Unmarshal(featuresJSON, &fb.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	if err := json.Unmarshal(contributionsJSON, &fb.Contributions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contributions: %w", err)
	}

	return &fb, nil
}
