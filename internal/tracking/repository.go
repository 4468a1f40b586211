package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// Repository handles tracking task persistence
// ⭐ SSOT: tracking_tasks and task_checkpoints are written here only
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new tracking repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new tracking task
func (r *Repository) Create(ctx context.Context, task *contracts.TrackingTask) error {
	tickersJSON, err := json.Marshal(task.Tickers)
	if err != nil {
		return fmt.Errorf("failed to marshal tickers: %w", err)
	}
	pricesJSON, err := json.Marshal(task.T0Prices)
	if err != nil {
		return fmt.Errorf("failed to marshal t0 prices: %w", err)
	}
	featuresJSON, err := json.Marshal(task.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO tracking_tasks (
			id, news_id, source, tickers, t0_prices, t0_at, status, regime,
			features, max_drawdown_pct, cancel_reason, version, created_at,
			updated_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.pool.Exec(ctx, query,
		task.ID, task.NewsID, task.Source, tickersJSON, pricesJSON, task.T0At,
		string(task.Status), string(task.Regime), featuresJSON,
		task.MaxDrawdownPct, task.CancelReason, task.Version,
		task.CreatedAt, task.UpdatedAt, task.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// Get retrieves a task with its checkpoints
func (r *Repository) Get(ctx context.Context, id string) (*contracts.TrackingTask, error) {
	query := `
		SELECT id, news_id, source, tickers, t0_prices, t0_at, status, regime,
		       features, max_drawdown_pct, cancel_reason, version, created_at,
		       updated_at, closed_at
		FROM tracking_tasks
		WHERE id = $1
	`

	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if err := r.attachCheckpoints(ctx, []*contracts.TrackingTask{task}); err != nil {
		return nil, err
	}

	return task, nil
}

// Update writes the task state back under optimistic concurrency. The
// write only lands when the stored version still matches the one the
// caller loaded; new checkpoint rows ride along in the same transaction.
func (r *Repository) Update(ctx context.Context, task *contracts.TrackingTask) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateTaskTx(ctx, tx, task); err != nil {
		return err
	}
	if err := insertCheckpointsTx(ctx, tx, task); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	task.Version++
	return nil
}

// CloseTask writes the closing state transition and the feedback record
// in one transaction, so a close can never land without its feedback
func (r *Repository) CloseTask(ctx context.Context, task *contracts.TrackingTask, fb *contracts.MarketFeedback) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateTaskTx(ctx, tx, task); err != nil {
		return err
	}
	if err := insertCheckpointsTx(ctx, tx, task); err != nil {
		return err
	}
	if err := insertFeedbackTx(ctx, tx, fb); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	task.Version++
	return nil
}

// ListActive retrieves all tasks still advancing through the lifecycle
func (r *Repository) ListActive(ctx context.Context) ([]*contracts.TrackingTask, error) {
	query := `
		SELECT id, news_id, source, tickers, t0_prices, t0_at, status, regime,
		       features, max_drawdown_pct, cancel_reason, version, created_at,
		       updated_at, closed_at
		FROM tracking_tasks
		WHERE status IN ('open', 'short_closed', 'stale')
		ORDER BY created_at ASC
	`

	return r.queryTasks(ctx, query)
}

// ListByNews retrieves the tasks opened for one news item
func (r *Repository) ListByNews(ctx context.Context, newsID string) ([]*contracts.TrackingTask, error) {
	query := `
		SELECT id, news_id, source, tickers, t0_prices, t0_at, status, regime,
		       features, max_drawdown_pct, cancel_reason, version, created_at,
		       updated_at, closed_at
		FROM tracking_tasks
		WHERE news_id = $1
		ORDER BY created_at ASC
	`

	return r.queryTasks(ctx, query, newsID)
}

// ListByStatus retrieves the most recent tasks in one state
func (r *Repository) ListByStatus(ctx context.Context, status contracts.TaskStatus, limit int) ([]*contracts.TrackingTask, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, news_id, source, tickers, t0_prices, t0_at, status, regime,
		       features, max_drawdown_pct, cancel_reason, version, created_at,
		       updated_at, closed_at
		FROM tracking_tasks
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryTasks(ctx, query, string(status), limit)
}

// ListFinalClosedSince retrieves tasks final-closed at or after the
// given instant, oldest first. This feeds the source rating window.
func (r *Repository) ListFinalClosedSince(ctx context.Context, since time.Time) ([]*contracts.TrackingTask, error) {
	query := `
		SELECT id, news_id, source, tickers, t0_prices, t0_at, status, regime,
		       features, max_drawdown_pct, cancel_reason, version, created_at,
		       updated_at, closed_at
		FROM tracking_tasks
		WHERE status = 'final_closed' AND closed_at >= $1
		ORDER BY closed_at ASC
	`

	return r.queryTasks(ctx, query, since)
}

func (r *Repository) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*contracts.TrackingTask, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*contracts.TrackingTask, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if err := r.attachCheckpoints(ctx, tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// attachCheckpoints loads the per-ticker checkpoint rows for a batch of
// tasks and groups them back into each task's horizon map
func (r *Repository) attachCheckpoints(ctx context.Context, tasks []*contracts.TrackingTask) error {
	if len(tasks) == 0 {
		return nil
	}

	ids := make([]string, 0, len(tasks))
	byID := make(map[string]*contracts.TrackingTask, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
		byID[task.ID] = task
	}

	query := `
		SELECT task_id, horizon, ticker, price, return_pct, stale, recorded_at
		FROM task_checkpoints
		WHERE task_id = ANY($1)
		ORDER BY task_id, recorded_at ASC
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, horizon, ticker string
		var price, returnPct float64
		var stale bool
		var recordedAt time.Time

		if err := rows.Scan(&taskID, &horizon, &ticker, &price, &returnPct, &stale, &recordedAt); err != nil {
			return fmt.Errorf("failed to scan checkpoint: %w", err)
		}

		task, ok := byID[taskID]
		if !ok {
			continue
		}
		h := contracts.Horizon(horizon)
		cp, ok := task.Checkpoints[h]
		if !ok {
			cp = &contracts.Checkpoint{Horizon: h, Prices: make(map[string]float64)}
			task.Checkpoints[h] = cp
		}
		cp.Prices[ticker] = price
		cp.ReturnPct = returnPct
		cp.Stale = stale
		cp.RecordedAt = recordedAt
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	return nil
}

func updateTaskTx(ctx context.Context, tx pgx.Tx, task *contracts.TrackingTask) error {
	featuresJSON, err := json.Marshal(task.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		UPDATE tracking_tasks SET
			status = $1,
			features = $2,
			max_drawdown_pct = $3,
			cancel_reason = $4,
			updated_at = $5,
			closed_at = $6,
			version = version + 1
		WHERE id = $7 AND version = $8
	`

	tag, err := tx.Exec(ctx, query,
		string(task.Status), featuresJSON, task.MaxDrawdownPct,
		task.CancelReason, task.UpdatedAt, task.ClosedAt,
		task.ID, task.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s at version %d: %w", task.ID, task.Version, contracts.ErrVersionConflict)
	}

	return nil
}

// insertCheckpointsTx writes the task's checkpoint rows. Rows already
// persisted are left untouched, which makes replaying a transition after
// a crash harmless.
func insertCheckpointsTx(ctx context.Context, tx pgx.Tx, task *contracts.TrackingTask) error {
	query := `
		INSERT INTO task_checkpoints (
			task_id, horizon, ticker, price, return_pct, stale, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id, horizon, ticker) DO NOTHING
	`

	for _, h := range contracts.Horizons() {
		cp, ok := task.Checkpoints[h]
		if !ok {
			continue
		}
		for ticker, price := range cp.Prices {
			_, err := tx.Exec(ctx, query,
				task.ID, string(h), ticker, price,
				cp.ReturnPct, cp.Stale, cp.RecordedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert checkpoint: %w", err)
			}
		}
	}

	return nil
}

func insertFeedbackTx(ctx context.Context, tx pgx.Tx, fb *contracts.MarketFeedback) error {
	featuresJSON, err := json.Marshal(fb.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	contributionsJSON, err := json.Marshal(fb.Contributions)
	if err != nil {
		return fmt.Errorf("failed to marshal contributions: %w", err)
	}

	query := `
		INSERT INTO market_feedback (
			task_id, horizon, news_id, source, regime, features, return_pct,
			benchmark_pct, adjusted_pct, drawdown_pct, contributions,
			closed_at, consumed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (task_id, horizon) DO NOTHING
	`

	_, err = tx.Exec(ctx, query,
		fb.TaskID, string(fb.Horizon), fb.NewsID, fb.Source, string(fb.Regime),
		featuresJSON, fb.ReturnPct, fb.BenchmarkPct, fb.AdjustedPct,
		fb.DrawdownPct, contributionsJSON, fb.ClosedAt, fb.ConsumedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*contracts.TrackingTask, error) {
	var task contracts.TrackingTask
	var tickersJSON, pricesJSON, featuresJSON []byte
	var status, regime string
	var closedAt *time.Time

	err := row.Scan(
		&task.ID, &task.NewsID, &task.Source, &tickersJSON, &pricesJSON,
		&task.T0At, &status, &regime, &featuresJSON, &task.MaxDrawdownPct,
		&task.CancelReason, &task.Version, &task.CreatedAt, &task.UpdatedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = contracts.TaskStatus(status)
	task.Regime = contracts.MarketRegime(regime)
	task.ClosedAt = closedAt
	task.Checkpoints = make(map[contracts.Horizon]*contracts.Checkpoint)

	if err := json.Unmarshal(tickersJSON, &task.Tickers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tickers: %w", err)
	}
	if err := json.Unmarshal(pricesJSON, &task.T0Prices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal t0 prices: %w", err)
	}
	if err := json.Unmarshal(featuresJSON, &task.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}

	return &task, nil
}
