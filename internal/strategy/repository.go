package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// Repository persists the weight store, its evolution log, and the cycle
// audit rows. The store itself is a single versioned row; feature
// weights hang off it one row per feature.
// ⭐ SSOT: weight_store and weight_evolution_log are written here only
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new strategy repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Snapshot loads the current weight set
func (r *Repository) Snapshot(ctx context.Context) (*contracts.WeightSet, error) {
	ws := &contracts.WeightSet{
		Weights: make(map[string]contracts.FeatureWeight),
	}

	err := r.pool.QueryRow(ctx, `SELECT version, instruction, updated_at FROM weight_store WHERE id = 1`).
		Scan(&ws.Version, &ws.Instruction, &ws.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("weight store not seeded: %w", contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get weight store: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT feature, weight, sample_count, updated_at FROM feature_weights`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature weights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w contracts.FeatureWeight
		if err := rows.Scan(&w.Feature, &w.Weight, &w.SampleCount, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feature weight: %w", err)
		}
		ws.Weights[w.Feature] = w
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ws, nil
}

// Seed initializes the store row and the given feature weights. Features
// already present keep their learned values, so reseeding at startup is
// harmless and a policy that grows a feature gets it added.
func (r *Repository) Seed(ctx context.Context, initial map[string]float64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	_, err = tx.Exec(ctx, `
		INSERT INTO weight_store (id, version, instruction, updated_at)
		VALUES (1, 1, '', $1)
		ON CONFLICT (id) DO NOTHING
	`, now)
	if err != nil {
		return fmt.Errorf("failed to seed weight store: %w", err)
	}

	query := `
		INSERT INTO feature_weights (feature, weight, sample_count, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (feature) DO NOTHING
	`
	for feature, weight := range initial {
		if _, err := tx.Exec(ctx, query, feature, weight, now); err != nil {
			return fmt.Errorf("failed to seed feature %s: %w", feature, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ApplyCycle commits one evolution cycle: the new weight set, the log
// entries, the consumption marks on the feedback rows, and the cycle
// audit row, all or nothing under the store's version check
func (r *Repository) ApplyCycle(ctx context.Context, fromVersion int64, next *contracts.WeightSet, entries []contracts.EvolutionEntry, consumed []contracts.FeedbackKey, cycle *contracts.EvolutionCycle) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE weight_store SET version = $1, instruction = $2, updated_at = $3
		WHERE id = 1 AND version = $4
	`, next.Version, next.Instruction, next.UpdatedAt, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update weight store: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("weight store at version %d: %w", fromVersion, contracts.ErrVersionConflict)
	}

	weightQuery := `
		INSERT INTO feature_weights (feature, weight, sample_count, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (feature) DO UPDATE SET
			weight = EXCLUDED.weight,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at
	`
	for _, w := range next.Weights {
		if _, err := tx.Exec(ctx, weightQuery, w.Feature, w.Weight, w.SampleCount, w.UpdatedAt); err != nil {
			return fmt.Errorf("failed to upsert weight %s: %w", w.Feature, err)
		}
	}

	entryQuery := `
		INSERT INTO weight_evolution_log (
			cycle_id, task_id, horizon, feature, old_weight, new_weight,
			contribution, sample_count, clamped, justification, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, e := range entries {
		_, err := tx.Exec(ctx, entryQuery,
			e.CycleID, e.TaskID, string(e.Horizon), e.Feature, e.OldWeight,
			e.NewWeight, e.Contribution, e.SampleCount, e.Clamped,
			e.Justification, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
	}

	consumeQuery := `
		UPDATE market_feedback SET consumed_at = $1
		WHERE task_id = $2 AND horizon = $3 AND consumed_at IS NULL
	`
	for _, key := range consumed {
		if _, err := tx.Exec(ctx, consumeQuery, cycle.FinishedAt, key.TaskID, string(key.Horizon)); err != nil {
			return fmt.Errorf("failed to mark feedback consumed: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO evolution_cycles (
			id, started_at, finished_at, feedback_count, rejected_count,
			changed_features, store_version, policy_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, cycle.ID, cycle.StartedAt, cycle.FinishedAt, cycle.FeedbackCount,
		cycle.RejectedCount, cycle.ChangedFeatures, cycle.StoreVersion, cycle.PolicyHash)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Log retrieves the most recent evolution log entries
func (r *Repository) Log(ctx context.Context, limit int) ([]contracts.EvolutionEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT seq, cycle_id, task_id, horizon, feature, old_weight,
		       new_weight, contribution, sample_count, clamped,
		       justification, created_at
		FROM weight_evolution_log
		ORDER BY seq DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evolution log: %w", err)
	}
	defer rows.Close()

	entries := make([]contracts.EvolutionEntry, 0)

	for rows.Next() {
		var e contracts.EvolutionEntry
		var horizon string
		err := rows.Scan(
			&e.Seq, &e.CycleID, &e.TaskID, &horizon, &e.Feature, &e.OldWeight,
			&e.NewWeight, &e.Contribution, &e.SampleCount, &e.Clamped,
			&e.Justification, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Horizon = contracts.Horizon(horizon)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// Cycles retrieves the most recent cycle audit rows
func (r *Repository) Cycles(ctx context.Context, limit int) ([]contracts.EvolutionCycle, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, started_at, finished_at, feedback_count, rejected_count,
		       changed_features, store_version, policy_hash
		FROM evolution_cycles
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]contracts.EvolutionCycle, 0)

	for rows.Next() {
		var c contracts.EvolutionCycle
		err := rows.Scan(
			&c.ID, &c.StartedAt, &c.FinishedAt, &c.FeedbackCount,
			&c.RejectedCount, &c.ChangedFeatures, &c.StoreVersion, &c.PolicyHash,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return cycles, nil
}
