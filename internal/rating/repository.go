package rating

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// Repository persists the source leaderboard.
//
// ⭐ SSOT: source_ratings is written here only.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ReplaceBoard swaps the whole board in one transaction so readers never
// see a half-updated pass.
func (r *Repository) ReplaceBoard(ctx context.Context, ratings []*contracts.SourceRating) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM source_ratings`); err != nil {
		return fmt.Errorf("failed to clear rating board: %w", err)
	}

	query := `
		INSERT INTO source_ratings (
			source, window_start, window_end, task_count,
			avg_return_pct, rumor_rate, accuracy, score,
			grade, recommendation, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, rating := range ratings {
		_, err := tx.Exec(ctx, query,
			rating.Source,
			rating.WindowStart,
			rating.WindowEnd,
			rating.TaskCount,
			rating.AvgReturnPct,
			rating.RumorRate,
			rating.Accuracy,
			rating.Score,
			string(rating.Grade),
			rating.Recommendation,
			rating.ComputedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rating for %s: %w", rating.Source, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rating board: %w", err)
	}
	return nil
}

// Board returns the current leaderboard, best score first.
func (r *Repository) Board(ctx context.Context) ([]*contracts.SourceRating, error) {
	query := `
		SELECT source, window_start, window_end, task_count,
		       avg_return_pct, rumor_rate, accuracy, score,
		       grade, recommendation, computed_at
		FROM source_ratings
		ORDER BY score DESC, source ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating board: %w", err)
	}
	defer rows.Close()

	ratings := make([]*contracts.SourceRating, 0)
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return ratings, nil
}

// Get returns one source's rating.
func (r *Repository) Get(ctx context.Context, source string) (*contracts.SourceRating, error) {
	query := `
		SELECT source, window_start, window_end, task_count,
		       avg_return_pct, rumor_rate, accuracy, score,
		       grade, recommendation, computed_at
		FROM source_ratings
		WHERE source = $1
	`
	rating, err := scanRating(r.pool.QueryRow(ctx, query, source))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("source %s: %w", source, contracts.ErrNotFound)
		}
		return nil, err
	}
	return rating, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRating(row rowScanner) (*contracts.SourceRating, error) {
	var rating contracts.SourceRating
	var grade string

	err := row.Scan(
		&rating.Source,
		&rating.WindowStart,
		&rating.WindowEnd,
		&rating.TaskCount,
		&rating.AvgReturnPct,
		&rating.RumorRate,
		&rating.Accuracy,
		&rating.Score,
		&grade,
		&rating.Recommendation,
		&rating.ComputedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rating: %w", err)
	}

	rating.Grade = contracts.Grade(grade)
	return &rating, nil
}
