// Package audit persists the policy snapshots that evolution cycles and
// rating passes reference by hash. A cycle row carries only the policy
// hash; this store keeps the full YAML so the hash stays resolvable
// after the policy file changes.
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
)

// Repository handles policy snapshot persistence
// ⭐ SSOT: policy_snapshots is written here only
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveSnapshot records the active policy. The hash is the key, so
// restarting under an unchanged policy writes nothing.
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot *strategyconfig.PolicySnapshot) error {
	query := `
		INSERT INTO policy_snapshots (
			config_hash, config_yaml, policy_id, git_commit, created_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (config_hash) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		snapshot.ConfigHash, snapshot.ConfigYAML, snapshot.PolicyID,
		snapshot.GitCommit, snapshot.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save policy snapshot: %w", err)
	}

	return nil
}

// GetSnapshot retrieves the policy recorded under a hash
func (r *Repository) GetSnapshot(ctx context.Context, configHash string) (*strategyconfig.PolicySnapshot, error) {
	query := `
		SELECT config_hash, config_yaml, policy_id, git_commit, created_at
		FROM policy_snapshots
		WHERE config_hash = $1
	`

	var snapshot strategyconfig.PolicySnapshot
	err := r.pool.QueryRow(ctx, query, configHash).Scan(
		&snapshot.ConfigHash, &snapshot.ConfigYAML, &snapshot.PolicyID,
		&snapshot.GitCommit, &snapshot.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("policy snapshot %s: %w", configHash, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy snapshot: %w", err)
	}

	return &snapshot, nil
}

// ListSnapshots returns recent policies, newest first
func (r *Repository) ListSnapshots(ctx context.Context, limit int) ([]*strategyconfig.PolicySnapshot, error) {
	query := `
		SELECT config_hash, config_yaml, policy_id, git_commit, created_at
		FROM policy_snapshots
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*strategyconfig.PolicySnapshot, 0)
	for rows.Next() {
		var snapshot strategyconfig.PolicySnapshot
		if err := rows.Scan(
			&snapshot.ConfigHash, &snapshot.ConfigYAML, &snapshot.PolicyID,
			&snapshot.GitCommit, &snapshot.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy snapshot: %w", err)
		}
		snapshots = append(snapshots, &snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return snapshots, nil
}
