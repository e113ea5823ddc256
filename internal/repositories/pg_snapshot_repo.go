package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshotRepository is the Postgres-backed alternative to the Redis
// snapshot store, for deployments that already run Postgres at the edge.
// Each save replaces the full blob for the key.
type PostgresSnapshotRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSnapshotRepository(pool *pgxpool.Pool) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{pool: pool}
}

func (r *PostgresSnapshotRepository) Load(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT blob FROM snapshots WHERE key = $1`

	var blob []byte
	err := r.pool.QueryRow(ctx, query, key).Scan(&blob)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return blob, nil
}

func (r *PostgresSnapshotRepository) Save(ctx context.Context, key string, blob []byte) error {
	query := `INSERT INTO snapshots (key, blob, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (key) DO UPDATE SET blob = $2, updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query, key, blob)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}
