package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smartfilterpro/edge-relay/internal/models"
)

type PostgresGapRecordRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresGapRecordRepository(pool *pgxpool.Pool) *PostgresGapRecordRepository {
	return &PostgresGapRecordRepository{pool: pool}
}

func (r *PostgresGapRecordRepository) Record(ctx context.Context, record *models.GapRecord) error {
	query := `INSERT INTO gap_records (device_key, sequence_number, buffer_count, buffer_oldest, buffer_newest)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id, reported_at`

	err := r.pool.QueryRow(ctx, query,
		record.DeviceKey,
		record.SequenceNumber,
		record.BufferCount,
		record.BufferOldest,
		record.BufferNewest,
	).Scan(&record.ID, &record.ReportedAt)

	if err != nil {
		return fmt.Errorf("failed to record gap: %w", err)
	}
	return nil
}

func (r *PostgresGapRecordRepository) GetByDeviceKey(ctx context.Context, deviceKey string) ([]*models.GapRecord, error) {
	query := `SELECT id, device_key, sequence_number, buffer_count, buffer_oldest, buffer_newest, reported_at
	          FROM gap_records
	          WHERE device_key = $1
	          ORDER BY reported_at DESC`

	rows, err := r.pool.Query(ctx, query, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query gap records: %w", err)
	}
	defer rows.Close()

	var records []*models.GapRecord
	for rows.Next() {
		var record models.GapRecord
		err := rows.Scan(
			&record.ID,
			&record.DeviceKey,
			&record.SequenceNumber,
			&record.BufferCount,
			&record.BufferOldest,
			&record.BufferNewest,
			&record.ReportedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gap record: %w", err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating gap records: %w", err)
	}

	return records, nil
}
