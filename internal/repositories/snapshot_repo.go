package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("not found")

const snapshotKeyPrefix = "snapshot:"

// RedisSnapshotRepository persists full-snapshot blobs in Redis with no TTL,
// so buffer and counter state survive agent restarts.
type RedisSnapshotRepository struct {
	client *redis.Client
}

func NewRedisSnapshotRepository(client *redis.Client) *RedisSnapshotRepository {
	return &RedisSnapshotRepository{client: client}
}

func (r *RedisSnapshotRepository) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, snapshotKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisSnapshotRepository) Save(ctx context.Context, key string, blob []byte) error {
	// 0 TTL: snapshots are the restart-recovery state, they must not expire
	err := r.client.Set(ctx, snapshotKeyPrefix+key, blob, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}
