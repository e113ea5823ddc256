package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartfilterpro/edge-relay/internal/models"
)

const (
	statusKeyPrefix = "agent:status:"
	statusTTL       = 5 * time.Minute // stale entries expire without a heartbeat
)

// RedisStatusRepository publishes the agent's last send-cycle outcome so the
// diagnostic surface can tell a quiet agent from a dead one.
type RedisStatusRepository struct {
	client *redis.Client
}

func NewRedisStatusRepository(client *redis.Client) *RedisStatusRepository {
	return &RedisStatusRepository{client: client}
}

func (r *RedisStatusRepository) SetStatus(ctx context.Context, status *models.AgentStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := statusKeyPrefix + status.DeviceKey
	if err := r.client.Set(ctx, key, data, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

func (r *RedisStatusRepository) GetStatus(ctx context.Context, deviceKey string) (*models.AgentStatus, error) {
	data, err := r.client.Get(ctx, statusKeyPrefix+deviceKey).Result()
	if err == redis.Nil {
		// no heartbeat = agent is offline or never ran
		return &models.AgentStatus{
			DeviceKey: deviceKey,
			Status:    string(models.SendStatusIdle),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var status models.AgentStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}
