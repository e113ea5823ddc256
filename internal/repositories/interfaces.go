package repositories

import (
	"context"

	"github.com/smartfilterpro/edge-relay/internal/models"
)

// SnapshotRepository is the persistence collaborator for the event buffer
// and the sequence counter. Blobs are complete serialized snapshots
// addressed by a stable per-session key. Load returns ErrNotFound when no
// blob exists for the key.
type SnapshotRepository interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

// GapRecordRepository stores unrecoverable-gap diagnostics.
type GapRecordRepository interface {
	Record(ctx context.Context, record *models.GapRecord) error
	GetByDeviceKey(ctx context.Context, deviceKey string) ([]*models.GapRecord, error)
}

// StatusRepository tracks agent liveness and the outcome of the most
// recent send cycle, with automatic expiry so a dead agent reads as offline.
type StatusRepository interface {
	SetStatus(ctx context.Context, status *models.AgentStatus) error
	GetStatus(ctx context.Context, deviceKey string) (*models.AgentStatus, error)
}
