package services

import (
	"context"
	"errors"
	"sync"

	"github.com/smartfilterpro/edge-relay/internal/models"
	"github.com/smartfilterpro/edge-relay/internal/repositories"
)

// In-memory collaborators shared by the service tests.

type memorySnapshotRepo struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	failSave bool
	failLoad bool
	saves    int
}

func newMemorySnapshotRepo() *memorySnapshotRepo {
	return &memorySnapshotRepo{blobs: make(map[string][]byte)}
}

func (r *memorySnapshotRepo) Load(ctx context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoad {
		return nil, errors.New("simulated load failure")
	}
	blob, ok := r.blobs[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (r *memorySnapshotRepo) Save(ctx context.Context, key string, blob []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return errors.New("simulated save failure")
	}
	r.blobs[key] = append([]byte(nil), blob...)
	r.saves++
	return nil
}

func (r *memorySnapshotRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// fakeTransport records every batch it is asked to send and replies with
// scripted outcomes, repeating the last one once the script runs out.
type fakeTransport struct {
	mu       sync.Mutex
	batches  [][]*models.Event
	outcomes []SendOutcome
}

func (t *fakeTransport) Send(ctx context.Context, events []*models.Event) SendOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches = append(t.batches, append([]*models.Event(nil), events...))

	if len(t.outcomes) == 0 {
		return SendOutcome{Delivered: true}
	}
	outcome := t.outcomes[0]
	if len(t.outcomes) > 1 {
		t.outcomes = t.outcomes[1:]
	}
	return outcome
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}

func (t *fakeTransport) batch(i int) []*models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches[i]
}

type fakeGapRecords struct {
	mu      sync.Mutex
	records []*models.GapRecord
}

func (f *fakeGapRecords) Record(ctx context.Context, record *models.GapRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeGapRecords) GetByDeviceKey(ctx context.Context, deviceKey string) ([]*models.GapRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.GapRecord
	for _, r := range f.records {
		if r.DeviceKey == deviceKey {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeStatusRepo struct {
	mu   sync.Mutex
	last *models.AgentStatus
}

func (f *fakeStatusRepo) SetStatus(ctx context.Context, status *models.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = status
	return nil
}

func (f *fakeStatusRepo) GetStatus(ctx context.Context, deviceKey string) (*models.AgentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return &models.AgentStatus{DeviceKey: deviceKey, Status: string(models.SendStatusIdle)}, nil
	}
	return f.last, nil
}

func (f *fakeStatusRepo) lastStatus() *models.AgentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// testEvent builds a buffered event with an already-assigned sequence.
func testEvent(seq uint64) *models.Event {
	return &models.Event{
		DeviceKey:      "hvac-1",
		SequenceNumber: seq,
		EventType:      models.EventStatePing,
		Reading:        &models.ClimateReading{HVACAction: "idle", Connected: true},
	}
}
