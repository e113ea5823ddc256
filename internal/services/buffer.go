package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/smartfilterpro/edge-relay/internal/models"
	"github.com/smartfilterpro/edge-relay/internal/repositories"
)

const DefaultBufferCapacity = 200

// EventBuffer holds the N most recently sequenced events for one
// device/session, in sequence order, so reported gaps can be replayed
// without waiting for the producer. Eviction is strict FIFO on capacity;
// delivery confirmation never removes anything. Load and Save fail soft:
// the buffer is a recovery optimization, not a durability guarantee.
type EventBuffer struct {
	key       string
	capacity  int
	snapshots repositories.SnapshotRepository

	mu     sync.Mutex
	events []*models.Event
}

func NewEventBuffer(key string, capacity int, snapshots repositories.SnapshotRepository) *EventBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &EventBuffer{
		key:       key,
		capacity:  capacity,
		snapshots: snapshots,
	}
}

// Add inserts at the tail, evicting the oldest event when over capacity.
// It always succeeds.
func (b *EventBuffer) Add(event *models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		over := len(b.events) - b.capacity
		b.events = append(b.events[:0], b.events[over:]...)
	}
}

// GetBySequences returns the buffered events whose sequence numbers appear
// in seqs, in ascending sequence order. Sequence numbers not resident are
// silently omitted; callers diff the result against the request to learn
// what was unrecoverable.
func (b *EventBuffer) GetBySequences(seqs []uint64) []*models.Event {
	want := make(map[uint64]bool, len(seqs))
	for _, s := range seqs {
		want[s] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var found []*models.Event
	// buffer order is ascending sequence order, so the result is too
	for _, ev := range b.events {
		if want[ev.SequenceNumber] {
			found = append(found, ev)
		}
	}
	return found
}

// Stats returns a read-only occupancy snapshot for the diagnostic surface.
func (b *EventBuffer) Stats() models.BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := models.BufferStats{
		Count:    len(b.events),
		Capacity: b.capacity,
	}
	if len(b.events) > 0 {
		oldest := b.events[0].SequenceNumber
		newest := b.events[len(b.events)-1].SequenceNumber
		stats.OldestSequence = &oldest
		stats.NewestSequence = &newest
	}
	return stats
}

// Load replaces the in-memory collection with the persisted snapshot,
// reordered by sequence and truncated to capacity (newest kept). Failures
// are logged and leave the buffer empty; forward progress never depends on
// a snapshot being present.
func (b *EventBuffer) Load(ctx context.Context) {
	blob, err := b.snapshots.Load(ctx, b.key)
	if errors.Is(err, repositories.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("[buffer] WARN: failed to load snapshot %s: %v", b.key, err)
		return
	}

	var snap models.BufferSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		log.Printf("[buffer] WARN: corrupt snapshot %s, starting empty: %v", b.key, err)
		return
	}

	events := snap.Events
	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceNumber < events[j].SequenceNumber
	})
	if len(events) > b.capacity {
		events = events[len(events)-b.capacity:]
	}

	b.mu.Lock()
	b.events = events
	b.mu.Unlock()
}

// Save writes a full snapshot of the current collection. Saves are complete
// replacements, never incremental, so a restart cannot read torn state.
func (b *EventBuffer) Save(ctx context.Context) {
	b.mu.Lock()
	snap := models.BufferSnapshot{
		Capacity: b.capacity,
		Events:   append([]*models.Event(nil), b.events...),
	}
	b.mu.Unlock()

	blob, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[buffer] WARN: failed to marshal snapshot %s: %v", b.key, err)
		return
	}
	if err := b.snapshots.Save(ctx, b.key, blob); err != nil {
		log.Printf("[buffer] WARN: failed to save snapshot %s: %v", b.key, err)
	}
}
