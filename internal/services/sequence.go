package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/smartfilterpro/edge-relay/internal/models"
	"github.com/smartfilterpro/edge-relay/internal/repositories"
)

// SequenceAllocator is the authoritative event counter for one
// device/session. Values are strictly increasing across restarts via the
// persisted counter snapshot. Next never blocks on persistence: saves are
// scheduled in the background and the in-memory counter stays authoritative
// even when a save fails.
type SequenceAllocator struct {
	key       string
	snapshots repositories.SnapshotRepository

	mu   sync.Mutex
	next uint64

	saveCh    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewSequenceAllocator restores the counter from its persisted snapshot.
// A missing snapshot starts the counter at zero; a failed load is logged and
// also starts at zero, an accepted durability trade-off.
func NewSequenceAllocator(ctx context.Context, key string, snapshots repositories.SnapshotRepository) *SequenceAllocator {
	a := &SequenceAllocator{
		key:       key,
		snapshots: snapshots,
		saveCh:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	blob, err := snapshots.Load(ctx, key)
	switch {
	case err == repositories.ErrNotFound:
		// first session for this key
	case err != nil:
		log.Printf("[sequence] WARN: failed to load counter %s, starting at 0: %v", key, err)
	default:
		var snap models.CounterSnapshot
		if err := json.Unmarshal(blob, &snap); err != nil {
			log.Printf("[sequence] WARN: corrupt counter snapshot %s, starting at 0: %v", key, err)
		} else {
			a.next = snap.Next
		}
	}

	go a.saveLoop()
	return a
}

// Next returns the next sequence number and schedules an async save of the
// counter. It never fails and never blocks on persistence.
func (a *SequenceAllocator) Next() uint64 {
	a.mu.Lock()
	n := a.next
	a.next++
	a.mu.Unlock()

	// coalesce: one queued save covers any number of allocations
	select {
	case a.saveCh <- struct{}{}:
	default:
	}
	return n
}

func (a *SequenceAllocator) saveLoop() {
	defer close(a.stopped)
	for {
		select {
		case <-a.done:
			return
		case <-a.saveCh:
			a.persist(context.Background())
		}
	}
}

func (a *SequenceAllocator) persist(ctx context.Context) {
	a.mu.Lock()
	snap := models.CounterSnapshot{Next: a.next}
	a.mu.Unlock()

	blob, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[sequence] WARN: failed to marshal counter %s: %v", a.key, err)
		return
	}
	if err := a.snapshots.Save(ctx, a.key, blob); err != nil {
		log.Printf("[sequence] WARN: failed to save counter %s (in-memory value unaffected): %v", a.key, err)
	}
}

// Close stops the background saver and makes one final synchronous save
// bounded by ctx. It waits for any save already in flight first, so a slow
// background write can never land after the final save and clobber it with
// a stale counter.
func (a *SequenceAllocator) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		close(a.done)
		<-a.stopped
		a.persist(ctx)
	})
}
