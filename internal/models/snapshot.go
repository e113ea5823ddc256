package models

// BufferSnapshot is the full-snapshot persistence format of an event buffer.
// Saves always write the complete ordered list, never an incremental patch,
// so a restart can never observe torn state.
type BufferSnapshot struct {
	Capacity int      `json:"capacity"`
	Events   []*Event `json:"events"`
}

// CounterSnapshot is the persistence format of a sequence allocator.
type CounterSnapshot struct {
	Next uint64 `json:"next"`
}

// BufferStats is a read-only snapshot of buffer occupancy, exposed on the
// diagnostic surface. Oldest/Newest are nil when the buffer is empty.
type BufferStats struct {
	Count          int     `json:"count"`
	Capacity       int     `json:"capacity"`
	OldestSequence *uint64 `json:"oldest_sequence,omitempty"`
	NewestSequence *uint64 `json:"newest_sequence,omitempty"`
}
