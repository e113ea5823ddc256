package models

import (
	"time"

	"github.com/google/uuid"
)

// GapReport is the ingestion service's assertion that it is missing events
// for one device. Consumed once per response, never persisted.
type GapReport struct {
	DeviceKey        string   `json:"device_key"`
	SourceVendor     string   `json:"source_vendor,omitempty"`
	MissingSequences []uint64 `json:"missing_sequences"`
}

// IngestResponse is the structured body returned on a successful batch post.
// A missing or empty Gaps field means the remote observed no gaps.
type IngestResponse struct {
	Gaps []GapReport `json:"gaps,omitempty"`
}

// GapRecord is the durable diagnostic written when a reported missing
// sequence is no longer in the local buffer. The remote side owns the
// authoritative permanent-loss bookkeeping; this is for local forensics.
type GapRecord struct {
	ID             uuid.UUID `json:"id"`
	DeviceKey      string    `json:"device_key"`
	SequenceNumber uint64    `json:"sequence_number"`
	BufferCount    int       `json:"buffer_count"`
	BufferOldest   *uint64   `json:"buffer_oldest,omitempty"`
	BufferNewest   *uint64   `json:"buffer_newest,omitempty"`
	ReportedAt     time.Time `json:"reported_at"`
}
