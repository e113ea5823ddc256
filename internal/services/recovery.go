package services

import (
	"context"
	"log"

	"github.com/smartfilterpro/edge-relay/internal/models"
	"github.com/smartfilterpro/edge-relay/internal/repositories"
)

// GapRecoveryCoordinator resolves gap reports against the event buffer and
// replays recoverable events within the same response cycle. Recovery is
// bounded: one resend per report per cycle, and gaps reported by the resend
// itself wait for the next regular batch, so a detected gap costs at most
// one extra round trip instead of an open-ended retry loop.
type GapRecoveryCoordinator struct {
	transport  Transport
	gapRecords repositories.GapRecordRepository // optional; nil = log only
}

func NewGapRecoveryCoordinator(transport Transport, gapRecords repositories.GapRecordRepository) *GapRecoveryCoordinator {
	return &GapRecoveryCoordinator{
		transport:  transport,
		gapRecords: gapRecords,
	}
}

// HandleOutcome is invoked after every Transport.Send. Outcomes without a
// gap report are a no-op.
func (c *GapRecoveryCoordinator) HandleOutcome(ctx context.Context, outcome SendOutcome, buffer *EventBuffer) {
	if !outcome.Delivered || len(outcome.Gaps) == 0 {
		return
	}

	for _, report := range outcome.Gaps {
		if len(report.MissingSequences) == 0 {
			continue
		}

		found := buffer.GetBySequences(report.MissingSequences)
		c.recordUnrecoverable(ctx, report, found, buffer.Stats())

		if len(found) == 0 {
			continue
		}

		log.Printf("[recovery] resending %d of %d reported missing events for device=%s",
			len(found), len(report.MissingSequences), report.DeviceKey)

		resend := c.transport.Send(ctx, found)
		if !resend.Delivered {
			// no retry here; the remote re-reports the gap if still missing
			log.Printf("[recovery] WARN: resend failed for device=%s, leaving for next batch: %v",
				report.DeviceKey, resend.Err)
		} else if len(resend.Gaps) > 0 {
			log.Printf("[recovery] resend response reported further gaps for device=%s, deferring to next batch cycle",
				report.DeviceKey)
		}
	}
}

// recordUnrecoverable logs and durably records every reported sequence that
// is no longer buffered. The remote owns permanent-loss bookkeeping; these
// records exist for local forensics only.
func (c *GapRecoveryCoordinator) recordUnrecoverable(ctx context.Context, report models.GapReport, found []*models.Event, stats models.BufferStats) {
	resident := make(map[uint64]bool, len(found))
	for _, ev := range found {
		resident[ev.SequenceNumber] = true
	}

	for _, seq := range report.MissingSequences {
		if resident[seq] {
			continue
		}

		log.Printf("[recovery] WARN: unrecoverable gap device=%s seq=%d buffer=%d/%d oldest=%v newest=%v",
			report.DeviceKey, seq, stats.Count, stats.Capacity,
			derefSeq(stats.OldestSequence), derefSeq(stats.NewestSequence))

		if c.gapRecords == nil {
			continue
		}
		record := &models.GapRecord{
			DeviceKey:      report.DeviceKey,
			SequenceNumber: seq,
			BufferCount:    stats.Count,
			BufferOldest:   stats.OldestSequence,
			BufferNewest:   stats.NewestSequence,
		}
		if err := c.gapRecords.Record(ctx, record); err != nil {
			log.Printf("[recovery] WARN: failed to record unrecoverable gap: %v", err)
		}
	}
}

func derefSeq(s *uint64) any {
	if s == nil {
		return "none"
	}
	return *s
}
