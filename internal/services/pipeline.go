package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/smartfilterpro/edge-relay/internal/models"
	"github.com/smartfilterpro/edge-relay/internal/repositories"
)

// PipelineConfig wires one device/session pipeline. Allocator, Buffer and
// Transport are required; Recovery, Status and GapRecords degrade to
// log-only behavior when absent.
type PipelineConfig struct {
	DeviceKey     string
	SourceVendor  string
	Allocator     *SequenceAllocator
	Buffer        *EventBuffer
	Transport     Transport
	Recovery      *GapRecoveryCoordinator
	Status        repositories.StatusRepository
	BatchInterval time.Duration
	SendTimeout   time.Duration
}

// Pipeline owns the ordered stream for one device/session: raw events come
// in through Submit, get stamped with the next sequence number, recorded in
// the buffer, and shipped in batches on the configured interval (or on
// Flush). Outcomes go straight to the recovery coordinator. All of that
// happens on one goroutine, which is what keeps insertion order equal to
// sequence order; persistence runs in the background and the send path
// never waits for it.
type Pipeline struct {
	cfg PipelineConfig

	in      chan *models.Event
	flushCh chan chan struct{}
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once

	// loop-owned, never touched outside run()
	pending []*models.Event
	lastSeq uint64
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	return &Pipeline{
		cfg:     cfg,
		in:      make(chan *models.Event, 64),
		flushCh: make(chan chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the pipeline loop.
func (p *Pipeline) Start() {
	go p.run()
}

// Submit hands one raw event (no sequence number yet) to the pipeline.
// It blocks only when the intake channel is full, and returns immediately
// once the pipeline is shutting down.
func (p *Pipeline) Submit(event *models.Event) {
	select {
	case p.in <- event:
	case <-p.done:
	}
}

// Flush forces an immediate send cycle and waits for it to finish, bounded
// by ctx. Used by the manual send endpoint and by tests.
func (p *Pipeline) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case p.flushCh <- ack:
	case <-p.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop and best-effort persists buffer and counter within
// the ctx deadline. No final send is issued: anything still pending stays in
// the persisted buffer, and the remote's gap report next session pulls it
// back out through recovery.
func (p *Pipeline) Close(ctx context.Context) {
	p.closeOnce.Do(func() {
		close(p.done)
		<-p.stopped
		p.cfg.Buffer.Save(ctx)
		p.cfg.Allocator.Close(ctx)
	})
}

func (p *Pipeline) run() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case ev := <-p.in:
			p.ingest(ev)
		case <-ticker.C:
			p.sendCycle()
		case ack := <-p.flushCh:
			p.sendCycle()
			close(ack)
		}
	}
}

// ingest stamps and buffers one event. Sequence numbers are assigned in the
// exact order events arrive on the loop.
func (p *Pipeline) ingest(ev *models.Event) {
	if ev.DeviceKey == "" {
		ev.DeviceKey = p.cfg.DeviceKey
	}
	if ev.SourceVendor == "" {
		ev.SourceVendor = p.cfg.SourceVendor
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.SequenceNumber = p.cfg.Allocator.Next()
	p.lastSeq = ev.SequenceNumber

	p.cfg.Buffer.Add(ev)
	p.pending = append(p.pending, ev)
}

func (p *Pipeline) sendCycle() {
	if len(p.pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
	defer cancel()

	batch := p.pending
	outcome := p.cfg.Transport.Send(ctx, batch)

	if outcome.Delivered {
		p.pending = nil
		if p.cfg.Recovery != nil {
			p.cfg.Recovery.HandleOutcome(ctx, outcome, p.cfg.Buffer)
		}
	} else {
		// degraded, not a hard stop: the batch stays pending and buffered
		// for the next scheduled cycle
		log.Printf("[pipeline] WARN: send failed for device=%s, %d events held for next cycle: %v",
			p.cfg.DeviceKey, len(batch), outcome.Err)
	}

	// snapshot after every send cycle, off the send path
	go p.cfg.Buffer.Save(context.Background())

	p.publishStatus(outcome)
}

func (p *Pipeline) publishStatus(outcome SendOutcome) {
	if p.cfg.Status == nil {
		return
	}

	status := &models.AgentStatus{
		DeviceKey:    p.cfg.DeviceKey,
		Status:       string(models.SendStatusOK),
		LastSendAt:   time.Now().UTC(),
		LastSequence: p.lastSeq,
	}
	if !outcome.Delivered {
		status.Status = string(models.SendStatusDegraded)
		if outcome.Err != nil {
			status.LastError = outcome.Err.Error()
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.cfg.Status.SetStatus(ctx, status); err != nil {
			log.Printf("[pipeline] WARN: failed to publish status: %v", err)
		}
	}()
}
