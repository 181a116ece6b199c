package jobs

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumora-ai/lumora/internal/domain"
)

// DispatchQueue is the delay queue the dispatcher enqueues into.
type DispatchQueue interface {
	Enqueue(ctx context.Context, job *domain.DispatchJob) error
}

// SourceRef identifies one source document ready for dispatch.
type SourceRef struct {
	SourceID string
	OwnerID  string
	Type     domain.ChunkType
}

// DispatcherConfig bounds the added scheduling latency.
type DispatcherConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Spacing  time.Duration
}

// Dispatcher throttles work dispatch so a large crawl finishing all at once
// cannot flood the chunking queue and the database with simultaneous jobs.
// It only shifts timing, never ordering-sensitive correctness: chunking is
// idempotent by content hash, so duplicate or late delivery is harmless.
type Dispatcher struct {
	queue DispatchQueue
	cfg   DispatcherConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDispatcher(queue DispatchQueue, cfg DispatcherConfig) *Dispatcher {
	return NewDispatcherWithRand(queue, cfg, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewDispatcherWithRand creates a Dispatcher with an explicit random source
// (for testing).
func NewDispatcherWithRand(queue DispatchQueue, cfg DispatcherConfig, rng *rand.Rand) *Dispatcher {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = 3 * time.Second
	}
	return &Dispatcher{queue: queue, cfg: cfg, rng: rng}
}

// DispatchChunk enqueues one chunk job per source, each with an independent
// random delay in [MinDelay, MaxDelay]. N sources spread their arrivals over
// the delay window instead of hitting the queue together.
func (d *Dispatcher) DispatchChunk(ctx context.Context, sources []SourceRef) error {
	now := time.Now().UTC()
	for _, ref := range sources {
		delay := d.randomDelay()
		job := newDispatchJob(ref, domain.DispatchJobKindChunk, now, delay)
		if err := d.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	if len(sources) > 0 {
		log.Printf("dispatcher: spread %d chunk jobs over a ~%s window", len(sources), d.cfg.MaxDelay)
	}
	return nil
}

// DispatchProcess enqueues upstream processing jobs with linearly increasing
// delay (i * spacing), guaranteeing a minimum inter-arrival gap no matter
// how many sources completed together.
func (d *Dispatcher) DispatchProcess(ctx context.Context, sources []SourceRef) error {
	now := time.Now().UTC()
	for i, ref := range sources {
		delay := time.Duration(i) * d.cfg.Spacing
		job := newDispatchJob(ref, domain.DispatchJobKindProcess, now, delay)
		if err := d.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	if len(sources) > 0 {
		window := time.Duration(len(sources)-1) * d.cfg.Spacing
		log.Printf("dispatcher: spaced %d processing jobs over a %s window", len(sources), window)
	}
	return nil
}

// randomDelay draws an independent delay from [MinDelay, MaxDelay].
func (d *Dispatcher) randomDelay() time.Duration {
	window := d.cfg.MaxDelay - d.cfg.MinDelay
	if window <= 0 {
		return d.cfg.MinDelay
	}
	d.mu.Lock()
	jitter := time.Duration(d.rng.Int63n(int64(window) + 1))
	d.mu.Unlock()
	return d.cfg.MinDelay + jitter
}

func newDispatchJob(ref SourceRef, kind domain.DispatchJobKind, now time.Time, delay time.Duration) *domain.DispatchJob {
	return &domain.DispatchJob{
		ID:        uuid.NewString(),
		SourceID:  ref.SourceID,
		OwnerID:   ref.OwnerID,
		Type:      ref.Type,
		Kind:      kind,
		Status:    domain.DispatchJobStatusPending,
		RunAt:     now.Add(delay),
		CreatedAt: now,
	}
}
