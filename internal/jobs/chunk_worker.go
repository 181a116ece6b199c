package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/service"
)

const (
	// MaxRetries is the maximum number of retries for a failed job
	MaxRetries = 3
)

// DispatchJobRepository defines the interface for dispatch queue persistence
type DispatchJobRepository interface {
	// ClaimDue retrieves and claims due pending dispatch jobs
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.DispatchJob, error)

	// UpdateStatus updates the status of a dispatch job
	UpdateStatus(ctx context.Context, jobID string, status domain.DispatchJobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, jobID string) error
}

// ChunkService defines the interface for chunking a source document
type ChunkService interface {
	ChunkSource(ctx context.Context, sourceID, ownerID string, chunkType domain.ChunkType) (*service.ChunkReport, error)
}

// SourceProcessor handles upstream processing jobs. The processing step
// itself is owned by an external collaborator; this hook lets deployments
// that embed it plug in, and is optional.
type SourceProcessor interface {
	ProcessSource(ctx context.Context, sourceID, ownerID string) error
}

// ChunkWorker drains the dispatch queue: due chunk jobs run through the
// chunker, due processing jobs run through the optional processor.
type ChunkWorker struct {
	repo      DispatchJobRepository
	chunker   ChunkService
	processor SourceProcessor
	batchSize int
}

// NewChunkWorker creates a new ChunkWorker instance
func NewChunkWorker(repo DispatchJobRepository, chunker ChunkService, processor SourceProcessor, batchSize int) *ChunkWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ChunkWorker{
		repo:      repo,
		chunker:   chunker,
		processor: processor,
		batchSize: batchSize,
	}
}

// ProcessJobs claims the batch of due jobs and runs each to completion.
func (w *ChunkWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimDue(ctx, time.Now().UTC(), w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d due dispatch jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *ChunkWorker) processJob(ctx context.Context, job *domain.DispatchJob) error {
	var err error
	switch job.Kind {
	case domain.DispatchJobKindChunk:
		log.Printf("Processing job %s: chunk source %s type %s", job.ID, job.SourceID, job.Type)
		_, err = w.chunker.ChunkSource(ctx, job.SourceID, job.OwnerID, job.Type)
	case domain.DispatchJobKindProcess:
		if w.processor == nil {
			// Processing is handled out of process; the job only carried the
			// throttle timing.
			return w.repo.UpdateStatus(ctx, job.ID, domain.DispatchJobStatusCompleted, "")
		}
		log.Printf("Processing job %s: process source %s", job.ID, job.SourceID)
		err = w.processor.ProcessSource(ctx, job.SourceID, job.OwnerID)
	default:
		return fmt.Errorf("job %s has unknown kind %q", job.ID, job.Kind)
	}

	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.DispatchJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *ChunkWorker) handleJobFailure(ctx context.Context, job *domain.DispatchJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("Job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.DispatchJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	// Reset to pending: redelivery is safe because chunking is idempotent by
	// content hash.
	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.DispatchJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
