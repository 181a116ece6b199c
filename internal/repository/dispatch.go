package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumora-ai/lumora/internal/domain"
)

var ErrDispatchJobNotFound = errors.New("dispatch job not found")

// DispatchRepository is the delay queue backing the dispatch throttler.
type DispatchRepository struct {
	db dbtx
}

func NewDispatchRepository(pool *pgxpool.Pool) *DispatchRepository {
	return &DispatchRepository{db: pool}
}

func (r *DispatchRepository) Enqueue(ctx context.Context, job *domain.DispatchJob) error {
	if err := domain.ValidateDispatchJob(job); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO dispatch_queue (id, source_id, owner_id, chunk_type, kind, status, run_at, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.SourceID, job.OwnerID, job.Type, job.Kind, job.Status,
		job.RunAt, job.Retries, job.Error, job.CreatedAt, job.ProcessedAt,
	)
	return err
}

// ClaimDue atomically claims up to limit due pending jobs, marking them
// running so concurrent workers never pick up the same job twice.
func (r *DispatchRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.DispatchJob, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`UPDATE dispatch_queue SET status = $1
		 WHERE id IN (
			SELECT id FROM dispatch_queue
			WHERE status = $2 AND run_at <= $3
			ORDER BY run_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, source_id, owner_id, chunk_type, kind, status, run_at, retries, error, created_at, processed_at`,
		domain.DispatchJobStatusRunning, domain.DispatchJobStatusPending, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDispatchJobs(rows)
}

func (r *DispatchRepository) UpdateStatus(ctx context.Context, jobID string, status domain.DispatchJobStatus, errMsg string) error {
	processedAt := time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_queue SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, errMsg, processedAt, jobID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDispatchJobNotFound
	}
	return nil
}

func (r *DispatchRepository) IncrementRetries(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_queue SET retries = retries + 1 WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDispatchJobNotFound
	}
	return nil
}

// PendingCount returns the number of jobs not yet processed; the queue is
// bounded by inbound document count, so this is an operator sanity signal.
func (r *DispatchRepository) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM dispatch_queue WHERE status = $1`,
		domain.DispatchJobStatusPending,
	).Scan(&count)
	return count, err
}

func scanDispatchJobs(rows pgx.Rows) ([]*domain.DispatchJob, error) {
	var jobs []*domain.DispatchJob
	for rows.Next() {
		var job domain.DispatchJob
		var errMsg pgtype.Text
		if err := rows.Scan(&job.ID, &job.SourceID, &job.OwnerID, &job.Type, &job.Kind,
			&job.Status, &job.RunAt, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			job.Error = errMsg.String
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
