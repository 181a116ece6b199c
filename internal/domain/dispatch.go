package domain

import (
	"fmt"
	"time"
)

// DispatchJobStatus represents the lifecycle of a queued dispatch job.
type DispatchJobStatus string

const (
	DispatchJobStatusPending   DispatchJobStatus = "pending"
	DispatchJobStatusRunning   DispatchJobStatus = "running"
	DispatchJobStatusCompleted DispatchJobStatus = "completed"
	DispatchJobStatusFailed    DispatchJobStatus = "failed"
)

// DispatchJobKind distinguishes chunking dispatch (randomized delay) from
// upstream processing dispatch (linear spacing).
type DispatchJobKind string

const (
	DispatchJobKindChunk   DispatchJobKind = "chunk"
	DispatchJobKindProcess DispatchJobKind = "process"
)

// DispatchJob is one throttled unit of work: chunk (or pre-process) a single
// source document no earlier than RunAt.
type DispatchJob struct {
	ID          string
	SourceID    string
	OwnerID     string
	Type        ChunkType
	Kind        DispatchJobKind
	Status      DispatchJobStatus
	RunAt       time.Time
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ValidateDispatchJob validates a DispatchJob instance.
func ValidateDispatchJob(j *DispatchJob) error {
	if j == nil {
		return fmt.Errorf("dispatch job cannot be nil")
	}
	if j.ID == "" {
		return fmt.Errorf("dispatch job ID is required")
	}
	if j.SourceID == "" {
		return fmt.Errorf("dispatch job must reference a source document")
	}
	if j.OwnerID == "" {
		return fmt.Errorf("dispatch job must reference an owner")
	}
	if !isValidDispatchJobStatus(j.Status) {
		return fmt.Errorf("dispatch job Status is invalid: %s", j.Status)
	}
	if j.Kind != DispatchJobKindChunk && j.Kind != DispatchJobKindProcess {
		return fmt.Errorf("dispatch job Kind is invalid: %s", j.Kind)
	}
	if j.Retries < 0 {
		return fmt.Errorf("dispatch job Retries cannot be negative")
	}
	return nil
}

func isValidDispatchJobStatus(s DispatchJobStatus) bool {
	switch s {
	case DispatchJobStatusPending, DispatchJobStatusRunning,
		DispatchJobStatusCompleted, DispatchJobStatusFailed:
		return true
	}
	return false
}
