package store

import (
	"context"
	"time"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// JobUpdate carries the optional fields a status transition may set in the
// same atomic write. Nil fields are left untouched.
type JobUpdate struct {
	WorkerID            *string
	AssignerID          *string
	EstimatedHours      *float64
	ActualHours         *float64
	Rating              *int
	Feedback            *string
	Analysis            *domain.Analysis
	ContextFromPastWork *string
	AssignedAt          *time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// JobFilter selects jobs for listing with keyset pagination.
type JobFilter struct {
	ClientID string
	WorkerID string
	Status   domain.JobStatus
	Category domain.Category
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a keyset pagination cursor over (created_at, job_id) descending.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobStore is the record-store contract for jobs. TransitionJob is the
// race-safe primitive every status change goes through: it succeeds only when
// the job's current status is one of the expected statuses, applying the
// update and the new status as a single conditional write.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)

	// TransitionJob returns domain.ErrInvalidState when the job exists but is
	// not in any of the expected statuses, domain.ErrJobNotFound otherwise.
	TransitionJob(ctx context.Context, jobID string, expect []domain.JobStatus, next domain.JobStatus, upd JobUpdate) (*domain.Job, error)

	AppendMessage(ctx context.Context, jobID string, msg domain.Message) error
	AppendReferenceFile(ctx context.Context, jobID string, file domain.ReferenceFile) error

	// AppendDeliverable computes the per-name version (count of prior
	// deliverables sharing the name, plus one) and appends.
	AppendDeliverable(ctx context.Context, jobID string, d domain.Deliverable) (*domain.Deliverable, error)

	// CompletedRatings returns the ratings of all completed+rated jobs for a
	// worker. Average rating is recomputed from this full scan on every
	// completion rather than maintained incrementally.
	CompletedRatings(ctx context.Context, workerID string) ([]int, error)
}

// WorkerStore is the record-store contract for workers. ReserveWorkerSlot and
// ReleaseWorkerSlot are the conditional counter primitives that keep
// current_job_count within [0, max_concurrent_jobs] under concurrent
// assignment attempts.
type WorkerStore interface {
	CreateWorker(ctx context.Context, w *domain.Worker) error
	GetWorker(ctx context.Context, workerID string) (*domain.Worker, error)
	ListWorkers(ctx context.Context) ([]domain.Worker, error)

	// ReserveWorkerSlot increments current_job_count only while the worker is
	// active, not offline, and below capacity; returns domain.ErrInvalidWorker
	// otherwise.
	ReserveWorkerSlot(ctx context.Context, workerID string) error

	// ReleaseWorkerSlot decrements current_job_count, never below zero.
	ReleaseWorkerSlot(ctx context.Context, workerID string) error

	SetAvailability(ctx context.Context, workerID string, availability domain.Availability) error
	DeactivateWorker(ctx context.Context, workerID string) error

	// RecordCompletion increments the completed-job count, sets the recomputed
	// average rating, and adds the job's payout to lifetime earnings.
	RecordCompletion(ctx context.Context, workerID string, avgRating, earnings float64) error
}

// Store is the combined record store used by the lifecycle service and the
// pipeline orchestrator.
type Store interface {
	JobStore
	WorkerStore
}
