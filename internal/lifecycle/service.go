package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/internal/store"
)

// transitions is the authoritative table for user-driven status updates.
// Assignment, completion, and cancellation have dedicated operations; every
// other change must be present here or it fails with ErrInvalidStatus.
var transitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusAssigned:   {domain.JobStatusInProgress, domain.JobStatusCancelled},
	domain.JobStatusInProgress: {domain.JobStatusReview, domain.JobStatusCancelled},
	domain.JobStatusReview:     {domain.JobStatusRevision, domain.JobStatusCompleted},
	domain.JobStatusRevision:   {domain.JobStatusInProgress},
}

// ContextIndexer receives completed jobs for the vector context index.
// Indexing is advisory and must never block or fail a completion.
type ContextIndexer interface {
	IndexJob(ctx context.Context, job *domain.Job) error
}

// Service is the job state machine. Every operation validates the current
// status via a conditional store transition, and pairs worker counter
// mutations with status changes, compensating when the second write loses a
// race.
type Service struct {
	store   store.Store
	logger  *slog.Logger
	indexer ContextIndexer
}

// NewService creates a lifecycle service over the given store.
func NewService(st store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger,
	}
}

// SetContextIndexer wires the optional completed-job indexer.
func (s *Service) SetContextIndexer(indexer ContextIndexer) {
	s.indexer = indexer
}

// CreateParams holds client input for a new job.
type CreateParams struct {
	ClientID    string
	Title       string
	Description string
	Category    domain.Category
	Priority    domain.Priority
	BudgetUSD   float64
	CallbackURL string
}

// Create validates input and persists a new pending job.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Job, error) {
	if p.ClientID == "" || p.Title == "" || p.Description == "" {
		return nil, fmt.Errorf("%w: client_id, title, and description are required", domain.ErrValidation)
	}
	if !p.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, p.Category)
	}
	if p.Priority == "" {
		p.Priority = domain.PriorityStandard
	}
	if !p.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, p.Priority)
	}
	if p.BudgetUSD < 0 {
		return nil, fmt.Errorf("%w: budget must not be negative", domain.ErrValidation)
	}

	now := time.Now()
	job := &domain.Job{
		JobID:       uuid.New().String(),
		ClientID:    p.ClientID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Priority:    p.Priority,
		Status:      domain.JobStatusPending,
		BudgetUSD:   p.BudgetUSD,
		CallbackURL: p.CallbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("client_id", job.ClientID),
		slog.String("category", string(job.Category)),
	)

	return job, nil
}

// Assign moves a pending job to assigned, reserving a slot on the target
// worker first. The slot reservation is a conditional increment; if the job
// transition then loses a race, the slot is released again.
func (s *Service) Assign(ctx context.Context, jobID, workerID, assignerID string, estimatedHours *float64) (*domain.Job, error) {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		if err == domain.ErrWorkerNotFound {
			return nil, fmt.Errorf("%w: worker %s not found", domain.ErrInvalidWorker, workerID)
		}
		return nil, err
	}

	if !worker.Eligible() {
		return nil, fmt.Errorf("%w: worker %s is offline or at capacity", domain.ErrInvalidWorker, workerID)
	}

	if err := s.store.ReserveWorkerSlot(ctx, workerID); err != nil {
		if err == domain.ErrInvalidWorker || err == domain.ErrWorkerNotFound {
			return nil, fmt.Errorf("%w: worker %s is offline or at capacity", domain.ErrInvalidWorker, workerID)
		}
		return nil, err
	}

	now := time.Now()
	upd := store.JobUpdate{
		WorkerID:   &workerID,
		AssignerID: &assignerID,
		AssignedAt: &now,
	}
	if estimatedHours != nil {
		upd.EstimatedHours = estimatedHours
	}

	job, err := s.store.TransitionJob(ctx, jobID, []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusAssigned, upd)
	if err != nil {
		// Compensate the reservation so the counter pairing never drifts
		if releaseErr := s.store.ReleaseWorkerSlot(ctx, workerID); releaseErr != nil {
			s.logger.Error("Failed to release worker slot after lost assignment",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
				slog.Any("error", releaseErr),
			)
		}
		return nil, err
	}

	s.logger.Info("Job assigned",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("assigner_id", assignerID),
	)

	return job, nil
}

// UpdateStatus applies a user-driven status change validated against the
// transition table. Entering in_progress for the first time stamps StartedAt.
// Transitions into cancelled or completed release the worker's slot.
func (s *Service) UpdateStatus(ctx context.Context, jobID string, next domain.JobStatus, actualHours *float64) (*domain.Job, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, next)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, target := range transitions[job.Status] {
		if target == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatus, job.Status, next)
	}

	now := time.Now()
	upd := store.JobUpdate{}
	if actualHours != nil {
		upd.ActualHours = actualHours
	}
	if next == domain.JobStatusInProgress && job.StartedAt == nil {
		upd.StartedAt = &now
	}
	if next == domain.JobStatusCompleted {
		upd.CompletedAt = &now
	}

	updated, err := s.store.TransitionJob(ctx, jobID, []domain.JobStatus{job.Status}, next, upd)
	if err != nil {
		return nil, err
	}

	if (next == domain.JobStatusCancelled || next == domain.JobStatusCompleted) && job.WorkerID != "" {
		if err := s.store.ReleaseWorkerSlot(ctx, job.WorkerID); err != nil {
			s.logger.Error("Failed to release worker slot on terminal transition",
				slog.String("job_id", jobID),
				slog.String("worker_id", job.WorkerID),
				slog.Any("error", err),
			)
		}
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("from", string(job.Status)),
		slog.String("to", string(next)),
	)

	return updated, nil
}

// Complete closes a job in review with a rating, releases the worker's slot,
// and recomputes the worker's average rating as the arithmetic mean over all
// of that worker's completed+rated jobs.
func (s *Service) Complete(ctx context.Context, jobID string, rating int, feedback string) (*domain.Job, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrValidation)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	upd := store.JobUpdate{
		Rating:      &rating,
		Feedback:    &feedback,
		CompletedAt: &now,
	}

	updated, err := s.store.TransitionJob(ctx, jobID, []domain.JobStatus{domain.JobStatusReview}, domain.JobStatusCompleted, upd)
	if err != nil {
		return nil, err
	}

	if job.WorkerID != "" {
		if err := s.store.ReleaseWorkerSlot(ctx, job.WorkerID); err != nil {
			s.logger.Error("Failed to release worker slot on completion",
				slog.String("job_id", jobID),
				slog.String("worker_id", job.WorkerID),
				slog.Any("error", err),
			)
		}

		// Full re-scan of completed+rated jobs; read-then-write so the mean is
		// computed from a consistent snapshot
		ratings, err := s.store.CompletedRatings(ctx, job.WorkerID)
		if err != nil {
			return nil, fmt.Errorf("failed to recompute average rating: %w", err)
		}

		avg := 0.0
		if len(ratings) > 0 {
			sum := 0
			for _, r := range ratings {
				sum += r
			}
			avg = float64(sum) / float64(len(ratings))
		}

		if err := s.store.RecordCompletion(ctx, job.WorkerID, avg, job.BudgetUSD); err != nil {
			return nil, fmt.Errorf("failed to record completion: %w", err)
		}
	}

	if s.indexer != nil {
		if err := s.indexer.IndexJob(ctx, updated); err != nil {
			s.logger.Warn("Failed to index completed job for context retrieval",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.String("worker_id", job.WorkerID),
		slog.Int("rating", rating),
	)

	return updated, nil
}

// Cancel terminates a job from any non-completed status. Cancelling an
// already cancelled job is a no-op. An assigned worker gets its slot back.
func (s *Service) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: completed jobs cannot be cancelled", domain.ErrInvalidState)
	}
	if job.Status == domain.JobStatusCancelled {
		return job, nil
	}

	expect := []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusAnalyzing,
		domain.JobStatusAssigned,
		domain.JobStatusInProgress,
		domain.JobStatusReview,
		domain.JobStatusRevision,
	}

	updated, err := s.store.TransitionJob(ctx, jobID, expect, domain.JobStatusCancelled, store.JobUpdate{})
	if err != nil {
		return nil, err
	}

	// The snapshot read may predate a racing assignment; the post-transition
	// record decides whether a slot is held.
	if updated.WorkerID != "" {
		if err := s.store.ReleaseWorkerSlot(ctx, updated.WorkerID); err != nil {
			s.logger.Error("Failed to release worker slot on cancellation",
				slog.String("job_id", jobID),
				slog.String("worker_id", updated.WorkerID),
				slog.Any("error", err),
			)
		}
	}

	s.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
	)

	return updated, nil
}

// AddMessage appends to the job's message log. Permitted while the job is not
// in a terminal status.
func (s *Service) AddMessage(ctx context.Context, jobID, senderID string, role domain.SenderRole, body string) (*domain.Message, error) {
	if senderID == "" || body == "" {
		return nil, fmt.Errorf("%w: sender_id and body are required", domain.ErrValidation)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown sender role %q", domain.ErrValidation, role)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot message a %s job", domain.ErrInvalidState, job.Status)
	}

	msg := domain.Message{
		MessageID:  uuid.New().String(),
		SenderID:   senderID,
		SenderRole: role,
		Body:       body,
		SentAt:     time.Now(),
	}

	if err := s.store.AppendMessage(ctx, jobID, msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// AddReferenceFile appends a client input file to the job.
func (s *Service) AddReferenceFile(ctx context.Context, jobID, name, url, uploadedBy string) (*domain.ReferenceFile, error) {
	if name == "" || url == "" {
		return nil, fmt.Errorf("%w: name and url are required", domain.ErrValidation)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusCancelled {
		return nil, fmt.Errorf("%w: cannot attach files to a cancelled job", domain.ErrInvalidState)
	}

	file := domain.ReferenceFile{
		FileID:     uuid.New().String(),
		Name:       name,
		URL:        url,
		UploadedBy: uploadedBy,
		UploadedAt: time.Now(),
	}

	if err := s.store.AppendReferenceFile(ctx, jobID, file); err != nil {
		return nil, err
	}

	return &file, nil
}

// AddDeliverable appends a worker output file; the store assigns the per-name
// version number.
func (s *Service) AddDeliverable(ctx context.Context, jobID, name, url, uploadedBy string) (*domain.Deliverable, error) {
	if name == "" || url == "" {
		return nil, fmt.Errorf("%w: name and url are required", domain.ErrValidation)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusCancelled {
		return nil, fmt.Errorf("%w: cannot attach deliverables to a cancelled job", domain.ErrInvalidState)
	}

	d := domain.Deliverable{
		DeliverableID: uuid.New().String(),
		Name:          name,
		URL:           url,
		UploadedBy:    uploadedBy,
		UploadedAt:    time.Now(),
	}

	return s.store.AppendDeliverable(ctx, jobID, d)
}
