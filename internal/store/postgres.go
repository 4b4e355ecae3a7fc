package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/shared/postgresql"
)

// Postgres implements Store on PostgreSQL. Status transitions and worker slot
// reservation use conditional UPDATEs so concurrent auto-assign attempts
// cannot drift the capacity counter.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres store backed by the shared client.
func NewPostgres(pg *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     pg.GetDB(),
		logger: logger,
	}
}

var _ Store = (*Postgres)(nil)

type jobRow struct {
	JobID          string         `db:"job_id"`
	ClientID       string         `db:"client_id"`
	WorkerID       sql.NullString `db:"worker_id"`
	AssignerID     sql.NullString `db:"assigner_id"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	Category       string         `db:"category"`
	Priority       string         `db:"priority"`
	Status         string         `db:"status"`
	BudgetUSD      float64        `db:"budget_usd"`
	EstimatedHours float64        `db:"estimated_hours"`
	ActualHours    float64        `db:"actual_hours"`
	Rating         int            `db:"rating"`
	Feedback       sql.NullString `db:"feedback"`
	Analysis       []byte         `db:"analysis"`
	ContextText    sql.NullString `db:"context_from_past_work"`
	CallbackURL    sql.NullString `db:"callback_url"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	AssignedAt     *time.Time     `db:"assigned_at"`
	StartedAt      *time.Time     `db:"started_at"`
	CompletedAt    *time.Time     `db:"completed_at"`
}

const jobColumns = `
	job_id, client_id, worker_id, assigner_id, title, description, category,
	priority, status, budget_usd, estimated_hours, actual_hours, rating,
	feedback, analysis, context_from_past_work, callback_url,
	created_at, updated_at, assigned_at, started_at, completed_at
`

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		JobID:          r.JobID,
		ClientID:       r.ClientID,
		WorkerID:       r.WorkerID.String,
		AssignerID:     r.AssignerID.String,
		Title:          r.Title,
		Description:    r.Description,
		Category:       domain.Category(r.Category),
		Priority:       domain.Priority(r.Priority),
		Status:         domain.JobStatus(r.Status),
		BudgetUSD:      r.BudgetUSD,
		EstimatedHours: r.EstimatedHours,
		ActualHours:    r.ActualHours,
		Rating:         r.Rating,
		Feedback:       r.Feedback.String,
		ContextFromPastWork: r.ContextText.String,
		CallbackURL:    r.CallbackURL.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		AssignedAt:     r.AssignedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}

	if len(r.Analysis) > 0 {
		var a domain.Analysis
		if err := json.Unmarshal(r.Analysis, &a); err != nil {
			return nil, fmt.Errorf("failed to decode analysis: %w", err)
		}
		job.Analysis = &a
	}

	return job, nil
}

func (p *Postgres) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, client_id, title, description, category, priority, status,
			budget_usd, callback_url, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, NULLIF($9, ''), $10, $11
		)
	`

	_, err := p.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.ClientID,
		job.Title,
		job.Description,
		job.Category,
		job.Priority,
		job.Status,
		job.BudgetUSD,
		job.CallbackURL,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (p *Postgres) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	if err := p.db.GetContext(ctx, &row, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	if err := p.loadJobCollections(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

func (p *Postgres) loadJobCollections(ctx context.Context, job *domain.Job) error {
	messagesQuery := `
		SELECT message_id, sender_id, sender_role, body, sent_at
		FROM job_messages
		WHERE job_id = $1
		ORDER BY sent_at ASC, message_id ASC
	`
	rows, err := p.db.QueryContext(ctx, messagesQuery, job.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.MessageID, &m.SenderID, &m.SenderRole, &m.Body, &m.SentAt); err != nil {
			return fmt.Errorf("failed to scan job message: %w", err)
		}
		job.Messages = append(job.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate job messages: %w", err)
	}

	filesQuery := `
		SELECT file_id, name, url, uploaded_by, uploaded_at
		FROM job_files
		WHERE job_id = $1
		ORDER BY uploaded_at ASC, file_id ASC
	`
	fileRows, err := p.db.QueryContext(ctx, filesQuery, job.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job files: %w", err)
	}
	defer fileRows.Close()

	for fileRows.Next() {
		var f domain.ReferenceFile
		if err := fileRows.Scan(&f.FileID, &f.Name, &f.URL, &f.UploadedBy, &f.UploadedAt); err != nil {
			return fmt.Errorf("failed to scan job file: %w", err)
		}
		job.ReferenceFiles = append(job.ReferenceFiles, f)
	}
	if err := fileRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate job files: %w", err)
	}

	deliverablesQuery := `
		SELECT deliverable_id, name, url, version, uploaded_by, uploaded_at
		FROM job_deliverables
		WHERE job_id = $1
		ORDER BY uploaded_at ASC, deliverable_id ASC
	`
	delivRows, err := p.db.QueryContext(ctx, deliverablesQuery, job.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job deliverables: %w", err)
	}
	defer delivRows.Close()

	for delivRows.Next() {
		var d domain.Deliverable
		if err := delivRows.Scan(&d.DeliverableID, &d.Name, &d.URL, &d.Version, &d.UploadedBy, &d.UploadedAt); err != nil {
			return fmt.Errorf("failed to scan job deliverable: %w", err)
		}
		job.Deliverables = append(job.Deliverables, d)
	}
	if err := delivRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate job deliverables: %w", err)
	}

	return nil
}

func (p *Postgres) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.ClientID != "" {
		query += fmt.Sprintf(" AND client_id = $%d", argIdx)
		args = append(args, filter.ClientID)
		argIdx++
	}

	if filter.WorkerID != "" {
		query += fmt.Sprintf(" AND worker_id = $%d", argIdx)
		args = append(args, filter.WorkerID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, filter.Category)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize+1)

	var rows []jobRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, nil
}

func (p *Postgres) TransitionJob(ctx context.Context, jobID string, expect []domain.JobStatus, next domain.JobStatus, upd JobUpdate) (*domain.Job, error) {
	query := `UPDATE jobs SET status = $1, updated_at = NOW()`
	args := []interface{}{next}
	argIdx := 2

	set := func(column string, value interface{}) {
		query += fmt.Sprintf(", %s = $%d", column, argIdx)
		args = append(args, value)
		argIdx++
	}

	if upd.WorkerID != nil {
		set("worker_id", *upd.WorkerID)
	}
	if upd.AssignerID != nil {
		set("assigner_id", *upd.AssignerID)
	}
	if upd.EstimatedHours != nil {
		set("estimated_hours", *upd.EstimatedHours)
	}
	if upd.ActualHours != nil {
		set("actual_hours", *upd.ActualHours)
	}
	if upd.Rating != nil {
		set("rating", *upd.Rating)
	}
	if upd.Feedback != nil {
		set("feedback", *upd.Feedback)
	}
	if upd.Analysis != nil {
		encoded, err := json.Marshal(upd.Analysis)
		if err != nil {
			return nil, fmt.Errorf("failed to encode analysis: %w", err)
		}
		set("analysis", encoded)
	}
	if upd.ContextFromPastWork != nil {
		set("context_from_past_work", *upd.ContextFromPastWork)
	}
	if upd.AssignedAt != nil {
		set("assigned_at", *upd.AssignedAt)
	}
	if upd.StartedAt != nil {
		set("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		set("completed_at", *upd.CompletedAt)
	}

	expected := make([]string, len(expect))
	for i, s := range expect {
		expected[i] = string(s)
	}
	query += fmt.Sprintf(" WHERE job_id = $%d AND status = ANY($%d)", argIdx, argIdx+1)
	args = append(args, jobID, pq.Array(expected))

	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		// Distinguish a missing job from a lost status race
		var current string
		err := p.db.GetContext(ctx, &current, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check job status: %w", err)
		}
		p.logger.Warn("Job transition rejected - status mismatch",
			slog.String("job_id", jobID),
			slog.String("current_status", current),
			slog.String("requested_status", string(next)),
		)
		return nil, domain.ErrInvalidState
	}

	return p.GetJob(ctx, jobID)
}

func (p *Postgres) AppendMessage(ctx context.Context, jobID string, msg domain.Message) error {
	query := `
		INSERT INTO job_messages (message_id, job_id, sender_id, sender_role, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := p.db.ExecContext(ctx, query, msg.MessageID, jobID, msg.SenderID, msg.SenderRole, msg.Body, msg.SentAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

func (p *Postgres) AppendReferenceFile(ctx context.Context, jobID string, file domain.ReferenceFile) error {
	query := `
		INSERT INTO job_files (file_id, job_id, name, url, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := p.db.ExecContext(ctx, query, file.FileID, jobID, file.Name, file.URL, file.UploadedBy, file.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to append reference file: %w", err)
	}

	return nil
}

func (p *Postgres) AppendDeliverable(ctx context.Context, jobID string, d domain.Deliverable) (*domain.Deliverable, error) {
	// Under read committed, two concurrent uploads of the same name can both
	// compute the same version; UNIQUE(job_id, name, version) rejects the
	// loser, which retries with a fresh count.
	query := `
		INSERT INTO job_deliverables (deliverable_id, job_id, name, url, version, uploaded_by, uploaded_at)
		VALUES (
			$1, $2, $3, $4,
			(SELECT COUNT(*) + 1 FROM job_deliverables WHERE job_id = $2 AND name = $3),
			$5, $6
		)
		RETURNING version
	`

	for attempt := 0; attempt < 3; attempt++ {
		err := p.db.QueryRowContext(ctx, query, d.DeliverableID, jobID, d.Name, d.URL, d.UploadedBy, d.UploadedAt).Scan(&d.Version)
		if err == nil {
			return &d, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			continue
		}
		return nil, fmt.Errorf("failed to append deliverable: %w", err)
	}

	return nil, fmt.Errorf("failed to append deliverable: version contention for %q", d.Name)
}

func (p *Postgres) CompletedRatings(ctx context.Context, workerID string) ([]int, error) {
	query := `
		SELECT rating FROM jobs
		WHERE worker_id = $1 AND status = $2 AND rating > 0
	`

	var ratings []int
	if err := p.db.SelectContext(ctx, &ratings, query, workerID, domain.JobStatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to load completed ratings: %w", err)
	}

	return ratings, nil
}

type workerRow struct {
	WorkerID          string         `db:"worker_id"`
	Name              string         `db:"name"`
	Email             string         `db:"email"`
	Skills            pq.StringArray `db:"skills"`
	Proficiency       []byte         `db:"proficiency"`
	Availability      string         `db:"availability"`
	CurrentJobCount   int            `db:"current_job_count"`
	MaxConcurrentJobs int            `db:"max_concurrent_jobs"`
	CompletedJobs     int            `db:"completed_jobs"`
	AvgRating         float64        `db:"avg_rating"`
	TotalEarnings     float64        `db:"total_earnings"`
	Active            bool           `db:"active"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

const workerColumns = `
	worker_id, name, email, skills, proficiency, availability,
	current_job_count, max_concurrent_jobs, completed_jobs, avg_rating,
	total_earnings, active, created_at, updated_at
`

func (r *workerRow) toDomain() (*domain.Worker, error) {
	w := &domain.Worker{
		WorkerID:          r.WorkerID,
		Name:              r.Name,
		Email:             r.Email,
		Skills:            []string(r.Skills),
		Availability:      domain.Availability(r.Availability),
		CurrentJobCount:   r.CurrentJobCount,
		MaxConcurrentJobs: r.MaxConcurrentJobs,
		CompletedJobs:     r.CompletedJobs,
		AvgRating:         r.AvgRating,
		TotalEarnings:     r.TotalEarnings,
		Active:            r.Active,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}

	if len(r.Proficiency) > 0 {
		if err := json.Unmarshal(r.Proficiency, &w.Proficiency); err != nil {
			return nil, fmt.Errorf("failed to decode proficiency: %w", err)
		}
	}

	return w, nil
}

func (p *Postgres) CreateWorker(ctx context.Context, w *domain.Worker) error {
	proficiency, err := json.Marshal(w.Proficiency)
	if err != nil {
		return fmt.Errorf("failed to encode proficiency: %w", err)
	}

	query := `
		INSERT INTO workers (
			worker_id, name, email, skills, proficiency, availability,
			current_job_count, max_concurrent_jobs, completed_jobs, avg_rating,
			total_earnings, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14
		)
	`

	_, err = p.db.ExecContext(
		ctx,
		query,
		w.WorkerID,
		w.Name,
		w.Email,
		pq.Array(w.Skills),
		proficiency,
		w.Availability,
		w.CurrentJobCount,
		w.MaxConcurrentJobs,
		w.CompletedJobs,
		w.AvgRating,
		w.TotalEarnings,
		w.Active,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	return nil
}

func (p *Postgres) GetWorker(ctx context.Context, workerID string) (*domain.Worker, error) {
	var row workerRow
	query := `SELECT ` + workerColumns + ` FROM workers WHERE worker_id = $1`

	if err := p.db.GetContext(ctx, &row, query, workerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	return row.toDomain()
}

func (p *Postgres) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE active ORDER BY worker_id`

	var rows []workerRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	workers := make([]domain.Worker, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}

	return workers, nil
}

func (p *Postgres) ReserveWorkerSlot(ctx context.Context, workerID string) error {
	// Conditional increment: succeeds only while the worker has spare
	// capacity, so concurrent assignments cannot push past the cap.
	query := `
		UPDATE workers
		SET current_job_count = current_job_count + 1,
		    updated_at = NOW()
		WHERE worker_id = $1
		  AND active
		  AND availability <> $2
		  AND current_job_count < max_concurrent_jobs
	`

	result, err := p.db.ExecContext(ctx, query, workerID, domain.AvailabilityOffline)
	if err != nil {
		return fmt.Errorf("failed to reserve worker slot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		var exists bool
		if err := p.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM workers WHERE worker_id = $1)`, workerID); err != nil {
			return fmt.Errorf("failed to check worker existence: %w", err)
		}
		if !exists {
			return domain.ErrWorkerNotFound
		}
		p.logger.Warn("Worker slot reservation rejected",
			slog.String("worker_id", workerID),
		)
		return domain.ErrInvalidWorker
	}

	return nil
}

func (p *Postgres) ReleaseWorkerSlot(ctx context.Context, workerID string) error {
	query := `
		UPDATE workers
		SET current_job_count = GREATEST(current_job_count - 1, 0),
		    updated_at = NOW()
		WHERE worker_id = $1
	`

	result, err := p.db.ExecContext(ctx, query, workerID)
	if err != nil {
		return fmt.Errorf("failed to release worker slot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWorkerNotFound
	}

	return nil
}

func (p *Postgres) SetAvailability(ctx context.Context, workerID string, availability domain.Availability) error {
	query := `UPDATE workers SET availability = $1, updated_at = NOW() WHERE worker_id = $2`

	result, err := p.db.ExecContext(ctx, query, availability, workerID)
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWorkerNotFound
	}

	return nil
}

func (p *Postgres) DeactivateWorker(ctx context.Context, workerID string) error {
	query := `UPDATE workers SET active = FALSE, updated_at = NOW() WHERE worker_id = $1`

	result, err := p.db.ExecContext(ctx, query, workerID)
	if err != nil {
		return fmt.Errorf("failed to deactivate worker: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWorkerNotFound
	}

	return nil
}

func (p *Postgres) RecordCompletion(ctx context.Context, workerID string, avgRating, earnings float64) error {
	query := `
		UPDATE workers
		SET completed_jobs = completed_jobs + 1,
		    avg_rating = $1,
		    total_earnings = total_earnings + $2,
		    updated_at = NOW()
		WHERE worker_id = $3
	`

	result, err := p.db.ExecContext(ctx, query, avgRating, earnings, workerID)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWorkerNotFound
	}

	return nil
}
