package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// Memory is an in-process Store implementation with the same conditional
// semantics as the PostgreSQL store. All mutations happen under one mutex, so
// TransitionJob and ReserveWorkerSlot are atomic by construction.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	workers map[string]*domain.Worker
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]*domain.Job),
		workers: make(map[string]*domain.Worker),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyJob(job)
	m.jobs[job.JobID] = cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (m *Memory) ListJobs(_ context.Context, filter JobFilter) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if filter.ClientID != "" && job.ClientID != filter.ClientID {
			continue
		}
		if filter.WorkerID != "" && job.WorkerID != filter.WorkerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Category != "" && job.Category != filter.Category {
			continue
		}
		out = append(out, *copyJob(job))
	}

	// (created_at, job_id) descending, matching the SQL ordering
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].JobID > out[j].JobID
	})

	if filter.Cursor != nil {
		idx := 0
		for idx < len(out) {
			j := out[idx]
			if j.CreatedAt.Before(filter.Cursor.CreatedAt) ||
				(j.CreatedAt.Equal(filter.Cursor.CreatedAt) && j.JobID < filter.Cursor.JobID) {
				break
			}
			idx++
		}
		out = out[idx:]
	}

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}

	return out, nil
}

func (m *Memory) TransitionJob(_ context.Context, jobID string, expect []domain.JobStatus, next domain.JobStatus, upd JobUpdate) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	matched := false
	for _, s := range expect {
		if job.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, domain.ErrInvalidState
	}

	job.Status = next
	applyJobUpdate(job, upd)
	job.UpdatedAt = time.Now()

	return copyJob(job), nil
}

func (m *Memory) AppendMessage(_ context.Context, jobID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Messages = append(job.Messages, msg)
	job.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) AppendReferenceFile(_ context.Context, jobID string, file domain.ReferenceFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.ReferenceFiles = append(job.ReferenceFiles, file)
	job.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) AppendDeliverable(_ context.Context, jobID string, d domain.Deliverable) (*domain.Deliverable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	version := 1
	for _, existing := range job.Deliverables {
		if existing.Name == d.Name {
			version++
		}
	}
	d.Version = version

	job.Deliverables = append(job.Deliverables, d)
	job.UpdatedAt = time.Now()

	cp := d
	return &cp, nil
}

func (m *Memory) CompletedRatings(_ context.Context, workerID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ratings []int
	for _, job := range m.jobs {
		if job.WorkerID == workerID && job.Status == domain.JobStatusCompleted && job.Rating > 0 {
			ratings = append(ratings, job.Rating)
		}
	}
	return ratings, nil
}

func (m *Memory) CreateWorker(_ context.Context, w *domain.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.WorkerID] = copyWorker(w)
	return nil
}

func (m *Memory) GetWorker(_ context.Context, workerID string) (*domain.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[workerID]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	return copyWorker(w), nil
}

func (m *Memory) ListWorkers(_ context.Context) ([]domain.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, *copyWorker(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (m *Memory) ReserveWorkerSlot(_ context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return domain.ErrWorkerNotFound
	}
	if !w.Eligible() {
		return domain.ErrInvalidWorker
	}
	w.CurrentJobCount++
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ReleaseWorkerSlot(_ context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return domain.ErrWorkerNotFound
	}
	if w.CurrentJobCount > 0 {
		w.CurrentJobCount--
	}
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetAvailability(_ context.Context, workerID string, availability domain.Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return domain.ErrWorkerNotFound
	}
	w.Availability = availability
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DeactivateWorker(_ context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return domain.ErrWorkerNotFound
	}
	w.Active = false
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) RecordCompletion(_ context.Context, workerID string, avgRating, earnings float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return domain.ErrWorkerNotFound
	}
	w.CompletedJobs++
	w.AvgRating = avgRating
	w.TotalEarnings += earnings
	w.UpdatedAt = time.Now()
	return nil
}

func applyJobUpdate(job *domain.Job, upd JobUpdate) {
	if upd.WorkerID != nil {
		job.WorkerID = *upd.WorkerID
	}
	if upd.AssignerID != nil {
		job.AssignerID = *upd.AssignerID
	}
	if upd.EstimatedHours != nil {
		job.EstimatedHours = *upd.EstimatedHours
	}
	if upd.ActualHours != nil {
		job.ActualHours = *upd.ActualHours
	}
	if upd.Rating != nil {
		job.Rating = *upd.Rating
	}
	if upd.Feedback != nil {
		job.Feedback = *upd.Feedback
	}
	if upd.Analysis != nil {
		cp := *upd.Analysis
		cp.RequiredSkills = append([]string(nil), upd.Analysis.RequiredSkills...)
		job.Analysis = &cp
	}
	if upd.ContextFromPastWork != nil {
		job.ContextFromPastWork = *upd.ContextFromPastWork
	}
	if upd.AssignedAt != nil {
		t := *upd.AssignedAt
		job.AssignedAt = &t
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
}

func copyJob(job *domain.Job) *domain.Job {
	cp := *job
	cp.Messages = append([]domain.Message(nil), job.Messages...)
	cp.ReferenceFiles = append([]domain.ReferenceFile(nil), job.ReferenceFiles...)
	cp.Deliverables = append([]domain.Deliverable(nil), job.Deliverables...)
	if job.Analysis != nil {
		a := *job.Analysis
		a.RequiredSkills = append([]string(nil), job.Analysis.RequiredSkills...)
		cp.Analysis = &a
	}
	if job.AssignedAt != nil {
		t := *job.AssignedAt
		cp.AssignedAt = &t
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyWorker(w *domain.Worker) *domain.Worker {
	cp := *w
	cp.Skills = append([]string(nil), w.Skills...)
	if w.Proficiency != nil {
		cp.Proficiency = make(map[string]domain.Proficiency, len(w.Proficiency))
		for k, v := range w.Proficiency {
			cp.Proficiency[k] = v
		}
	}
	return &cp
}
