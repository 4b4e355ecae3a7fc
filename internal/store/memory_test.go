package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop/marketplace-be/internal/domain"
)

func seedJob(t *testing.T, m *Memory, id string, status domain.JobStatus, createdAt time.Time) {
	t.Helper()
	require.NoError(t, m.CreateJob(context.Background(), &domain.Job{
		JobID:     id,
		ClientID:  "client-1",
		Title:     "Job " + id,
		Category:  domain.CategoryDesign,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}))
}

func seedWorker(t *testing.T, m *Memory, id string, maxJobs int) {
	t.Helper()
	require.NoError(t, m.CreateWorker(context.Background(), &domain.Worker{
		WorkerID:          id,
		Name:              "Worker " + id,
		Email:             id + "@example.com",
		Availability:      domain.AvailabilityAvailable,
		MaxConcurrentJobs: maxJobs,
		Active:            true,
	}))
}

func TestMemory_TransitionJob(t *testing.T) {
	ctx := context.Background()

	t.Run("expected status matches", func(t *testing.T) {
		m := NewMemory()
		seedJob(t, m, "j1", domain.JobStatusPending, time.Now())

		workerID := "w1"
		job, err := m.TransitionJob(ctx, "j1",
			[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusAssigned,
			JobUpdate{WorkerID: &workerID})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusAssigned, job.Status)
		assert.Equal(t, "w1", job.WorkerID)
	})

	t.Run("unexpected status fails with ErrInvalidState", func(t *testing.T) {
		m := NewMemory()
		seedJob(t, m, "j1", domain.JobStatusCompleted, time.Now())

		_, err := m.TransitionJob(ctx, "j1",
			[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusAssigned, JobUpdate{})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("missing job fails with ErrJobNotFound", func(t *testing.T) {
		m := NewMemory()
		_, err := m.TransitionJob(ctx, "ghost",
			[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusAssigned, JobUpdate{})
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("any of several expected statuses matches", func(t *testing.T) {
		m := NewMemory()
		seedJob(t, m, "j1", domain.JobStatusReview, time.Now())

		job, err := m.TransitionJob(ctx, "j1",
			[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusReview},
			domain.JobStatusCancelled, JobUpdate{})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, job.Status)
	})

	t.Run("nil update fields leave job untouched", func(t *testing.T) {
		m := NewMemory()
		seedJob(t, m, "j1", domain.JobStatusPending, time.Now())

		hours := 8.0
		_, err := m.TransitionJob(ctx, "j1",
			[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusAssigned,
			JobUpdate{EstimatedHours: &hours})
		require.NoError(t, err)

		job, err := m.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, 8.0, job.EstimatedHours)
		assert.Empty(t, job.WorkerID)
		assert.Zero(t, job.Rating)
	})
}

func TestMemory_AppendDeliverableVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "j1", domain.JobStatusInProgress, time.Now())

	add := func(name string) *domain.Deliverable {
		d, err := m.AppendDeliverable(ctx, "j1", domain.Deliverable{
			DeliverableID: name + "-" + time.Now().String(),
			Name:          name,
			URL:           "https://files.example.com/" + name,
			UploadedBy:    "w1",
			UploadedAt:    time.Now(),
		})
		require.NoError(t, err)
		return d
	}

	assert.Equal(t, 1, add("draft.mp4").Version)
	assert.Equal(t, 2, add("draft.mp4").Version)
	assert.Equal(t, 1, add("final.mp4").Version)
	assert.Equal(t, 3, add("draft.mp4").Version)

	job, err := m.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, job.Deliverables, 4)
}

func TestMemory_ListJobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, m, "j1", domain.JobStatusPending, base)
	seedJob(t, m, "j2", domain.JobStatusPending, base.Add(time.Minute))
	seedJob(t, m, "j3", domain.JobStatusCompleted, base.Add(2*time.Minute))
	seedJob(t, m, "j4", domain.JobStatusPending, base.Add(3*time.Minute))

	t.Run("newest first", func(t *testing.T) {
		jobs, err := m.ListJobs(ctx, JobFilter{})
		require.NoError(t, err)
		require.Len(t, jobs, 4)
		assert.Equal(t, "j4", jobs[0].JobID)
		assert.Equal(t, "j1", jobs[3].JobID)
	})

	t.Run("status filter", func(t *testing.T) {
		jobs, err := m.ListJobs(ctx, JobFilter{Status: domain.JobStatusCompleted})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "j3", jobs[0].JobID)
	})

	t.Run("page size returns one extra row for has-more detection", func(t *testing.T) {
		jobs, err := m.ListJobs(ctx, JobFilter{PageSize: 2})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})

	t.Run("cursor resumes after the given key", func(t *testing.T) {
		jobs, err := m.ListJobs(ctx, JobFilter{
			Cursor: &JobCursor{CreatedAt: base.Add(2 * time.Minute), JobID: "j3"},
		})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "j2", jobs[0].JobID)
		assert.Equal(t, "j1", jobs[1].JobID)
	})

	t.Run("equal timestamps break ties on job id descending", func(t *testing.T) {
		m2 := NewMemory()
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		seedJob(t, m2, "a", domain.JobStatusPending, ts)
		seedJob(t, m2, "b", domain.JobStatusPending, ts)

		jobs, err := m2.ListJobs(ctx, JobFilter{})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "b", jobs[0].JobID)

		jobs, err = m2.ListJobs(ctx, JobFilter{Cursor: &JobCursor{CreatedAt: ts, JobID: "b"}})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "a", jobs[0].JobID)
	})
}

func TestMemory_ReserveWorkerSlot(t *testing.T) {
	ctx := context.Background()

	t.Run("increments while below capacity", func(t *testing.T) {
		m := NewMemory()
		seedWorker(t, m, "w1", 2)

		require.NoError(t, m.ReserveWorkerSlot(ctx, "w1"))
		require.NoError(t, m.ReserveWorkerSlot(ctx, "w1"))

		err := m.ReserveWorkerSlot(ctx, "w1")
		assert.ErrorIs(t, err, domain.ErrInvalidWorker)

		w, err := m.GetWorker(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, 2, w.CurrentJobCount)
	})

	t.Run("offline worker is rejected", func(t *testing.T) {
		m := NewMemory()
		seedWorker(t, m, "w1", 2)
		require.NoError(t, m.SetAvailability(ctx, "w1", domain.AvailabilityOffline))

		err := m.ReserveWorkerSlot(ctx, "w1")
		assert.ErrorIs(t, err, domain.ErrInvalidWorker)
	})

	t.Run("deactivated worker is rejected", func(t *testing.T) {
		m := NewMemory()
		seedWorker(t, m, "w1", 2)
		require.NoError(t, m.DeactivateWorker(ctx, "w1"))

		err := m.ReserveWorkerSlot(ctx, "w1")
		assert.ErrorIs(t, err, domain.ErrInvalidWorker)
	})

	t.Run("unknown worker", func(t *testing.T) {
		m := NewMemory()
		err := m.ReserveWorkerSlot(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
	})
}

func TestMemory_ReserveWorkerSlot_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedWorker(t, m, "w1", 3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.ReserveWorkerSlot(ctx, "w1"); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, reserved)

	w, err := m.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 3, w.CurrentJobCount)
}

func TestMemory_ReleaseWorkerSlot_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedWorker(t, m, "w1", 3)

	require.NoError(t, m.ReleaseWorkerSlot(ctx, "w1"))

	w, err := m.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 0, w.CurrentJobCount)
}

func TestMemory_CompletedRatings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Now()
	for i, spec := range []struct {
		status domain.JobStatus
		worker string
		rating int
	}{
		{domain.JobStatusCompleted, "w1", 5},
		{domain.JobStatusCompleted, "w1", 3},
		{domain.JobStatusCompleted, "w1", 0}, // unrated
		{domain.JobStatusCompleted, "w2", 4},
		{domain.JobStatusInProgress, "w1", 0},
	} {
		require.NoError(t, m.CreateJob(ctx, &domain.Job{
			JobID:     fmt.Sprintf("j%d", i),
			ClientID:  "client-1",
			WorkerID:  spec.worker,
			Category:  domain.CategoryDesign,
			Status:    spec.status,
			Rating:    spec.rating,
			CreatedAt: base,
		}))
	}

	ratings, err := m.CompletedRatings(ctx, "w1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{5, 3}, ratings)
}

func TestMemory_RecordCompletion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedWorker(t, m, "w1", 3)

	require.NoError(t, m.RecordCompletion(ctx, "w1", 4.5, 150))
	require.NoError(t, m.RecordCompletion(ctx, "w1", 4.0, 50))

	w, err := m.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, w.CompletedJobs)
	assert.Equal(t, 4.0, w.AvgRating)
	assert.Equal(t, 200.0, w.TotalEarnings)
}

func TestMemory_GetJobReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "j1", domain.JobStatusPending, time.Now())

	job, err := m.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.Status = domain.JobStatusCancelled
	job.Deliverables = append(job.Deliverables, domain.Deliverable{Name: "x"})

	fresh, err := m.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, fresh.Status)
	assert.Empty(t, fresh.Deliverables)
}
