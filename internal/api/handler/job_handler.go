package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskloop/marketplace-be/internal/api/dto"
	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/internal/lifecycle"
	"github.com/taskloop/marketplace-be/internal/store"
	"github.com/taskloop/marketplace-be/shared/rabbitmq"
)

// jobSubmittedPayload is the envelope payload announcing a new job to the
// dispatch service.
type jobSubmittedPayload struct {
	JobID       string `json:"job_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ClientID    string `json:"client_id"`
}

// CreateJob handles POST /api/v1/jobs
// Persists the job in pending and announces it to the dispatch pipeline.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.lifecycle.Create(c.Request.Context(), lifecycle.CreateParams{
		ClientID:    req.ClientID,
		Title:       req.Title,
		Description: req.Description,
		Category:    domain.Category(req.Category),
		Priority:    domain.Priority(req.Priority),
		BudgetUSD:   req.BudgetUSD,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	err = h.publisher.PublishEnvelope(c.Request.Context(), rabbitmq.KindJobSubmitted, jobSubmittedPayload{
		JobID:       job.JobID,
		Title:       job.Title,
		Description: job.Description,
		Category:    string(job.Category),
		ClientID:    job.ClientID,
	})
	if err != nil {
		// The job record exists; surface the failure so the client can retry
		// the submission rather than leave the job stranded in pending.
		h.logger.Error("Failed to publish job submission",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "job created but dispatch is unavailable",
			"job_id": job.JobID,
		})
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("client_id", job.ClientID),
		slog.String("category", string(job.Category)),
	)

	c.JSON(http.StatusCreated, job)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := store.JobFilter{
		ClientID: req.ClientID,
		WorkerID: req.WorkerID,
		Status:   domain.JobStatus(req.Status),
		Category: domain.Category(req.Category),
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	summaries := make([]dto.JobSummaryDTO, len(jobs))
	for i := range jobs {
		summaries[i] = dto.NewJobSummary(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&store.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       summaries,
		NextCursor: nextCursor,
	})
}

// AssignJob handles POST /api/v1/jobs/:job_id/assign
// Manual assignment by an operator; competes safely with auto-assign.
func (h *JobHandler) AssignJob(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.AssignJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.lifecycle.Assign(c.Request.Context(), jobID, req.WorkerID, req.AssignerID, req.EstimatedHours)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job assigned",
		slog.String("job_id", jobID),
		slog.String("worker_id", req.WorkerID),
		slog.String("assigner_id", req.AssignerID),
	)

	c.JSON(http.StatusOK, job)
}

// UpdateJobStatus handles POST /api/v1/jobs/:job_id/status
func (h *JobHandler) UpdateJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.lifecycle.UpdateStatus(c.Request.Context(), jobID, domain.JobStatus(req.Status), req.ActualHours)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
	)

	c.JSON(http.StatusOK, job)
}

// CompleteJob handles POST /api/v1/jobs/:job_id/complete
// Accepts reviewed work with a rating and settles the worker's stats.
func (h *JobHandler) CompleteJob(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.CompleteJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.lifecycle.Complete(c.Request.Context(), jobID, req.Rating, req.Feedback)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.Int("rating", req.Rating),
	)

	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.lifecycle.Cancel(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
	)

	c.JSON(http.StatusOK, job)
}

// AddMessage handles POST /api/v1/jobs/:job_id/messages
func (h *JobHandler) AddMessage(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	msg, err := h.lifecycle.AddMessage(c.Request.Context(), jobID, req.SenderID, domain.SenderRole(req.SenderRole), req.Body)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// AddReferenceFile handles POST /api/v1/jobs/:job_id/files
func (h *JobHandler) AddReferenceFile(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.AddFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	file, err := h.lifecycle.AddReferenceFile(c.Request.Context(), jobID, req.Name, req.URL, req.UploadedBy)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, file)
}

// AddDeliverable handles POST /api/v1/jobs/:job_id/deliverables
// The store versions deliverables per name.
func (h *JobHandler) AddDeliverable(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.AddDeliverableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	deliverable, err := h.lifecycle.AddDeliverable(c.Request.Context(), jobID, req.Name, req.URL, req.UploadedBy)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, deliverable)
}
