package dto

import (
	"time"

	"github.com/taskloop/marketplace-be/internal/domain"
)

type CreateJobRequest struct {
	ClientID    string  `json:"client_id" binding:"required"`
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description" binding:"required"`
	Category    string  `json:"category" binding:"required"`
	Priority    string  `json:"priority"`
	BudgetUSD   float64 `json:"budget_usd"`
	CallbackURL string  `json:"callback_url"`
}

type AssignJobRequest struct {
	WorkerID       string   `json:"worker_id" binding:"required"`
	AssignerID     string   `json:"assigner_id" binding:"required"`
	EstimatedHours *float64 `json:"estimated_hours"`
}

type UpdateStatusRequest struct {
	Status      string   `json:"status" binding:"required"`
	ActualHours *float64 `json:"actual_hours"`
}

type CompleteJobRequest struct {
	Rating   int    `json:"rating" binding:"required"`
	Feedback string `json:"feedback"`
}

type AddMessageRequest struct {
	SenderID   string `json:"sender_id" binding:"required"`
	SenderRole string `json:"sender_role" binding:"required"`
	Body       string `json:"body" binding:"required"`
}

type AddFileRequest struct {
	Name       string `json:"name" binding:"required"`
	URL        string `json:"url" binding:"required"`
	UploadedBy string `json:"uploaded_by" binding:"required"`
}

type AddDeliverableRequest struct {
	Name       string `json:"name" binding:"required"`
	URL        string `json:"url" binding:"required"`
	UploadedBy string `json:"uploaded_by" binding:"required"`
}

type ListJobsRequest struct {
	ClientID string `form:"client_id"`
	WorkerID string `form:"worker_id"`
	Status   string `form:"status"`
	Category string `form:"category"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type JobSummaryDTO struct {
	JobID     string `json:"job_id"`
	ClientID  string `json:"client_id"`
	WorkerID  string `json:"worker_id,omitempty"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`
	BudgetUSD float64 `json:"budget_usd"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs       []JobSummaryDTO `json:"jobs"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// NewJobSummary flattens a job record for list responses.
func NewJobSummary(job *domain.Job) JobSummaryDTO {
	return JobSummaryDTO{
		JobID:     job.JobID,
		ClientID:  job.ClientID,
		WorkerID:  job.WorkerID,
		Title:     job.Title,
		Category:  string(job.Category),
		Priority:  string(job.Priority),
		Status:    string(job.Status),
		BudgetUSD: job.BudgetUSD,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
}
