package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/internal/lifecycle"
	"github.com/taskloop/marketplace-be/internal/store"
)

// SubmissionPublisher hands submission envelopes to the dispatch service.
type SubmissionPublisher interface {
	PublishEnvelope(ctx context.Context, kind string, payload any) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     store.Store
	Lifecycle *lifecycle.Service
	Publisher SubmissionPublisher
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     store.Store
	lifecycle *lifecycle.Service
	publisher SubmissionPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		lifecycle: deps.Lifecycle,
		publisher: deps.Publisher,
	}
}

// WorkerHandler handles worker-related HTTP requests
type WorkerHandler struct {
	logger    *slog.Logger
	store     store.Store
	publisher SubmissionPublisher
}

// NewWorkerHandler creates a new WorkerHandler instance
func NewWorkerHandler(deps *Dependencies) *WorkerHandler {
	return &WorkerHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
	}
}

// respondError maps domain errors onto HTTP statuses with a uniform body.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrWorkerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrInvalidStatus):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidWorker):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed", slog.Any("error", err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
