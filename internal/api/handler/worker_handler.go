package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskloop/marketplace-be/internal/api/dto"
	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/shared/rabbitmq"
)

// notifyRequestedPayload asks the dispatch service to send one notification.
type notifyRequestedPayload struct {
	UserID string            `json:"user_id"`
	Email  string            `json:"email"`
	Type   string            `json:"type"`
	Data   map[string]string `json:"data"`
}

// RegisterWorker handles POST /api/v1/workers
func (h *WorkerHandler) RegisterWorker(c *gin.Context) {
	var req dto.RegisterWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if len(req.Skills) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least one skill is required",
		})
		return
	}

	proficiency := make(map[string]domain.Proficiency, len(req.Proficiency))
	for skill, level := range req.Proficiency {
		p := domain.Proficiency(level)
		if p != domain.ProficiencyJunior && p != domain.ProficiencyMid && p != domain.ProficiencySenior {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "unknown proficiency level: " + level,
			})
			return
		}
		proficiency[skill] = p
	}

	maxJobs := req.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = domain.DefaultMaxConcurrentJobs
	}

	now := time.Now()
	worker := &domain.Worker{
		WorkerID:          uuid.New().String(),
		Name:              req.Name,
		Email:             req.Email,
		Skills:            req.Skills,
		Proficiency:       proficiency,
		Availability:      domain.AvailabilityAvailable,
		MaxConcurrentJobs: maxJobs,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.store.CreateWorker(c.Request.Context(), worker); err != nil {
		respondError(c, h.logger, err)
		return
	}

	err := h.publisher.PublishEnvelope(c.Request.Context(), rabbitmq.KindNotifyRequested, notifyRequestedPayload{
		UserID: worker.WorkerID,
		Email:  worker.Email,
		Type:   "worker_welcome",
		Data:   map[string]string{"name": worker.Name},
	})
	if err != nil {
		// Welcome email is best effort; registration already succeeded
		h.logger.Warn("Failed to publish welcome notification",
			slog.String("worker_id", worker.WorkerID),
			slog.Any("error", err),
		)
	}

	h.logger.Info("Worker registered",
		slog.String("worker_id", worker.WorkerID),
		slog.Int("skills", len(worker.Skills)),
	)

	c.JSON(http.StatusCreated, worker)
}

// GetWorker handles GET /api/v1/workers/:worker_id
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	workerID := c.Param("worker_id")

	worker, err := h.store.GetWorker(c.Request.Context(), workerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, worker)
}

// ListWorkers handles GET /api/v1/workers
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	workers, err := h.store.ListWorkers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workers": workers,
		"count":   len(workers),
	})
}

// SetAvailability handles PUT /api/v1/workers/:worker_id/availability
func (h *WorkerHandler) SetAvailability(c *gin.Context) {
	workerID := c.Param("worker_id")

	var req dto.SetAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	availability := domain.Availability(req.Availability)
	if !availability.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown availability: " + req.Availability,
		})
		return
	}

	if err := h.store.SetAvailability(c.Request.Context(), workerID, availability); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Worker availability updated",
		slog.String("worker_id", workerID),
		slog.String("availability", string(availability)),
	)

	c.JSON(http.StatusOK, gin.H{
		"worker_id":    workerID,
		"availability": availability,
	})
}

// DeactivateWorker handles DELETE /api/v1/workers/:worker_id
// Workers are never deleted, only deactivated.
func (h *WorkerHandler) DeactivateWorker(c *gin.Context) {
	workerID := c.Param("worker_id")

	if err := h.store.DeactivateWorker(c.Request.Context(), workerID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Worker deactivated",
		slog.String("worker_id", workerID),
	)

	c.Status(http.StatusNoContent)
}
