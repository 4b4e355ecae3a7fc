package admin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskloop/marketplace-be/internal/queue"
)

// Dependencies holds all dependencies needed by admin handlers
type Dependencies struct {
	Logger *slog.Logger
	Fabric *queue.Fabric
}

// Handler serves the operational surface of the dispatch service: queue
// stats and dead-letter inspection and recovery.
type Handler struct {
	logger *slog.Logger
	fabric *queue.Fabric
}

// NewHandler creates a new admin Handler instance
func NewHandler(deps *Dependencies) *Handler {
	return &Handler{
		logger: deps.Logger,
		fabric: deps.Fabric,
	}
}

// SetupRouter configures and returns the Gin router with all admin routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "dispatch-service",
		})
	})

	h := NewHandler(deps)

	v1 := r.Group("/admin/v1")
	{
		v1.GET("/queues", h.QueueStats)

		dlq := v1.Group("/dlq")
		{
			dlq.GET("", h.ListDeadLetters)
			dlq.GET("/stats", h.DeadLetterStats)
			dlq.POST("/retry", h.BulkRetryDeadLetters)
			dlq.POST("/purge", h.PurgeDeadLetters)
			dlq.GET("/:entry_id", h.GetDeadLetter)
			dlq.DELETE("/:entry_id", h.RemoveDeadLetter)
			dlq.POST("/:entry_id/retry", h.RetryDeadLetter)
		}
	}

	return r
}

// QueueStats handles GET /admin/v1/queues
func (h *Handler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queues": h.fabric.Stats(),
	})
}

// dlqFilter parses the optional queue/reason filter from query parameters.
func dlqFilter(c *gin.Context) queue.Filter {
	return queue.Filter{
		Queue:  c.Query("queue"),
		Reason: queue.FailureReason(c.Query("reason")),
	}
}

// ListDeadLetters handles GET /admin/v1/dlq
func (h *Handler) ListDeadLetters(c *gin.Context) {
	entries := h.fabric.DLQ().List(dlqFilter(c))
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// DeadLetterStats handles GET /admin/v1/dlq/stats
func (h *Handler) DeadLetterStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.fabric.DLQ().Stats())
}

// GetDeadLetter handles GET /admin/v1/dlq/:entry_id
func (h *Handler) GetDeadLetter(c *gin.Context) {
	entryID := c.Param("entry_id")

	entry, ok := h.fabric.DLQ().Get(entryID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "dead-letter entry not found",
		})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// RemoveDeadLetter handles DELETE /admin/v1/dlq/:entry_id
func (h *Handler) RemoveDeadLetter(c *gin.Context) {
	entryID := c.Param("entry_id")

	if err := h.fabric.DLQ().Remove(entryID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.logger.Info("Dead-letter entry removed",
		slog.String("entry_id", entryID),
	)
	c.Status(http.StatusNoContent)
}

// RetryDeadLetter handles POST /admin/v1/dlq/:entry_id/retry
func (h *Handler) RetryDeadLetter(c *gin.Context) {
	entryID := c.Param("entry_id")

	if err := h.fabric.DLQ().Retry(entryID); err != nil {
		h.logger.Error("Failed to retry dead-letter entry",
			slog.String("entry_id", entryID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entry_id": entryID,
		"status":   "requeued",
	})
}

// BulkRetryDeadLetters handles POST /admin/v1/dlq/retry
// The queue/reason filter comes from query parameters; an empty filter
// retries every entry.
func (h *Handler) BulkRetryDeadLetters(c *gin.Context) {
	results := h.fabric.DLQ().BulkRetry(dlqFilter(c))

	requeued := 0
	for _, r := range results {
		if r.OK {
			requeued++
		}
	}

	h.logger.Info("Bulk dead-letter retry",
		slog.Int("requeued", requeued),
		slog.Int("failed", len(results)-requeued),
	)

	c.JSON(http.StatusOK, gin.H{
		"requeued": requeued,
		"failed":   len(results) - requeued,
		"results":  results,
	})
}

// PurgeDeadLetters handles POST /admin/v1/dlq/purge
func (h *Handler) PurgeDeadLetters(c *gin.Context) {
	removed := h.fabric.DLQ().Purge(dlqFilter(c))

	c.JSON(http.StatusOK, gin.H{
		"removed": removed,
	})
}
