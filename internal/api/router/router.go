package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskloop/marketplace-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "marketplace-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	workerHandler := handler.NewWorkerHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)

			jobs.POST("/:job_id/assign", jobHandler.AssignJob)
			jobs.POST("/:job_id/status", jobHandler.UpdateJobStatus)
			jobs.POST("/:job_id/complete", jobHandler.CompleteJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			jobs.POST("/:job_id/messages", jobHandler.AddMessage)
			jobs.POST("/:job_id/files", jobHandler.AddReferenceFile)
			jobs.POST("/:job_id/deliverables", jobHandler.AddDeliverable)
		}

		workers := v1.Group("/workers")
		{
			workers.POST("", workerHandler.RegisterWorker)
			workers.GET("", workerHandler.ListWorkers)
			workers.GET("/:worker_id", workerHandler.GetWorker)
			workers.PUT("/:worker_id/availability", workerHandler.SetAvailability)
			workers.DELETE("/:worker_id", workerHandler.DeactivateWorker)
		}
	}

	return r
}
