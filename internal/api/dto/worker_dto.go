package dto

type RegisterWorkerRequest struct {
	Name              string            `json:"name" binding:"required"`
	Email             string            `json:"email" binding:"required,email"`
	Skills            []string          `json:"skills" binding:"required"`
	Proficiency       map[string]string `json:"proficiency"`
	MaxConcurrentJobs int               `json:"max_concurrent_jobs"`
}

type SetAvailabilityRequest struct {
	Availability string `json:"availability" binding:"required"`
}
