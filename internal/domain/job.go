package domain

import "time"

// JobStatus is the closed set of job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusAnalyzing  JobStatus = "analyzing"
	JobStatusAssigned   JobStatus = "assigned"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusReview     JobStatus = "review"
	JobStatusRevision   JobStatus = "revision"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusAnalyzing, JobStatusAssigned, JobStatusInProgress,
		JobStatusReview, JobStatusRevision, JobStatusCompleted, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// Category is the closed set of marketplace job categories.
type Category string

const (
	CategoryDesign      Category = "design"
	CategoryDevelopment Category = "development"
	CategoryWriting     Category = "writing"
	CategoryVideo       Category = "video"
	CategoryMarketing   Category = "marketing"
	CategoryData        Category = "data"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryDesign, CategoryDevelopment, CategoryWriting, CategoryVideo, CategoryMarketing, CategoryData:
		return true
	}
	return false
}

// Priority is the closed set of job priorities.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityPriority Priority = "priority"
	PriorityRush     Priority = "rush"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityStandard, PriorityPriority, PriorityRush:
		return true
	}
	return false
}

// Complexity is the tier produced by requirement extraction.
type Complexity string

const (
	ComplexityBasic        Complexity = "basic"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

// SenderRole identifies who appended a job message.
type SenderRole string

const (
	RoleClient SenderRole = "client"
	RoleWorker SenderRole = "worker"
	RoleAdmin  SenderRole = "admin"
)

func (r SenderRole) Valid() bool {
	return r == RoleClient || r == RoleWorker || r == RoleAdmin
}

// Analysis holds the AI-derived fields produced by the analysis stage.
type Analysis struct {
	RequiredSkills []string   `json:"required_skills"`
	Complexity     Complexity `json:"complexity"`
	EstimatedHours float64    `json:"estimated_hours"`
	Confidence     float64    `json:"confidence"`
}

// Message is one entry of a job's append-only message log.
type Message struct {
	MessageID  string     `json:"message_id"`
	SenderID   string     `json:"sender_id"`
	SenderRole SenderRole `json:"sender_role"`
	Body       string     `json:"body"`
	SentAt     time.Time  `json:"sent_at"`
}

// ReferenceFile is a client-provided input file attached to a job.
type ReferenceFile struct {
	FileID     string    `json:"file_id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Deliverable is a worker-produced output file. Version is computed per name:
// the Nth deliverable sharing the same name gets version N.
type Deliverable struct {
	DeliverableID string    `json:"deliverable_id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Version       int       `json:"version"`
	UploadedBy    string    `json:"uploaded_by"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// Job is a unit of client-requested work tracked through the status lifecycle.
// WorkerID is set iff the job has left pending. The message log, reference
// file list, and deliverable list are append-only.
type Job struct {
	JobID       string    `json:"job_id"`
	ClientID    string    `json:"client_id"`
	WorkerID    string    `json:"worker_id,omitempty"`
	AssignerID  string    `json:"assigner_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Priority    Priority  `json:"priority"`
	Status      JobStatus `json:"status"`
	BudgetUSD   float64   `json:"budget_usd"`

	EstimatedHours float64 `json:"estimated_hours,omitempty"`
	ActualHours    float64 `json:"actual_hours,omitempty"`
	Rating         int     `json:"rating,omitempty"`
	Feedback       string  `json:"feedback,omitempty"`

	Analysis            *Analysis `json:"analysis,omitempty"`
	ContextFromPastWork string    `json:"context_from_past_work,omitempty"`

	// CallbackURL, when set, receives signed webhook callbacks on status changes.
	CallbackURL string `json:"callback_url,omitempty"`

	Messages       []Message       `json:"messages,omitempty"`
	ReferenceFiles []ReferenceFile `json:"reference_files,omitempty"`
	Deliverables   []Deliverable   `json:"deliverables,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
