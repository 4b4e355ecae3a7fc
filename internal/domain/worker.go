package domain

import "time"

// Availability is the closed set of worker availability states.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

func (a Availability) Valid() bool {
	return a == AvailabilityAvailable || a == AvailabilityBusy || a == AvailabilityOffline
}

// Proficiency is the closed set of per-skill proficiency levels.
type Proficiency string

const (
	ProficiencyJunior Proficiency = "junior"
	ProficiencyMid    Proficiency = "mid"
	ProficiencySenior Proficiency = "senior"
)

// DefaultMaxConcurrentJobs is applied when a worker registers without an
// explicit capacity.
const DefaultMaxConcurrentJobs = 3

// Worker is a capacity-bounded executor. CurrentJobCount is incremented
// exactly once per assignment and decremented exactly once per completion or
// cancellation of an assigned job; it must never exceed MaxConcurrentJobs.
type Worker struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`

	Skills      []string               `json:"skills"`
	Proficiency map[string]Proficiency `json:"proficiency,omitempty"`

	Availability      Availability `json:"availability"`
	CurrentJobCount   int          `json:"current_job_count"`
	MaxConcurrentJobs int          `json:"max_concurrent_jobs"`

	CompletedJobs int     `json:"completed_jobs"`
	AvgRating     float64 `json:"avg_rating"`
	TotalEarnings float64 `json:"total_earnings"`

	// Workers are never deleted, only deactivated.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCapacity reports whether the worker can take one more job.
func (w *Worker) HasCapacity() bool {
	return w.CurrentJobCount < w.MaxConcurrentJobs
}

// Eligible reports whether the worker may be assigned at all: active, not
// offline, and below capacity.
func (w *Worker) Eligible() bool {
	return w.Active && w.Availability != AvailabilityOffline && w.HasCapacity()
}

// HasSkill reports whether the worker lists the given skill tag.
func (w *Worker) HasSkill(skill string) bool {
	for _, s := range w.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// SkillLevel returns the worker's proficiency for a skill, defaulting to mid
// when no explicit level was recorded.
func (w *Worker) SkillLevel(skill string) Proficiency {
	if w.Proficiency != nil {
		if p, ok := w.Proficiency[skill]; ok {
			return p
		}
	}
	return ProficiencyMid
}
