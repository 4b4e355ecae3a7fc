package matching

import (
	"math"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// NoMatchReason explains why no candidate qualified.
type NoMatchReason string

const (
	// ReasonNoEligibleWorkers means every worker was offline, inactive, or at capacity
	ReasonNoEligibleWorkers NoMatchReason = "no_eligible_workers"

	// ReasonBelowThreshold means no eligible worker's skill overlap met the acceptance threshold
	ReasonBelowThreshold NoMatchReason = "below_threshold"
)

// Config holds the scoring constants. Thresholds and tie-break order are
// configuration, not per-call parameters.
type Config struct {
	// SkillWeight scales the fraction of required skills the worker covers.
	SkillWeight float64 `yaml:"skill_weight"`

	// CategoryWeight scales category affinity (worker lists the category tag
	// as a skill).
	CategoryWeight float64 `yaml:"category_weight"`

	// AcceptanceThreshold is the minimum score an eligible worker must reach
	// to be auto-assigned.
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`
}

// DefaultConfig returns the production scoring constants.
func DefaultConfig() Config {
	return Config{
		SkillWeight:         0.8,
		CategoryWeight:      0.2,
		AcceptanceThreshold: 0.5,
	}
}

// proficiencyCredit scales a matched skill's contribution by the worker's
// recorded level for it.
func proficiencyCredit(p domain.Proficiency) float64 {
	switch p {
	case domain.ProficiencySenior:
		return 1.0
	case domain.ProficiencyJunior:
		return 0.7
	default:
		return 0.85
	}
}

// Result is the outcome of a selection pass. Worker is nil when no candidate
// qualified, with Reason set.
type Result struct {
	Worker *domain.Worker
	Score  float64
	Reason NoMatchReason
}

// Score computes the match score for one worker in [0, 1]. It is a pure
// function over the worker snapshot; eligibility gating happens in Select.
func Score(cfg Config, w *domain.Worker, requiredSkills []string, category domain.Category) float64 {
	skillComponent := 0.0
	if len(requiredSkills) > 0 {
		credit := 0.0
		for _, skill := range requiredSkills {
			if w.HasSkill(skill) {
				credit += proficiencyCredit(w.SkillLevel(skill))
			}
		}
		skillComponent = credit / float64(len(requiredSkills))
	}

	affinity := 0.0
	if w.HasSkill(string(category)) {
		affinity = 1.0
	}

	score := cfg.SkillWeight*skillComponent + cfg.CategoryWeight*affinity
	return math.Min(math.Max(score, 0), 1)
}

// Select returns the single best eligible worker for the required skills and
// category, or a no-match result with the disqualification reason. Offline
// and at-capacity workers are excluded outright. Ties break toward lower
// current load, then more completed jobs, then higher average rating.
func Select(cfg Config, workers []domain.Worker, requiredSkills []string, category domain.Category) Result {
	var best *domain.Worker
	bestScore := -1.0
	eligible := 0

	for i := range workers {
		w := &workers[i]
		if !w.Eligible() {
			continue
		}
		eligible++

		score := Score(cfg, w, requiredSkills, category)
		if best == nil || better(score, bestScore, w, best) {
			best = w
			bestScore = score
		}
	}

	if eligible == 0 {
		return Result{Reason: ReasonNoEligibleWorkers}
	}
	if bestScore < cfg.AcceptanceThreshold {
		return Result{Reason: ReasonBelowThreshold}
	}

	return Result{Worker: best, Score: bestScore}
}

const scoreEpsilon = 1e-9

func better(score, bestScore float64, w, best *domain.Worker) bool {
	if score > bestScore+scoreEpsilon {
		return true
	}
	if score < bestScore-scoreEpsilon {
		return false
	}
	if w.CurrentJobCount != best.CurrentJobCount {
		return w.CurrentJobCount < best.CurrentJobCount
	}
	if w.CompletedJobs != best.CompletedJobs {
		return w.CompletedJobs > best.CompletedJobs
	}
	return w.AvgRating > best.AvgRating
}
