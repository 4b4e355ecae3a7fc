package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop/marketplace-be/internal/domain"
)

func availableWorker(id string, skills ...string) domain.Worker {
	return domain.Worker{
		WorkerID:          id,
		Skills:            skills,
		Availability:      domain.AvailabilityAvailable,
		MaxConcurrentJobs: 3,
		Active:            true,
	}
}

func TestScore(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name           string
		worker         domain.Worker
		requiredSkills []string
		category       domain.Category
		want           float64
	}{
		{
			name:           "full skill and category match at mid proficiency",
			worker:         availableWorker("w1", "logo-design", "design"),
			requiredSkills: []string{"logo-design"},
			category:       domain.CategoryDesign,
			want:           0.8*0.85 + 0.2,
		},
		{
			name: "senior proficiency earns full credit",
			worker: func() domain.Worker {
				w := availableWorker("w1", "logo-design", "design")
				w.Proficiency = map[string]domain.Proficiency{"logo-design": domain.ProficiencySenior}
				return w
			}(),
			requiredSkills: []string{"logo-design"},
			category:       domain.CategoryDesign,
			want:           1.0,
		},
		{
			name: "junior proficiency is discounted",
			worker: func() domain.Worker {
				w := availableWorker("w1", "logo-design")
				w.Proficiency = map[string]domain.Proficiency{"logo-design": domain.ProficiencyJunior}
				return w
			}(),
			requiredSkills: []string{"logo-design"},
			category:       domain.CategoryDesign,
			want:           0.8 * 0.7,
		},
		{
			name:           "partial skill coverage",
			worker:         availableWorker("w1", "logo-design"),
			requiredSkills: []string{"logo-design", "branding"},
			category:       domain.CategoryWriting,
			want:           0.8 * 0.85 / 2,
		},
		{
			name:           "no overlap scores zero",
			worker:         availableWorker("w1", "video-editing"),
			requiredSkills: []string{"logo-design"},
			category:       domain.CategoryDesign,
			want:           0,
		},
		{
			name:           "no required skills leaves only category affinity",
			worker:         availableWorker("w1", "design"),
			requiredSkills: nil,
			category:       domain.CategoryDesign,
			want:           0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(cfg, &tt.worker, tt.requiredSkills, tt.category)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSelect_EligibilityGates(t *testing.T) {
	cfg := DefaultConfig()
	skills := []string{"logo-design"}

	t.Run("offline workers are excluded", func(t *testing.T) {
		w := availableWorker("w1", "logo-design", "design")
		w.Availability = domain.AvailabilityOffline

		result := Select(cfg, []domain.Worker{w}, skills, domain.CategoryDesign)
		require.Nil(t, result.Worker)
		assert.Equal(t, ReasonNoEligibleWorkers, result.Reason)
	})

	t.Run("inactive workers are excluded", func(t *testing.T) {
		w := availableWorker("w1", "logo-design", "design")
		w.Active = false

		result := Select(cfg, []domain.Worker{w}, skills, domain.CategoryDesign)
		require.Nil(t, result.Worker)
		assert.Equal(t, ReasonNoEligibleWorkers, result.Reason)
	})

	t.Run("at-capacity workers are excluded", func(t *testing.T) {
		w := availableWorker("w1", "logo-design", "design")
		w.CurrentJobCount = w.MaxConcurrentJobs

		result := Select(cfg, []domain.Worker{w}, skills, domain.CategoryDesign)
		require.Nil(t, result.Worker)
		assert.Equal(t, ReasonNoEligibleWorkers, result.Reason)
	})

	t.Run("busy but below capacity is still eligible", func(t *testing.T) {
		w := availableWorker("w1", "logo-design", "design")
		w.Availability = domain.AvailabilityBusy
		w.CurrentJobCount = 1

		result := Select(cfg, []domain.Worker{w}, skills, domain.CategoryDesign)
		require.NotNil(t, result.Worker)
		assert.Equal(t, "w1", result.Worker.WorkerID)
	})
}

func TestSelect_Threshold(t *testing.T) {
	cfg := DefaultConfig()

	// Eligible but unqualified: no skill overlap, no category affinity
	w := availableWorker("w1", "video-editing")

	result := Select(cfg, []domain.Worker{w}, []string{"logo-design"}, domain.CategoryDesign)
	require.Nil(t, result.Worker)
	assert.Equal(t, ReasonBelowThreshold, result.Reason)
}

func TestSelect_TieBreaks(t *testing.T) {
	cfg := DefaultConfig()
	skills := []string{"logo-design"}

	t.Run("lower current load wins", func(t *testing.T) {
		w1 := availableWorker("busy", "logo-design", "design")
		w1.CurrentJobCount = 2
		w2 := availableWorker("idle", "logo-design", "design")

		result := Select(cfg, []domain.Worker{w1, w2}, skills, domain.CategoryDesign)
		require.NotNil(t, result.Worker)
		assert.Equal(t, "idle", result.Worker.WorkerID)
	})

	t.Run("more completed jobs wins at equal load", func(t *testing.T) {
		w1 := availableWorker("veteran", "logo-design", "design")
		w1.CompletedJobs = 40
		w2 := availableWorker("rookie", "logo-design", "design")
		w2.CompletedJobs = 2

		result := Select(cfg, []domain.Worker{w2, w1}, skills, domain.CategoryDesign)
		require.NotNil(t, result.Worker)
		assert.Equal(t, "veteran", result.Worker.WorkerID)
	})

	t.Run("higher rating wins at equal load and completions", func(t *testing.T) {
		w1 := availableWorker("good", "logo-design", "design")
		w1.AvgRating = 4.2
		w2 := availableWorker("great", "logo-design", "design")
		w2.AvgRating = 4.9

		result := Select(cfg, []domain.Worker{w1, w2}, skills, domain.CategoryDesign)
		require.NotNil(t, result.Worker)
		assert.Equal(t, "great", result.Worker.WorkerID)
	})

	t.Run("higher score beats better tie-break stats", func(t *testing.T) {
		partial := availableWorker("partial", "logo-design")
		partial.AvgRating = 5.0
		full := availableWorker("full", "logo-design", "design")

		result := Select(cfg, []domain.Worker{partial, full}, skills, domain.CategoryDesign)
		require.NotNil(t, result.Worker)
		assert.Equal(t, "full", result.Worker.WorkerID)
	})
}

func TestSelect_Empty(t *testing.T) {
	result := Select(DefaultConfig(), nil, []string{"logo-design"}, domain.CategoryDesign)
	require.Nil(t, result.Worker)
	assert.Equal(t, ReasonNoEligibleWorkers, result.Reason)
}
