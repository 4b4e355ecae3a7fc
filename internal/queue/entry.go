package queue

import (
	"context"
	"errors"
	"time"

	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/internal/notify"
)

// EntryKind identifies the payload type an entry carries.
type EntryKind string

const (
	KindAnalysis     EntryKind = "analysis"
	KindAutoAssign   EntryKind = "auto_assign"
	KindNotification EntryKind = "notification"
	KindWebhook      EntryKind = "webhook"
)

// AnalysisPayload requests requirement extraction and context retrieval for a
// newly submitted job.
type AnalysisPayload struct {
	JobID       string          `json:"job_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    domain.Category `json:"category"`
	ClientID    string          `json:"client_id"`
}

// AutoAssignPayload requests worker matching and assignment for an analyzed
// job.
type AutoAssignPayload struct {
	JobID       string          `json:"job_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    domain.Category `json:"category"`
}

// NotificationPayload requests one outbound notification dispatch.
type NotificationPayload struct {
	UserID string            `json:"user_id"`
	Email  string            `json:"email"`
	Type   notify.Type       `json:"type"`
	Data   map[string]string `json:"data"`
}

// WebhookPayload requests one signed callback delivery to a client-registered
// URL.
type WebhookPayload struct {
	JobID       string            `json:"job_id"`
	CallbackURL string            `json:"callback_url"`
	Event       string            `json:"event"`
	Data        map[string]string `json:"data"`
}

// Entry is the envelope a queue carries. Entries are owned exclusively by the
// fabric; stage handlers see them only for the duration of one attempt.
type Entry struct {
	ID          string
	Queue       string
	Kind        EntryKind
	Payload     any
	Attempts    int
	MaxAttempts int

	EnqueuedAt    time.Time
	NextAttemptAt time.Time
}

// FailureReason classifies why an entry was dead-lettered.
type FailureReason string

const (
	ReasonValidation            FailureReason = "validation"
	ReasonDependencyUnavailable FailureReason = "dependency_unavailable"
	ReasonTimeout               FailureReason = "timeout"
	ReasonUnknown               FailureReason = "unknown"
)

// ClassifyFailure maps a handler error onto the failure taxonomy and reports
// whether the entry should be retried. Business-rule and validation errors
// are never retried; timeouts retry like dependency failures; anything
// unrecognized retries conservatively before dead-lettering.
func ClassifyFailure(err error) (FailureReason, bool) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidWorker):
		return ReasonValidation, false

	case errors.Is(err, domain.ErrProviderTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout, true

	case domain.IsDependencyError(err):
		return ReasonDependencyUnavailable, true

	default:
		return ReasonUnknown, true
	}
}
