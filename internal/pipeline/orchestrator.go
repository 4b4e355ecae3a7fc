package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/taskloop/marketplace-be/internal/analysis"
	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/internal/lifecycle"
	"github.com/taskloop/marketplace-be/internal/matching"
	"github.com/taskloop/marketplace-be/internal/notify"
	"github.com/taskloop/marketplace-be/internal/queue"
	"github.com/taskloop/marketplace-be/internal/store"
)

// autoAssignerID is recorded as the assigner on pipeline-driven assignments.
const autoAssignerID = "system:auto-assign"

// assignRaceRetries bounds in-handler reselection when a chosen worker loses
// a capacity race to a concurrent assignment.
const assignRaceRetries = 3

// ContextRetriever produces advisory context text for a new job. Failures
// are non-fatal to the analysis stage.
type ContextRetriever interface {
	Retrieve(ctx context.Context, clientID, title, description string) (string, error)
}

// WebhookSender delivers one callback to a client-registered URL.
type WebhookSender interface {
	Deliver(ctx context.Context, callbackURL, event string, data map[string]string) error
}

// Orchestrator owns the stage handlers that consume fabric entries, drive the
// external providers, and mutate job/worker records through the lifecycle
// service.
type Orchestrator struct {
	store     store.Store
	lifecycle *lifecycle.Service
	extractor analysis.Extractor
	retriever ContextRetriever
	notifier  notify.Sender
	webhooks  WebhookSender
	fabric    *queue.Fabric
	matchCfg  matching.Config
	logger    *slog.Logger
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store     store.Store
	Lifecycle *lifecycle.Service
	Extractor analysis.Extractor
	Retriever ContextRetriever
	Notifier  notify.Sender
	Webhooks  WebhookSender
	Fabric    *queue.Fabric
	Matching  matching.Config
	Logger    *slog.Logger
}

// New creates an orchestrator and registers its handlers on the fabric.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:     cfg.Store,
		lifecycle: cfg.Lifecycle,
		extractor: cfg.Extractor,
		retriever: cfg.Retriever,
		notifier:  cfg.Notifier,
		webhooks:  cfg.Webhooks,
		fabric:    cfg.Fabric,
		matchCfg:  cfg.Matching,
		logger:    cfg.Logger,
	}

	cfg.Fabric.Register(queue.Handlers{
		Analysis:     o.HandleAnalysis,
		AutoAssign:   o.HandleAutoAssign,
		Notification: o.HandleNotification,
		Webhook:      o.HandleWebhook,
	})

	return o
}

// HandleAnalysis claims a pending job, runs requirement extraction and
// context retrieval, merges the results, and hands the job to auto-assign.
// Context retrieval failures degrade gracefully; extraction failures re-raise
// into the queue's retry path with the job reverted to pending so it is never
// stuck in the analyzing marker.
func (o *Orchestrator) HandleAnalysis(ctx context.Context, entry *queue.Entry) error {
	payload, ok := entry.Payload.(queue.AnalysisPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for analysis entry", domain.ErrValidation)
	}

	_, err := o.store.TransitionJob(ctx, payload.JobID,
		[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusAnalyzing, store.JobUpdate{})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// Manual assignment or cancellation won the race; nothing to analyze
			o.logger.Info("Analysis skipped - job no longer pending",
				slog.String("job_id", payload.JobID),
			)
			return nil
		}
		if errors.Is(err, domain.ErrJobNotFound) {
			return fmt.Errorf("%w: job %s not found", domain.ErrValidation, payload.JobID)
		}
		return err
	}

	result, err := o.extractor.Extract(ctx, payload.Title, payload.Description, payload.Category)
	if err != nil {
		o.revertToPending(ctx, payload.JobID)
		return fmt.Errorf("requirement extraction failed: %w", err)
	}

	contextText := ""
	if o.retriever != nil {
		contextText, err = o.retriever.Retrieve(ctx, payload.ClientID, payload.Title, payload.Description)
		if err != nil {
			// Non-fatal: proceed without context
			o.logger.Warn("Context retrieval failed, proceeding without context",
				slog.String("job_id", payload.JobID),
				slog.Any("error", err),
			)
			contextText = ""
		}
	}

	upd := store.JobUpdate{Analysis: result}
	if contextText != "" {
		upd.ContextFromPastWork = &contextText
	}

	_, err = o.store.TransitionJob(ctx, payload.JobID,
		[]domain.JobStatus{domain.JobStatusAnalyzing}, domain.JobStatusPending, upd)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// Cancelled mid-analysis
			o.logger.Info("Analysis results dropped - job left analyzing state",
				slog.String("job_id", payload.JobID),
			)
			return nil
		}
		return err
	}

	o.logger.Info("Job analyzed",
		slog.String("job_id", payload.JobID),
		slog.Any("required_skills", result.RequiredSkills),
		slog.String("complexity", string(result.Complexity)),
		slog.Float64("confidence", result.Confidence),
	)

	return o.fabric.EnqueueAutoAssign(queue.AutoAssignPayload{
		JobID:       payload.JobID,
		Title:       payload.Title,
		Description: payload.Description,
		Category:    payload.Category,
	})
}

// revertToPending returns a job stuck in analyzing to the pending state so a
// failed stage always leaves it resumable.
func (o *Orchestrator) revertToPending(ctx context.Context, jobID string) {
	_, err := o.store.TransitionJob(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusAnalyzing}, domain.JobStatusPending, store.JobUpdate{})
	if err != nil && !errors.Is(err, domain.ErrInvalidState) {
		o.logger.Error("Failed to revert job to pending",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// HandleAutoAssign matches a pending job to the best eligible worker and
// performs the atomic assignment. No qualifying candidate is a skipped
// outcome, not a failure: the job stays pending for manual assignment.
func (o *Orchestrator) HandleAutoAssign(ctx context.Context, entry *queue.Entry) error {
	payload, ok := entry.Payload.(queue.AutoAssignPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for auto-assign entry", domain.ErrValidation)
	}

	job, err := o.store.GetJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return fmt.Errorf("%w: job %s not found", domain.ErrValidation, payload.JobID)
		}
		return err
	}

	if job.Status != domain.JobStatusPending || job.WorkerID != "" {
		// Manual assignment or cancellation already handled this job
		o.logger.Info("Auto-assign skipped - job no longer pending",
			slog.String("job_id", payload.JobID),
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	var requiredSkills []string
	var estimatedHours *float64
	if job.Analysis != nil {
		requiredSkills = job.Analysis.RequiredSkills
		if job.Analysis.EstimatedHours > 0 {
			estimatedHours = &job.Analysis.EstimatedHours
		}
	}

	for attempt := 0; attempt < assignRaceRetries; attempt++ {
		workers, err := o.store.ListWorkers(ctx)
		if err != nil {
			return err
		}

		result := matching.Select(o.matchCfg, workers, requiredSkills, job.Category)
		if result.Worker == nil {
			o.logger.Info("Auto-assign skipped - no qualifying worker",
				slog.String("job_id", payload.JobID),
				slog.String("reason", string(result.Reason)),
			)
			return nil
		}

		_, err = o.lifecycle.Assign(ctx, payload.JobID, result.Worker.WorkerID, autoAssignerID, estimatedHours)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidWorker) {
				// Lost a capacity race; refresh the snapshot and reselect
				o.logger.Warn("Auto-assign lost capacity race, reselecting",
					slog.String("job_id", payload.JobID),
					slog.String("worker_id", result.Worker.WorkerID),
					slog.Int("attempt", attempt+1),
				)
				continue
			}
			if errors.Is(err, domain.ErrInvalidState) {
				// Manual assignment won between the read and the write
				return nil
			}
			return err
		}

		o.logger.Info("Job auto-assigned",
			slog.String("job_id", payload.JobID),
			slog.String("worker_id", result.Worker.WorkerID),
			slog.Float64("score", result.Score),
		)

		o.enqueueAssignmentNotifications(job, result.Worker, estimatedHours)
		return nil
	}

	o.logger.Warn("Auto-assign gave up after repeated capacity races",
		slog.String("job_id", payload.JobID),
	)
	return nil
}

// enqueueAssignmentNotifications fires the worker notification and the client
// webhook after a successful assignment. Enqueue failures are logged, never
// propagated: notification problems must not disturb job state.
func (o *Orchestrator) enqueueAssignmentNotifications(job *domain.Job, worker *domain.Worker, estimatedHours *float64) {
	hours := job.EstimatedHours
	if estimatedHours != nil {
		hours = *estimatedHours
	}

	err := o.fabric.EnqueueNotification(queue.NotificationPayload{
		UserID: worker.WorkerID,
		Email:  worker.Email,
		Type:   notify.TypeJobAssigned,
		Data: map[string]string{
			"title":           job.Title,
			"estimated_hours": strconv.FormatFloat(hours, 'f', -1, 64),
		},
	})
	if err != nil {
		o.logger.Error("Failed to enqueue assignment notification",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	if job.CallbackURL != "" {
		err := o.fabric.EnqueueWebhook(queue.WebhookPayload{
			JobID:       job.JobID,
			CallbackURL: job.CallbackURL,
			Event:       "job.assigned",
			Data: map[string]string{
				"job_id":    job.JobID,
				"worker_id": worker.WorkerID,
			},
		})
		if err != nil {
			o.logger.Error("Failed to enqueue assignment webhook",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
	}
}

// HandleNotification renders and dispatches one outbound notification.
// Failures retry per the queue's backoff policy and dead-letter without
// touching job state.
func (o *Orchestrator) HandleNotification(ctx context.Context, entry *queue.Entry) error {
	payload, ok := entry.Payload.(queue.NotificationPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for notification entry", domain.ErrValidation)
	}

	if !payload.Type.Valid() {
		return fmt.Errorf("%w: unknown notification type %q", domain.ErrValidation, payload.Type)
	}
	if payload.Email == "" {
		return fmt.Errorf("%w: notification recipient email is required", domain.ErrValidation)
	}

	return o.notifier.Send(ctx, notify.Notification{
		Type:           payload.Type,
		RecipientEmail: payload.Email,
		Data:           payload.Data,
	})
}

// HandleWebhook delivers one callback to a client-registered URL.
func (o *Orchestrator) HandleWebhook(ctx context.Context, entry *queue.Entry) error {
	payload, ok := entry.Payload.(queue.WebhookPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for webhook entry", domain.ErrValidation)
	}

	if payload.CallbackURL == "" {
		return fmt.Errorf("%w: webhook callback URL is required", domain.ErrValidation)
	}

	return o.webhooks.Deliver(ctx, payload.CallbackURL, payload.Event, payload.Data)
}
