package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Queue names within the fabric.
const (
	QueueAnalysis     = "analysis"
	QueueAutoAssign   = "auto-assign"
	QueueNotification = "notifications"
	QueueWebhook      = "webhooks"
)

// Settings holds one queue's tunables in config form.
type Settings struct {
	Concurrency   int           `yaml:"concurrency"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	BufferSize    int           `yaml:"buffer_size"`
}

// FabricConfig configures all fabric queues.
type FabricConfig struct {
	Analysis     Settings `yaml:"analysis"`
	AutoAssign   Settings `yaml:"auto_assign"`
	Notification Settings `yaml:"notification"`
	Webhook      Settings `yaml:"webhook"`
}

// DefaultFabricConfig returns the production queue limits.
func DefaultFabricConfig() FabricConfig {
	return FabricConfig{
		Analysis:     Settings{Concurrency: 5, RatePerSecond: 10, MaxAttempts: 3, BaseBackoff: time.Second},
		AutoAssign:   Settings{Concurrency: 3, RatePerSecond: 5, MaxAttempts: 3, BaseBackoff: time.Second},
		Notification: Settings{Concurrency: 10, RatePerSecond: 20, MaxAttempts: 3, BaseBackoff: time.Second},
		Webhook:      Settings{Concurrency: 5, RatePerSecond: 10, MaxAttempts: 3, BaseBackoff: time.Second},
	}
}

// Fabric owns the stage queues and the Dead-Letter Store. It is constructed
// explicitly and injected into the orchestrator and the admin surface; there
// is no ambient queue state.
type Fabric struct {
	analysis     *Queue
	autoAssign   *Queue
	notification *Queue
	webhook      *Queue
	dlq          *DeadLetterStore
	logger       *slog.Logger
}

// NewFabric builds the queues and wires dead-letter retry back to them.
func NewFabric(config FabricConfig, logger *slog.Logger) *Fabric {
	dlq := NewDeadLetterStore(logger)

	build := func(name string, s Settings) *Queue {
		return newQueue(Config{
			Name:          name,
			Concurrency:   s.Concurrency,
			RatePerSecond: s.RatePerSecond,
			MaxAttempts:   s.MaxAttempts,
			BaseBackoff:   s.BaseBackoff,
			BufferSize:    s.BufferSize,
		}, dlq, logger)
	}

	f := &Fabric{
		analysis:     build(QueueAnalysis, config.Analysis),
		autoAssign:   build(QueueAutoAssign, config.AutoAssign),
		notification: build(QueueNotification, config.Notification),
		webhook:      build(QueueWebhook, config.Webhook),
		dlq:          dlq,
		logger:       logger,
	}

	dlq.setRequeue(func(queueName string, entry *Entry) error {
		q, err := f.queueByName(queueName)
		if err != nil {
			return err
		}
		entry.MaxAttempts = q.config.MaxAttempts
		return q.submit(entry)
	})

	return f
}

func (f *Fabric) queueByName(name string) (*Queue, error) {
	switch name {
	case QueueAnalysis:
		return f.analysis, nil
	case QueueAutoAssign:
		return f.autoAssign, nil
	case QueueNotification:
		return f.notification, nil
	case QueueWebhook:
		return f.webhook, nil
	default:
		return nil, fmt.Errorf("unknown queue %q", name)
	}
}

// Handlers binds one stage handler per queue.
type Handlers struct {
	Analysis     Handler
	AutoAssign   Handler
	Notification Handler
	Webhook      Handler
}

// Register installs the stage handlers. Must be called before Start.
func (f *Fabric) Register(h Handlers) {
	f.analysis.SetHandler(h.Analysis)
	f.autoAssign.SetHandler(h.AutoAssign)
	f.notification.SetHandler(h.Notification)
	f.webhook.SetHandler(h.Webhook)
}

// Start spawns all queue worker pools.
func (f *Fabric) Start(ctx context.Context) {
	f.analysis.Start(ctx)
	f.autoAssign.Start(ctx)
	f.notification.Start(ctx)
	f.webhook.Start(ctx)

	f.logger.Info("Task queue fabric started")
}

// Stop drains all queues.
func (f *Fabric) Stop() {
	f.analysis.Stop()
	f.autoAssign.Stop()
	f.notification.Stop()
	f.webhook.Stop()

	f.logger.Info("Task queue fabric stopped")
}

// EnqueueAnalysis submits a job for requirement extraction and context
// retrieval.
func (f *Fabric) EnqueueAnalysis(p AnalysisPayload) error {
	_, err := f.analysis.Enqueue(KindAnalysis, p)
	return err
}

// EnqueueAutoAssign submits an analyzed job for worker matching.
func (f *Fabric) EnqueueAutoAssign(p AutoAssignPayload) error {
	_, err := f.autoAssign.Enqueue(KindAutoAssign, p)
	return err
}

// EnqueueNotification submits an outbound notification dispatch.
func (f *Fabric) EnqueueNotification(p NotificationPayload) error {
	_, err := f.notification.Enqueue(KindNotification, p)
	return err
}

// EnqueueWebhook submits a callback delivery.
func (f *Fabric) EnqueueWebhook(p WebhookPayload) error {
	_, err := f.webhook.Enqueue(KindWebhook, p)
	return err
}

// DLQ exposes the dead-letter store to the admin surface.
func (f *Fabric) DLQ() *DeadLetterStore {
	return f.dlq
}

// Stats returns per-queue snapshots in fabric order.
func (f *Fabric) Stats() []Stats {
	return []Stats{
		f.analysis.Stats(),
		f.autoAssign.Stats(),
		f.notification.Stats(),
		f.webhook.Stats(),
	}
}
