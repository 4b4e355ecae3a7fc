package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/taskloop/marketplace-be/internal/domain"
	"github.com/taskloop/marketplace-be/internal/notify"
	"github.com/taskloop/marketplace-be/internal/queue"
	"github.com/taskloop/marketplace-be/shared/rabbitmq"
)

// Consumer bridges the submissions exchange into the task queue fabric. It
// decodes envelopes from the API service and enqueues the matching fabric
// entry; the fabric owns all retry semantics from there.
type Consumer struct {
	rabbitClient  *rabbitmq.Client
	fabric        *queue.Fabric
	logger        *slog.Logger
	prefetchCount int
	consumerTag   string
}

// ConsumerConfig configures the submissions consumer.
type ConsumerConfig struct {
	RabbitClient  *rabbitmq.Client
	Fabric        *queue.Fabric
	Logger        *slog.Logger
	PrefetchCount int
	ConsumerTag   string
}

// NewConsumer creates a submissions consumer.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}
	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "dispatch-service"
	}
	return &Consumer{
		rabbitClient:  cfg.RabbitClient,
		fabric:        cfg.Fabric,
		logger:        cfg.Logger,
		prefetchCount: prefetch,
		consumerTag:   tag,
	}
}

// Start sets QoS, opens the delivery stream, and runs the dispatch loop until
// the context is canceled or the delivery channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	channel := c.rabbitClient.GetChannel()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(c.prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.rabbitClient.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Submissions consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Submissions consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			c.handleDelivery(delivery)
		}
	}
}

// handleDelivery routes one envelope into the fabric. Malformed envelopes are
// nacked without requeue; a full fabric buffer nacks with requeue so the
// broker redelivers once capacity frees up.
func (c *Consumer) handleDelivery(delivery amqp.Delivery) {
	env, err := rabbitmq.DecodeEnvelope(delivery.Body)
	if err != nil {
		c.logger.Error("Failed to decode envelope",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		c.nack(delivery, false)
		return
	}

	switch env.Kind {
	case rabbitmq.KindJobSubmitted:
		err = c.enqueueAnalysis(env.Payload)
	case rabbitmq.KindNotifyRequested:
		err = c.enqueueNotification(env.Payload)
	default:
		c.logger.Error("Unknown envelope kind",
			slog.String("kind", env.Kind),
		)
		c.nack(delivery, false)
		return
	}

	if err != nil {
		var malformed *malformedPayloadError
		if errors.As(err, &malformed) {
			c.logger.Error("Malformed envelope payload",
				slog.String("kind", env.Kind),
				slog.String("error", err.Error()),
			)
			c.nack(delivery, false)
			return
		}

		c.logger.Warn("Fabric rejected entry, requeueing delivery",
			slog.String("kind", env.Kind),
			slog.Any("error", err),
		)
		c.nack(delivery, true)
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ACK delivery",
			slog.String("error", ackErr.Error()),
		)
	}
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK delivery",
			slog.String("error", err.Error()),
		)
	}
}

type malformedPayloadError struct {
	err error
}

func (e *malformedPayloadError) Error() string { return e.err.Error() }
func (e *malformedPayloadError) Unwrap() error { return e.err }

func (c *Consumer) enqueueAnalysis(raw json.RawMessage) error {
	var p struct {
		JobID       string `json:"job_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Category    string `json:"category"`
		ClientID    string `json:"client_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return &malformedPayloadError{err: err}
	}
	if p.JobID == "" {
		return &malformedPayloadError{err: fmt.Errorf("job_submitted payload has no job_id")}
	}

	return c.fabric.EnqueueAnalysis(queue.AnalysisPayload{
		JobID:       p.JobID,
		Title:       p.Title,
		Description: p.Description,
		Category:    domain.Category(p.Category),
		ClientID:    p.ClientID,
	})
}

func (c *Consumer) enqueueNotification(raw json.RawMessage) error {
	var p struct {
		UserID string            `json:"user_id"`
		Email  string            `json:"email"`
		Type   string            `json:"type"`
		Data   map[string]string `json:"data"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return &malformedPayloadError{err: err}
	}
	if p.Email == "" {
		return &malformedPayloadError{err: fmt.Errorf("notify_requested payload has no email")}
	}

	return c.fabric.EnqueueNotification(queue.NotificationPayload{
		UserID: p.UserID,
		Email:  p.Email,
		Type:   notify.Type(p.Type),
		Data:   p.Data,
	})
}
