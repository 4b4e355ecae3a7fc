package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
)

// Envelope kinds carried on the submissions exchange.
const (
	KindJobSubmitted    = "job_submitted"
	KindNotifyRequested = "notify_requested"
)

// Envelope is the wire frame for messages between the API service and the
// dispatch service. Payload stays opaque until the consumer dispatches on
// Kind.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// PublishEnvelope wraps a payload in an envelope and publishes it with the
// client's retry policy.
func (c *Client) PublishEnvelope(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	body, err := json.Marshal(Envelope{Kind: kind, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	return c.PublishWithRetry(ctx, body, "application/json")
}

// DecodeEnvelope parses one delivery body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("envelope has no kind")
	}
	return &env, nil
}
