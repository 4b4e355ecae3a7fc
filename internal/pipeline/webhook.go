package pipeline

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// HTTPWebhookConfig configures outbound callback delivery.
type HTTPWebhookConfig struct {
	// Secret signs each payload; clients verify via the X-Taskloop-Signature
	// header (hex HMAC-SHA256 of the request body).
	Secret  string
	Timeout time.Duration
}

// HTTPWebhookSender delivers signed JSON callbacks to client-registered URLs.
type HTTPWebhookSender struct {
	config HTTPWebhookConfig
	client *http.Client
}

// NewHTTPWebhookSender creates a webhook delivery client.
func NewHTTPWebhookSender(config HTTPWebhookConfig) *HTTPWebhookSender {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPWebhookSender{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookBody struct {
	Event     string            `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// Deliver posts one event to the callback URL. Non-2xx responses from the
// receiver count as dependency failures so the queue retries them.
func (s *HTTPWebhookSender) Deliver(ctx context.Context, callbackURL, event string, data map[string]string) error {
	body, err := json.Marshal(webhookBody{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode webhook body: %v", domain.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: invalid callback URL: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Secret != "" {
		req.Header.Set("X-Taskloop-Signature", sign(s.config.Secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("webhook delivery to %s: %w", callbackURL, domain.ErrProviderTimeout)
		}
		return domain.NewDependencyError("webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.NewDependencyError("webhook",
			fmt.Errorf("receiver returned status %d", resp.StatusCode))
	}
	return fmt.Errorf("%w: webhook receiver rejected delivery with status %d", domain.ErrValidation, resp.StatusCode)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
