package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// Embedder converts text into fixed-length numeric vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPEmbedderConfig configures the OpenAI-compatible embeddings client.
type HTTPEmbedderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPEmbedder calls an OpenAI-compatible /v1/embeddings endpoint. Calls run
// through a circuit breaker so a down provider fails fast into the queue's
// retry path instead of eating the stage's whole attempt budget.
type HTTPEmbedder struct {
	config  HTTPEmbedderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPEmbedder creates an embeddings client.
func NewHTTPEmbedder(config HTTPEmbedderConfig) *HTTPEmbedder {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPEmbedder{
		config:  config,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

var _ Embedder = (*HTTPEmbedder)(nil)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *HTTPEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", domain.ErrValidation)
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.call(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewDependencyError("embedding", err)
		}
		return nil, err
	}

	return result.([][]float32), nil
}

func (e *HTTPEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: embedding call: %v", domain.ErrProviderTimeout, err)
		}
		return nil, domain.NewDependencyError("embedding", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, payload)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, domain.NewDependencyError("embedding", err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, domain.NewDependencyError("embedding", fmt.Errorf("failed to decode response: %w", err))
	}

	if len(decoded.Data) != len(texts) {
		return nil, domain.NewDependencyError("embedding",
			fmt.Errorf("expected %d vectors, got %d", len(texts), len(decoded.Data)))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, domain.NewDependencyError("embedding",
				fmt.Errorf("vector index %d out of range", item.Index))
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
