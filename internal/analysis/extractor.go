package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// Extractor derives required skills, complexity, estimated hours, and a
// confidence score from a job's title, description, and category.
type Extractor interface {
	Extract(ctx context.Context, title, description string, category domain.Category) (*domain.Analysis, error)
}

// HTTPExtractorConfig configures the OpenAI-compatible extraction client.
type HTTPExtractorConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

const extractionPrompt = `You analyze marketplace job requests. Respond with a single JSON object:
{"required_skills": [..], "complexity": "basic"|"intermediate"|"advanced", "estimated_hours": <number>, "confidence": <0..1>}`

// HTTPExtractor calls a chat-completions endpoint and parses the strict JSON
// reply. A circuit breaker shields the pipeline from a down provider.
type HTTPExtractor struct {
	config  HTTPExtractorConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPExtractor creates an extraction client.
func NewHTTPExtractor(config HTTPExtractorConfig) *HTTPExtractor {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "extraction-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPExtractor{
		config:  config,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

var _ Extractor = (*HTTPExtractor)(nil)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, title, description string, category domain.Category) (*domain.Analysis, error) {
	if title == "" && description == "" {
		return nil, fmt.Errorf("%w: nothing to analyze", domain.ErrValidation)
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.call(ctx, title, description, category)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewDependencyError("extraction", err)
		}
		return nil, err
	}

	return result.(*domain.Analysis), nil
}

func (e *HTTPExtractor) call(ctx context.Context, title, description string, category domain.Category) (*domain.Analysis, error) {
	user := fmt.Sprintf("Category: %s\nTitle: %s\nDescription: %s", category, title, description)
	body, err := json.Marshal(chatRequest{
		Model: e.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: extraction call: %v", domain.ErrProviderTimeout, err)
		}
		return nil, domain.NewDependencyError("extraction", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("extraction provider returned %d: %s", resp.StatusCode, payload)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, domain.NewDependencyError("extraction", err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, domain.NewDependencyError("extraction", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return nil, domain.NewDependencyError("extraction", errors.New("empty completion"))
	}

	return parseAnalysis(decoded.Choices[0].Message.Content)
}

// parseAnalysis tolerates code fences around the JSON payload but rejects
// anything that does not decode to the expected shape.
func parseAnalysis(content string) (*domain.Analysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var a domain.Analysis
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return nil, domain.NewDependencyError("extraction", fmt.Errorf("unparseable analysis payload: %w", err))
	}

	if len(a.RequiredSkills) == 0 {
		return nil, domain.NewDependencyError("extraction", errors.New("analysis payload missing required skills"))
	}

	switch a.Complexity {
	case domain.ComplexityBasic, domain.ComplexityIntermediate, domain.ComplexityAdvanced:
	default:
		a.Complexity = domain.ComplexityIntermediate
	}

	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}

	return &a, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
