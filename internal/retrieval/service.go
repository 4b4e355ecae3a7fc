package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// Config holds retrieval tuning constants.
type Config struct {
	// TopK is the maximum number of context snippets per job.
	TopK int `yaml:"top_k"`

	// MinSimilarity is the similarity floor; weaker matches are dropped.
	MinSimilarity float64 `yaml:"min_similarity"`
}

// DefaultConfig returns the production retrieval constants.
func DefaultConfig() Config {
	return Config{
		TopK:          5,
		MinSimilarity: 0.35,
	}
}

// Service orchestrates embedding and vector lookup to produce ranked,
// worker-readable context from a client's past jobs. It never mutates Job or
// Worker records.
type Service struct {
	embedder Embedder
	index    VectorIndex
	config   Config
	logger   *slog.Logger
}

// NewService creates a context retrieval service.
func NewService(embedder Embedder, index VectorIndex, config Config, logger *slog.Logger) *Service {
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	return &Service{
		embedder: embedder,
		index:    index,
		config:   config,
		logger:   logger,
	}
}

// Retrieve embeds the job's title+description, queries the client's own
// context records, and formats the matches above the similarity floor in rank
// order. An empty string means no usable context, which is not an error.
func (s *Service) Retrieve(ctx context.Context, clientID, title, description string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("%w: client_id is required", domain.ErrValidation)
	}

	query := strings.TrimSpace(title + "\n\n" + description)
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}

	matches, err := s.index.Query(ctx, vector, clientID, s.config.TopK)
	if err != nil {
		return "", err
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= s.config.MinSimilarity {
			kept = append(kept, m)
		}
	}

	if len(kept) == 0 {
		s.logger.Debug("No context matches above similarity floor",
			slog.String("client_id", clientID),
			slog.Int("raw_matches", len(matches)),
		)
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Context from this client's past jobs:\n")
	for i, m := range kept {
		fmt.Fprintf(&b, "\n%d. (similarity %.2f) %s\n", i+1, m.Score, m.Content)
	}

	return b.String(), nil
}

// IndexJob upserts a completed job into the client's context pool so future
// submissions can retrieve it.
func (s *Service) IndexJob(ctx context.Context, job *domain.Job) error {
	var parts []string
	parts = append(parts, job.Title, job.Description)
	for _, d := range job.Deliverables {
		parts = append(parts, "Delivered: "+d.Name)
	}
	content := strings.Join(parts, "\n")

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}

	metadata := map[string]string{
		"job_id":   job.JobID,
		"category": string(job.Category),
	}

	return s.index.Upsert(ctx, job.JobID, job.ClientID, vector, content, metadata)
}
