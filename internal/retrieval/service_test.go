package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// fakeEmbedder returns a fixed vector regardless of input, or an error.
type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts {
		v, err := f.Embed(ctx, "")
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func testRetrievalService(embedder Embedder, index VectorIndex) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(embedder, index, DefaultConfig(), logger)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"partial", []float32{1, 0}, []float32{0.8, 0.6}, 0.8},
		{"dimension mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Inputs pass through float32, so tolerate its precision
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-6)
		})
	}
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("ranks matches and drops weak ones", func(t *testing.T) {
		index := NewMemoryIndex()
		require.NoError(t, index.Upsert(ctx, "r1", "client-1", []float32{1, 0}, "Spring logo refresh", nil))
		require.NoError(t, index.Upsert(ctx, "r2", "client-1", []float32{0.8, 0.6}, "Brand guidelines", nil))
		require.NoError(t, index.Upsert(ctx, "r3", "client-1", []float32{0, 1}, "Unrelated podcast edit", nil))

		svc := testRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, index)

		out, err := svc.Retrieve(ctx, "client-1", "New logo", "Another logo job")
		require.NoError(t, err)

		require.True(t, strings.HasPrefix(out, "Context from this client's past jobs:\n"))
		assert.Contains(t, out, "1. (similarity 1.00) Spring logo refresh")
		assert.Contains(t, out, "2. (similarity 0.80) Brand guidelines")
		assert.NotContains(t, out, "Unrelated podcast edit")
	})

	t.Run("only the owning client's records are visible", func(t *testing.T) {
		index := NewMemoryIndex()
		require.NoError(t, index.Upsert(ctx, "r1", "client-2", []float32{1, 0}, "Someone else's job", nil))

		svc := testRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, index)

		out, err := svc.Retrieve(ctx, "client-1", "New logo", "desc")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("no matches is not an error", func(t *testing.T) {
		svc := testRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, NewMemoryIndex())

		out, err := svc.Retrieve(ctx, "client-1", "New logo", "desc")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("missing client id", func(t *testing.T) {
		svc := testRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, NewMemoryIndex())

		_, err := svc.Retrieve(ctx, "", "New logo", "desc")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("embedder failure propagates", func(t *testing.T) {
		svc := testRetrievalService(&fakeEmbedder{err: errors.New("provider down")}, NewMemoryIndex())

		_, err := svc.Retrieve(ctx, "client-1", "New logo", "desc")
		require.Error(t, err)
	})
}

func TestIndexJob(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryIndex()
	svc := testRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, index)

	job := &domain.Job{
		JobID:       "job-1",
		ClientID:    "client-1",
		Title:       "Logo refresh",
		Description: "Refresh the spring logo",
		Category:    domain.CategoryDesign,
		Deliverables: []domain.Deliverable{
			{Name: "draft.png", Version: 1},
			{Name: "final.png", Version: 1},
		},
	}

	require.NoError(t, svc.IndexJob(ctx, job))

	matches, err := index.Query(ctx, []float32{1, 0}, "client-1", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "job-1", matches[0].ID)
	assert.Contains(t, matches[0].Content, "Logo refresh")
	assert.Contains(t, matches[0].Content, "Delivered: draft.png")
	assert.Contains(t, matches[0].Content, "Delivered: final.png")
	assert.Equal(t, "job-1", matches[0].Metadata["job_id"])
	assert.Equal(t, "design", matches[0].Metadata["category"])
}

func TestMemoryIndex_Delete(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryIndex()
	require.NoError(t, index.Upsert(ctx, "r1", "client-1", []float32{1, 0}, "a", nil))
	require.NoError(t, index.Upsert(ctx, "r2", "client-1", []float32{1, 0}, "b", nil))
	require.NoError(t, index.Upsert(ctx, "r3", "client-2", []float32{1, 0}, "c", nil))

	require.NoError(t, index.Delete(ctx, "r1"))
	matches, err := index.Query(ctx, []float32{1, 0}, "client-1", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, index.DeleteByOwner(ctx, "client-2"))
	matches, err = index.Query(ctx, []float32{1, 0}, "client-2", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
