package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Match is one ranked result from a vector index query.
type Match struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]string
}

// VectorIndex stores embedding vectors with owner-scoped metadata and answers
// nearest-neighbor queries filtered to a single owner.
type VectorIndex interface {
	Upsert(ctx context.Context, id, ownerID string, vector []float32, content string, metadata map[string]string) error
	Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error)
	Delete(ctx context.Context, ids ...string) error
	DeleteByOwner(ctx context.Context, ownerID string) error
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// zero-length or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type memoryRecord struct {
	ownerID  string
	vector   []float32
	content  string
	metadata map[string]string
}

// MemoryIndex is an in-process VectorIndex used in tests and single-node
// deployments without Redis.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]memoryRecord)}
}

var _ VectorIndex = (*MemoryIndex)(nil)

func (m *MemoryIndex) Upsert(_ context.Context, id, ownerID string, vector []float32, content string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[id] = memoryRecord{
		ownerID:  ownerID,
		vector:   append([]float32(nil), vector...),
		content:  content,
		metadata: metadata,
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, ownerID string, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for id, rec := range m.records {
		if rec.ownerID != ownerID {
			continue
		}
		matches = append(matches, Match{
			ID:       id,
			Score:    Cosine(vector, rec.vector),
			Content:  rec.content,
			Metadata: rec.metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryIndex) DeleteByOwner(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.records {
		if rec.ownerID == ownerID {
			delete(m.records, id)
		}
	}
	return nil
}
