package storage

import (
	"context"
	"sort"
	"sync"

	"memfuse/internal/embeddings"
	"memfuse/pkg/types"
)

// MockStore is an in-memory VectorStore for tests and local development.
// Error injection fields let callers simulate backend failures.
type MockStore struct {
	mu     sync.RWMutex
	chunks map[string]types.Chunk

	// StoreErr, SearchErr, AllErr, and HealthErr are returned verbatim when set
	StoreErr  error
	SearchErr error
	AllErr    error
	HealthErr error

	// SearchFn overrides SearchMemories entirely when set
	SearchFn func(ctx context.Context, embedding []float64, limit int, threshold float64) ([]SearchHit, error)
}

// NewMockStore creates an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{chunks: make(map[string]types.Chunk)}
}

// Initialize is a no-op
func (m *MockStore) Initialize(_ context.Context) error { return nil }

// Store saves a chunk in memory
func (m *MockStore) Store(_ context.Context, chunk *types.Chunk) error {
	if m.StoreErr != nil {
		return m.StoreErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunk.ID] = *chunk
	return nil
}

// SearchMemories ranks stored chunks by cosine similarity
func (m *MockStore) SearchMemories(ctx context.Context, embedding []float64, limit int, threshold float64) ([]SearchHit, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, embedding, limit, threshold)
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []SearchHit
	for _, chunk := range m.chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		sim := embeddings.CosineSimilarity(embedding, chunk.Embedding)
		if sim < threshold {
			continue
		}
		hits = append(hits, SearchHit{Chunk: chunk, Similarity: sim})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// GetAllChunks returns every stored chunk
func (m *MockStore) GetAllChunks(_ context.Context) ([]types.Chunk, error) {
	if m.AllErr != nil {
		return nil, m.AllErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := make([]types.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	return chunks, nil
}

// HealthCheck reports the injected health error, if any
func (m *MockStore) HealthCheck(_ context.Context) error { return m.HealthErr }

// Close is a no-op
func (m *MockStore) Close() error { return nil }

// Len returns the number of stored chunks
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}
