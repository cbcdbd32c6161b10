// Package storage provides the vector store abstraction consumed by the
// candidate retriever, with Qdrant and embedded SQLite backends.
package storage

import (
	"context"

	"memfuse/pkg/types"
)

// SearchHit is a chunk returned from similarity search with its raw cosine
// similarity in [-1, 1].
type SearchHit struct {
	Chunk      types.Chunk `json:"chunk"`
	Similarity float64     `json:"similarity"`
}

// VectorStore defines the interface for vector database operations.
// Implementations must be safe for concurrent reads.
type VectorStore interface {
	// Initialize the store (open connections, create collections)
	Initialize(ctx context.Context) error

	// Store upserts a chunk with its embedding
	Store(ctx context.Context, chunk *types.Chunk) error

	// SearchMemories returns up to limit chunks whose cosine similarity to
	// the query embedding is at least threshold, best first
	SearchMemories(ctx context.Context, embedding []float64, limit int, threshold float64) ([]SearchHit, error)

	// GetAllChunks enumerates every chunk. Used only by the
	// conversation-recall fast path, which filters in memory.
	GetAllChunks(ctx context.Context) ([]types.Chunk, error)

	// HealthCheck verifies the store is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the connection
	Close() error
}
