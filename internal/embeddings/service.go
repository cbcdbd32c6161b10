package embeddings

import "context"

// Service generates text embeddings
type Service interface {
	// Generate creates an embedding for the given text
	Generate(ctx context.Context, text string) ([]float64, error)

	// GenerateBatch creates embeddings for multiple texts
	GenerateBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the embedding vector size
	Dimensions() int

	// Model names the backing embedding model
	Model() string

	// HealthCheck verifies the backend is reachable
	HealthCheck(ctx context.Context) error
}
