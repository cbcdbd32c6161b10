package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// hashModel names the deterministic offline backend. The sanity probe
// rejects it in pilot mode.
const hashModel = "hash"

// HashService is a deterministic offline embedding backend for local
// development and tests. Vectors are derived from content hashes and carry
// no semantic signal, so it must never run in pilot deployments.
type HashService struct {
	dims int
}

// NewHashService creates a hash-based embedding service
func NewHashService(dims int) *HashService {
	if dims <= 0 {
		dims = 64
	}
	return &HashService{dims: dims}
}

// Generate derives a unit vector from the text's hash
func (h *HashService) Generate(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	seed := sha256.Sum256([]byte(text))

	buf := seed[:]
	for i := 0; i < h.dims; i++ {
		if len(buf) < 8 {
			next := sha256.Sum256(buf)
			buf = next[:]
		}
		bits := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		// Map to [-1, 1]
		vec[i] = float64(int64(bits))/float64(1<<63)
	}
	return Normalize(vec), nil
}

// GenerateBatch embeds each text independently
func (h *HashService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := h.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding vector size
func (h *HashService) Dimensions() int { return h.dims }

// Model returns the hash backend marker
func (h *HashService) Model() string { return hashModel }

// HealthCheck always succeeds
func (h *HashService) HealthCheck(_ context.Context) error { return nil }
