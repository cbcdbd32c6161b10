package embeddings

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"memfuse/internal/config"
	"memfuse/internal/rfcerrors"
)

// modelDimensions maps known embedding models to their vector sizes
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIService generates embeddings via the OpenAI API
type OpenAIService struct {
	client  *openai.Client
	model   string
	dims    int
	timeout time.Duration
}

// NewOpenAIService creates an OpenAI-backed embedding service
func NewOpenAIService(cfg *config.OpenAIConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, rfcerrors.New(rfcerrors.CodeValidation, "OpenAI API key is required")
	}

	model := cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims, ok := modelDimensions[model]
	if !ok {
		dims = 1536
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIService{
		client:  openai.NewClient(cfg.APIKey),
		model:   model,
		dims:    dims,
		timeout: timeout,
	}, nil
}

// Generate creates an embedding for a single text
func (s *OpenAIService) Generate(ctx context.Context, text string) ([]float64, error) {
	results, err := s.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// GenerateBatch creates embeddings for multiple texts in one request
func (s *OpenAIService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, rfcerrors.New(rfcerrors.CodeValidation, "no texts to embed")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: texts,
	})
	if err != nil {
		return nil, rfcerrors.EmbeddingFailure(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, rfcerrors.Wrap(rfcerrors.CodeEmbeddingFailure,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)), nil)
	}

	out := make([][]float64, len(resp.Data))
	for i, item := range resp.Data {
		vec := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding vector size
func (s *OpenAIService) Dimensions() int { return s.dims }

// Model returns the embedding model name
func (s *OpenAIService) Model() string { return s.model }

// HealthCheck embeds a short probe string
func (s *OpenAIService) HealthCheck(ctx context.Context) error {
	_, err := s.Generate(ctx, "health check")
	return err
}
