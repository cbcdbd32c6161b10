package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/embeddings"
	"memfuse/internal/rfcerrors"
	"memfuse/internal/storage"
	"memfuse/pkg/types"
)

// failingEmbedder errors on every Generate call
type failingEmbedder struct {
	*embeddings.HashService
}

func (failingEmbedder) Generate(_ context.Context, _ string) ([]float64, error) {
	return nil, errors.New("backend down")
}

func TestIngestEnforcesProvenanceAndStores(t *testing.T) {
	store := storage.NewMockStore()
	ingestor := NewIngestor(testConfig(), store, embeddings.NewHashService(0), nil)

	chunk, err := ingestor.Ingest(context.Background(), "", "The retry budget is capped at three attempts.", map[string]interface{}{
		"repository": "memfuse",
		"path":       "docs/retries.md",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, chunk.ID)
	assert.Equal(t, types.SourceRepoFile, chunk.Metadata.SourceKind)
	assert.Equal(t, "repo:memfuse/docs/retries.md", chunk.Metadata.SourceID)
	assert.Equal(t, types.CurrentProvenanceVersion, chunk.Metadata.ProvenanceVersion)
	assert.Positive(t, chunk.Metadata.Timestamp)
	assert.Positive(t, chunk.Metadata.IngestedAt)
	assert.NotEmpty(t, chunk.Embedding)
	assert.Equal(t, 1, store.Len())
}

func TestIngestAnnotatesConversationArtifacts(t *testing.T) {
	store := storage.NewMockStore()
	ingestor := NewIngestor(testConfig(), store, embeddings.NewHashService(0), nil)

	chunk, err := ingestor.Ingest(context.Background(), "",
		"We decided to use Qdrant rather than pgvector for the memory store.",
		map[string]interface{}{"session_id": "s1"},
	)
	require.NoError(t, err)

	assert.Equal(t, types.SourceConversation, chunk.Metadata.SourceKind)
	assert.Equal(t, types.ChunkTypeConversationEvent, chunk.Metadata.ChunkType)
	assert.Equal(t, string(types.ArtifactDecision), chunk.Metadata.Extra["artifact_type"])
	assert.Equal(t, types.ImportanceHigh, chunk.Metadata.Importance)
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	ingestor := NewIngestor(testConfig(), storage.NewMockStore(), embeddings.NewHashService(0), nil)

	_, err := ingestor.Ingest(context.Background(), "", "   ", nil)
	require.Error(t, err)
	assert.Equal(t, rfcerrors.CodeValidation, rfcerrors.CodeOf(err))
}

func TestIngestSkipsChunkOnEmbeddingFailure(t *testing.T) {
	store := storage.NewMockStore()
	ingestor := NewIngestor(testConfig(), store, failingEmbedder{embeddings.NewHashService(0)}, nil)

	_, err := ingestor.Ingest(context.Background(), "", "some content", nil)
	require.Error(t, err)
	assert.Equal(t, rfcerrors.CodeEmbeddingFailure, rfcerrors.CodeOf(err))
	assert.Zero(t, store.Len(), "failed chunks are never stored")
}

func TestIngestStoreFailure(t *testing.T) {
	store := storage.NewMockStore()
	store.StoreErr = errors.New("connection refused")
	ingestor := NewIngestor(testConfig(), store, embeddings.NewHashService(0), nil)

	_, err := ingestor.Ingest(context.Background(), "", "some content", nil)
	require.Error(t, err)
	assert.Equal(t, rfcerrors.CodeStoreUnavailable, rfcerrors.CodeOf(err))
}
