package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"memfuse/internal/artifact"
	"memfuse/internal/config"
	"memfuse/internal/embeddings"
	"memfuse/internal/logging"
	"memfuse/internal/provenance"
	"memfuse/internal/rfcerrors"
	"memfuse/internal/storage"
	"memfuse/pkg/types"
)

// Ingestor runs the ingestion side of the pipeline: provenance enforcement,
// type and artifact classification, embedding, and persistence.
type Ingestor struct {
	enforcer  *provenance.Enforcer
	artifacts *artifact.Classifier
	embedder  embeddings.Service
	store     storage.VectorStore
	logger    logging.Logger
}

// NewIngestor wires the ingestion path
func NewIngestor(cfg *config.Config, store storage.VectorStore, embedder embeddings.Service, logger logging.Logger) *Ingestor {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Ingestor{
		enforcer:  provenance.NewEnforcer(provenance.NewClassifier(), logger),
		artifacts: artifact.NewClassifier(cfg.Artifact.MinCategoryHits),
		embedder:  embedder,
		store:     store,
		logger:    logger.WithComponent("ingest"),
	}
}

// Ingest normalizes, classifies, embeds, and stores one chunk. The raw
// metadata map may be nil. Embedding failures skip the chunk and are
// returned to the caller; the store is never handed an unembedded chunk.
func (i *Ingestor) Ingest(ctx context.Context, id, content string, raw map[string]interface{}) (*types.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, rfcerrors.New(rfcerrors.CodeValidation, "chunk content cannot be empty")
	}
	if id == "" {
		id = uuid.New().String()
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	chunk, err := i.enforcer.EnforceRaw(id, content, raw)
	if err != nil {
		return nil, rfcerrors.Wrap(rfcerrors.CodeValidation, "invalid chunk metadata", err)
	}

	if chunk.Metadata.ChunkType.IsConversational() {
		i.annotateArtifact(&chunk)
	}

	emb, err := i.embedder.Generate(ctx, chunk.Content)
	if err != nil {
		i.logger.Warn("skipping chunk, embedding failed", "chunk_id", chunk.ID, "error", err)
		return nil, rfcerrors.EmbeddingFailure(err)
	}
	chunk.Embedding = emb

	if err := i.store.Store(ctx, &chunk); err != nil {
		return nil, rfcerrors.StoreUnavailable(err)
	}

	i.logger.Debug("chunk ingested",
		"chunk_id", chunk.ID,
		"source_kind", string(chunk.Metadata.SourceKind),
		"chunk_type", string(chunk.Metadata.ChunkType),
	)
	return &chunk, nil
}

// annotateArtifact records what a conversation chunk captured. Constraints
// and decisions are upgraded to high importance so scoring can favor them.
func (i *Ingestor) annotateArtifact(chunk *types.Chunk) {
	result := i.artifacts.Classify(chunk.Content)

	chunk.Metadata.Extra["artifact_type"] = string(result.ArtifactType)
	chunk.Metadata.Extra["artifact_confidence"] = result.Confidence
	if len(result.Extracted) > 0 {
		chunk.Metadata.Extra["artifact_extracted"] = result.Extracted
	}

	if chunk.Metadata.Importance == "" &&
		(result.ArtifactType == types.ArtifactConstraint || result.ArtifactType == types.ArtifactDecision) {
		chunk.Metadata.Importance = types.ImportanceHigh
	}
}
