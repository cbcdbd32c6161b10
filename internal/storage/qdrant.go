package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"memfuse/internal/config"
	"memfuse/internal/logging"
	"memfuse/pkg/types"
)

const defaultVectorSize = 1536

// QdrantStore implements VectorStore backed by a Qdrant collection.
// Chunk metadata travels as a JSON payload field so the schema can evolve
// without collection migrations; filterable keys are duplicated as flat
// payload fields.
type QdrantStore struct {
	client     *qdrant.Client
	cfg        *config.StoreConfig
	logger     logging.Logger
	collection string
}

// NewQdrantStore creates a Qdrant-backed vector store
func NewQdrantStore(cfg *config.StoreConfig, logger logging.Logger) *QdrantStore {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &QdrantStore{
		cfg:        cfg,
		logger:     logger.WithComponent("qdrant"),
		collection: cfg.QdrantCollection,
	}
}

// Initialize connects and creates the collection if missing
func (qs *QdrantStore) Initialize(ctx context.Context) error {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   qs.cfg.QdrantHost,
		Port:   qs.cfg.QdrantPort,
		APIKey: qs.cfg.QdrantAPIKey,
		UseTLS: qs.cfg.QdrantUseTLS,
	})
	if err != nil {
		return fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	qs.client = client

	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range collections {
		if name == qs.collection {
			return nil
		}
	}

	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qs.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(defaultVectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", qs.collection, err)
	}

	qs.logger.Info("created Qdrant collection", "collection", qs.collection)
	return nil
}

// Store upserts a chunk with its embedding
func (qs *QdrantStore) Store(ctx context.Context, chunk *types.Chunk) error {
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("chunk %s has no embedding", chunk.ID)
	}

	point, err := qs.chunkToPoint(chunk)
	if err != nil {
		return err
	}

	_, err = qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to store chunk in Qdrant: %w", err)
	}
	return nil
}

// SearchMemories performs cosine similarity search
func (qs *QdrantStore) SearchMemories(ctx context.Context, embedding []float64, limit int, threshold float64) ([]SearchHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding cannot be empty")
	}

	scored, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.collection,
		Query:          qdrant.NewQuery(float64ToFloat32(embedding)...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}

	hits := make([]SearchHit, 0, len(scored))
	for _, point := range scored {
		chunk, err := payloadToChunk(point.GetPayload(), pointIDToString(point.GetId()))
		if err != nil {
			qs.logger.Error("failed to convert point to chunk", "error", err, "point_id", point.GetId())
			continue
		}
		hits = append(hits, SearchHit{Chunk: *chunk, Similarity: float64(point.GetScore())})
	}
	return hits, nil
}

// GetAllChunks enumerates the collection via cursor scrolling
func (qs *QdrantStore) GetAllChunks(ctx context.Context) ([]types.Chunk, error) {
	var (
		chunks []types.Chunk
		offset *qdrant.PointId
	)

	for {
		points, err := qs.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: qs.collection,
			Limit:          qdrant.PtrOf(uint32(1000)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll collection: %w", err)
		}
		if len(points) == 0 {
			break
		}

		for _, point := range points {
			chunk, err := payloadToChunk(point.GetPayload(), pointIDToString(point.GetId()))
			if err != nil {
				qs.logger.Error("failed to convert point to chunk", "error", err)
				continue
			}
			chunks = append(chunks, *chunk)
		}

		if len(points) < 1000 {
			break
		}
		offset = points[len(points)-1].GetId()
	}

	return chunks, nil
}

// HealthCheck verifies the Qdrant connection
func (qs *QdrantStore) HealthCheck(ctx context.Context) error {
	if qs.client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}
	if _, err := qs.client.ListCollections(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Close releases the client connection
func (qs *QdrantStore) Close() error {
	if qs.client != nil {
		return qs.client.Close()
	}
	return nil
}

func (qs *QdrantStore) chunkToPoint(chunk *types.Chunk) (*qdrant.PointStruct, error) {
	metaJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk metadata: %w", err)
	}

	payload := map[string]*qdrant.Value{
		"content":    qdrant.NewValueString(chunk.Content),
		"metadata":   qdrant.NewValueString(string(metaJSON)),
		"source_id":  qdrant.NewValueString(chunk.Metadata.SourceID),
		"chunk_type": qdrant.NewValueString(string(chunk.Metadata.ChunkType)),
		"session_id": qdrant.NewValueString(chunk.Metadata.SessionID),
		"timestamp":  qdrant.NewValueInt(chunk.Metadata.Timestamp),
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(chunk.ID),
		Vectors: qdrant.NewVectors(float64ToFloat32(chunk.Embedding)...),
		Payload: payload,
	}, nil
}

func payloadToChunk(payload map[string]*qdrant.Value, id string) (*types.Chunk, error) {
	metaValue, ok := payload["metadata"]
	if !ok {
		return nil, fmt.Errorf("missing metadata payload for point %s", id)
	}

	var meta types.Metadata
	if err := json.Unmarshal([]byte(metaValue.GetStringValue()), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata for point %s: %w", id, err)
	}

	var content string
	if v, ok := payload["content"]; ok {
		content = v.GetStringValue()
	}

	return &types.Chunk{ID: id, Content: content, Metadata: meta}, nil
}

func pointIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
