package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/pkg/types"
)

func TestMockStoreSearchRanksBySimilarity(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, &types.Chunk{ID: "exact", Content: "a", Embedding: []float64{1, 0}}))
	require.NoError(t, store.Store(ctx, &types.Chunk{ID: "close", Content: "b", Embedding: []float64{0.9, 0.4}}))
	require.NoError(t, store.Store(ctx, &types.Chunk{ID: "far", Content: "c", Embedding: []float64{0, 1}}))
	require.NoError(t, store.Store(ctx, &types.Chunk{ID: "empty", Content: "d"}))

	hits, err := store.SearchMemories(ctx, []float64{1, 0}, 10, 0.1)
	require.NoError(t, err)

	require.Len(t, hits, 2, "orthogonal and embedding-less chunks are excluded")
	assert.Equal(t, "exact", hits[0].Chunk.ID)
	assert.Equal(t, "close", hits[1].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestMockStoreSearchHonorsLimit(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Store(ctx, &types.Chunk{ID: id, Embedding: []float64{1, 0}}))
	}

	hits, err := store.SearchMemories(ctx, []float64{1, 0}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestMockStoreUpsertsByID(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, &types.Chunk{ID: "x", Content: "old"}))
	require.NoError(t, store.Store(ctx, &types.Chunk{ID: "x", Content: "new"}))

	assert.Equal(t, 1, store.Len())
	chunks, err := store.GetAllChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "new", chunks[0].Content)
}

func TestMockStoreGetAllChunksSortedByID(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Store(ctx, &types.Chunk{ID: id}))
	}

	chunks, err := store.GetAllChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "a", chunks[0].ID)
	assert.Equal(t, "c", chunks[2].ID)
}

func TestMockStoreErrorInjection(t *testing.T) {
	store := NewMockStore()
	store.SearchErr = assert.AnError
	store.AllErr = assert.AnError
	store.HealthErr = assert.AnError
	ctx := context.Background()

	_, err := store.SearchMemories(ctx, []float64{1}, 10, 0)
	assert.ErrorIs(t, err, assert.AnError)

	_, err = store.GetAllChunks(ctx)
	assert.ErrorIs(t, err, assert.AnError)

	assert.ErrorIs(t, store.HealthCheck(ctx), assert.AnError)
}
