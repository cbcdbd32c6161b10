package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/config"
	"memfuse/internal/embeddings"
	"memfuse/internal/llm"
	"memfuse/internal/storage"
	"memfuse/pkg/types"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Retrieval.SimilarityThreshold = -1
	return cfg
}

func newTestOrchestrator(cfg *config.Config, store storage.VectorStore, generator llm.Client) *Orchestrator {
	embedder := embeddings.NewHashService(0)
	return NewOrchestrator(cfg, store, embedder, generator, nil, nil, nil)
}

func storeChunk(t *testing.T, store *storage.MockStore, chunk *types.Chunk) {
	t.Helper()
	if len(chunk.Embedding) == 0 {
		emb, err := embeddings.NewHashService(0).Generate(context.Background(), chunk.Content)
		require.NoError(t, err)
		chunk.Embedding = emb
	}
	require.NoError(t, store.Store(context.Background(), chunk))
}

func conversationChunk(id, sessionID string, age time.Duration) *types.Chunk {
	return &types.Chunk{
		ID:      id,
		Content: "we agreed on the rollout plan in turn " + id,
		Metadata: types.Metadata{
			SourceKind: types.SourceConversation,
			SourceID:   "conversation:" + sessionID + "#" + id,
			SessionID:  sessionID,
			ChunkType:  types.ChunkTypeConversationEvent,
			Timestamp:  testNow.Add(-age).UnixMilli(),
		},
	}
}

func knowledgeChunk(id, sourceID, content string) *types.Chunk {
	return &types.Chunk{
		ID:      id,
		Content: content,
		Metadata: types.Metadata{
			SourceKind:        types.SourceRepoFile,
			SourceID:          sourceID,
			ChunkType:         types.ChunkTypeDocumentation,
			ProvenanceVersion: types.CurrentProvenanceVersion,
			Timestamp:         testNow.Add(-24 * time.Hour).UnixMilli(),
		},
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	o := newTestOrchestrator(testConfig(), storage.NewMockStore(), nil)

	env, err := o.Retrieve(context.Background(), "how does grover search work", Options{})
	require.NoError(t, err)

	assert.Empty(t, env.MemoryCards)
	assert.False(t, env.HadCandidates)
	assert.Equal(t, 0.2, env.MemoryWeight)
	assert.Equal(t, 0.8, env.GeneralWeight)
	assert.Equal(t, 3, env.GKAllowance)
	assert.Equal(t, types.RoutingGeneralFirst, env.RoutingHint)
	assert.Equal(t, types.RationaleNoCandidates, env.Rationale)
}

func TestRetrieveConversationRecall(t *testing.T) {
	store := storage.NewMockStore()
	for i := 0; i < 3; i++ {
		storeChunk(t, store, conversationChunk(fmt.Sprintf("t%d", i), "s1", time.Duration(i+1)*time.Hour))
	}
	for i := 0; i < 100; i++ {
		storeChunk(t, store, knowledgeChunk(
			fmt.Sprintf("k%d", i),
			fmt.Sprintf("repo:memfuse/doc%d.md", i),
			fmt.Sprintf("knowledge document %d about deployment", i),
		))
	}

	o := newTestOrchestrator(testConfig(), store, nil)
	env, err := o.Retrieve(context.Background(), "what did we decide last week", Options{SessionID: "s1"})
	require.NoError(t, err)

	require.Len(t, env.MemoryCards, 3)
	assert.True(t, env.HadCandidates)
	assert.Equal(t, 1, env.Diagnostics.SessionsRepresented)
	for _, card := range env.MemoryCards {
		assert.Contains(t, card.SourceID, "conversation:s1")
		assert.Equal(t, 0.9, card.Salience)
	}
	assert.Equal(t, types.RoutingMemoryFirst, env.RoutingHint)
	assert.Contains(t, env.Rationale, "conversation recall")
}

func TestRetrieveRecallHonorsCoreCountOverride(t *testing.T) {
	store := storage.NewMockStore()
	for i := 0; i < 10; i++ {
		storeChunk(t, store, conversationChunk(fmt.Sprintf("t%d", i), "s1", time.Duration(i+1)*time.Hour))
	}

	o := newTestOrchestrator(testConfig(), store, nil)
	env, err := o.Retrieve(context.Background(), "what did we decide last week", Options{
		SessionID:      "s1",
		FinalCoreCount: 2,
	})
	require.NoError(t, err)
	assert.Len(t, env.MemoryCards, 2, "recall path respects the per-request core count")
}

func TestRetrieveCardTruncationKeepsValidUTF8(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieval.MaxMemoryLength = 10

	store := storage.NewMockStore()
	content := strings.Repeat("a", 9) + strings.Repeat("世", 4)
	storeChunk(t, store, knowledgeChunk("k1", "repo:memfuse/i18n.md", content))

	o := newTestOrchestrator(cfg, store, nil)
	env, err := o.Retrieve(context.Background(), "international deployment notes", Options{})
	require.NoError(t, err)

	require.NotEmpty(t, env.MemoryCards)
	card := env.MemoryCards[0]
	assert.True(t, utf8.ValidString(card.Content), "truncation never splits a rune")
	assert.Equal(t, strings.Repeat("a", 9)+"世", card.Content)
	assert.Equal(t, 10, utf8.RuneCountInString(card.Content))
}

func TestRetrieveKnowledgePathPopulatesDiagnostics(t *testing.T) {
	store := storage.NewMockStore()
	for i := 0; i < 8; i++ {
		storeChunk(t, store, knowledgeChunk(
			fmt.Sprintf("k%d", i),
			fmt.Sprintf("repo:memfuse/doc%d.md", i),
			fmt.Sprintf("retrieval scoring notes part %d", i),
		))
	}

	o := newTestOrchestrator(testConfig(), store, nil)
	env, err := o.Retrieve(context.Background(), "retrieval scoring notes", Options{})
	require.NoError(t, err)

	assert.True(t, env.HadCandidates)
	assert.NotEmpty(t, env.MemoryCards)
	assert.Equal(t, 8, env.Diagnostics.CandidateCount)
	assert.Equal(t, len(env.MemoryCards), env.Diagnostics.SelectedCount)
	assert.NotEmpty(t, env.Diagnostics.SourceHistogram)
	assert.NotEmpty(t, env.Diagnostics.Stages)

	stages := make([]string, 0, len(env.Diagnostics.Stages))
	for _, s := range env.Diagnostics.Stages {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{"intent", "retrieval", "salience", "diversity", "fusion"}, stages)
}

func TestRetrieveCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(testConfig(), storage.NewMockStore(), nil)
	env, err := o.Retrieve(ctx, "anything", Options{})
	require.NoError(t, err)

	assert.Empty(t, env.MemoryCards)
	assert.False(t, env.HadCandidates)
	assert.Equal(t, types.RationaleCancelled, env.Rationale)
	assert.Equal(t, types.RoutingGeneralFirst, env.RoutingHint)
}

func TestRetrieveStoreFailureDegrades(t *testing.T) {
	store := storage.NewMockStore()
	store.SearchErr = errors.New("connection refused")

	o := newTestOrchestrator(testConfig(), store, nil)
	env, err := o.Retrieve(context.Background(), "anything", Options{})
	require.NoError(t, err)

	assert.False(t, env.HadCandidates)
	assert.Equal(t, types.RationaleStoreUnavailable, env.Rationale)
	assert.Equal(t, types.RoutingGeneralFirst, env.RoutingHint)
}

func TestRetrieveOverloadedFastFails(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxInFlight = 1

	started := make(chan struct{})
	release := make(chan struct{})

	store := storage.NewMockStore()
	store.SearchFn = func(ctx context.Context, _ []float64, _ int, _ float64) ([]storage.SearchHit, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}

	o := newTestOrchestrator(cfg, store, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Retrieve(context.Background(), "slow query", Options{})
	}()

	<-started
	env, err := o.Retrieve(context.Background(), "second query", Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RationaleOverloaded, env.Rationale)
	assert.False(t, env.HadCandidates)

	close(release)
	<-done
}

func TestRetrieveEnforcesContextBudgets(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieval.MaxMemoryLength = 40
	cfg.Retrieval.MaxContextLength = 100

	store := storage.NewMockStore()
	for i := 0; i < 6; i++ {
		storeChunk(t, store, knowledgeChunk(
			fmt.Sprintf("k%d", i),
			fmt.Sprintf("repo:memfuse/doc%d.md", i),
			strings.Repeat("long content ", 30)+fmt.Sprintf("variant %d", i),
		))
	}

	o := newTestOrchestrator(cfg, store, nil)
	env, err := o.Retrieve(context.Background(), "long content", Options{})
	require.NoError(t, err)

	total := 0
	for _, card := range env.MemoryCards {
		assert.LessOrEqual(t, len(card.Content), 40)
		total += len(card.Content)
	}
	assert.LessOrEqual(t, total, 100)
	assert.NotEmpty(t, env.MemoryCards)
}

func TestRetrieveOrchestratorViewIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieval.FinalCoreCount = 4
	cfg.Retrieval.OrchestratorViewCount = 10

	store := storage.NewMockStore()
	for i := 0; i < 30; i++ {
		storeChunk(t, store, knowledgeChunk(
			fmt.Sprintf("k%02d", i),
			fmt.Sprintf("repo:memfuse/doc%02d.md", i),
			fmt.Sprintf("scoring deep dive %02d", i),
		))
	}

	o := newTestOrchestrator(cfg, store, nil)
	env, err := o.Retrieve(context.Background(), "scoring deep dive", Options{})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(env.MemoryCards), 4)
	assert.LessOrEqual(t, len(env.OrchestratorView), 10)
	assert.Greater(t, len(env.OrchestratorView), len(env.MemoryCards))
}

func TestAnswerRunsGeneratorAndFinalizes(t *testing.T) {
	store := storage.NewMockStore()
	storeChunk(t, store, knowledgeChunk("k1", "repo:memfuse/algo.md", "grover search gives a quadratic speedup"))

	generator := &llm.MockClient{Response: "Grover's algorithm gives quadratic speedup."}
	o := newTestOrchestrator(testConfig(), store, generator)

	text, env, err := o.Answer(context.Background(), "explain grover search speedup", Options{})
	require.NoError(t, err)
	require.NotNil(t, env)

	assert.Contains(t, text, "Grover's algorithm gives quadratic speedup.")
	assert.Contains(t, text, "CONFIDENCE:")
	assert.Contains(t, text, "NEXT_RETRIEVALS:")

	require.Len(t, generator.Calls, 1)
	prompt := generator.Calls[0][0].Content
	assert.Contains(t, prompt, "Retrieved memory")
}

func TestFinalizeAnswerIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(testConfig(), storage.NewMockStore(), nil)
	env := &types.FusionEnvelope{Coverage: 0.2, Diagnostics: types.Diagnostics{UniqueSources: 1}}

	once := o.FinalizeAnswer("Short answer.", "some query", env)
	twice := o.FinalizeAnswer(once, "some query", env)

	assert.Equal(t, once, twice)
	assert.Contains(t, once, "CONFIDENCE: low")
}

func TestBuildMessagesEncodesDirectives(t *testing.T) {
	env := &types.FusionEnvelope{
		MemoryWeight:  0.7,
		GeneralWeight: 0.3,
		GKAllowance:   0,
		RoutingHint:   types.RoutingMemoryFirst,
		MemoryCards: []types.MemoryCard{
			{Label: "[documentation] repo:memfuse/doc.md", Content: "the cache is an LRU"},
		},
	}

	messages := BuildMessages("how does the cache work", env)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "Do not add general-knowledge sentences")
	assert.Contains(t, messages[0].Content, "Lead with the retrieved memory")
	assert.Contains(t, messages[0].Content, "the cache is an LRU")
	assert.Equal(t, "how does the cache work", messages[1].Content)
}
