// Package retrieval implements candidate retrieval: a conversation-recall
// fast path that bypasses scoring, and a knowledge path that performs
// similarity search with optional semantic expansion.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"memfuse/internal/config"
	"memfuse/internal/embeddings"
	"memfuse/internal/logging"
	"memfuse/internal/rfcerrors"
	"memfuse/internal/storage"
	"memfuse/pkg/types"
)

// recallSalience is the uniform salience for recall-path candidates, which
// skip scoring and diversity enforcement entirely.
const recallSalience = 0.9

// similaritySlack tolerates float rounding before a similarity is flagged
// as out of range.
const similaritySlack = 1.0001

// Result carries retrieval output plus path-specific diagnostics
type Result struct {
	Candidates    []types.Candidate
	HadCandidates bool

	// RecallPath is set when the conversation-recall fast path served the
	// query; such candidates carry uniform salience and skip later stages
	RecallPath bool

	SessionsRepresented int
	TimelineSpanMinutes float64
	Warnings            []string
}

// Retriever fetches candidates from the vector store
type Retriever struct {
	store    storage.VectorStore
	embedder embeddings.Service
	cfg      *config.RetrievalConfig
	logger   logging.Logger
}

// NewRetriever creates a candidate retriever
func NewRetriever(store storage.VectorStore, embedder embeddings.Service, cfg *config.RetrievalConfig, logger logging.Logger) *Retriever {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.WithComponent("retrieval"),
	}
}

// Retrieve fetches candidates for a query. Conversation-recall intents take
// the fast path over stored conversation turns; everything else goes through
// similarity search. coreCount caps the recall path; zero or negative falls
// back to the configured final core count.
func (r *Retriever) Retrieve(ctx context.Context, query, sessionID string, intent types.IntentResult, coreCount int) (*Result, error) {
	if coreCount <= 0 {
		coreCount = r.cfg.FinalCoreCount
	}
	if intent.Intent == types.IntentConversationRecall {
		return r.retrieveRecall(ctx, sessionID, intent.Scope, coreCount)
	}
	return r.retrieveKnowledge(ctx, query)
}

// retrieveRecall serves conversation-recall queries directly from stored
// conversation chunks, newest first, with uniform salience.
func (r *Retriever) retrieveRecall(ctx context.Context, sessionID string, scope types.QueryScope, coreCount int) (*Result, error) {
	chunks, err := r.store.GetAllChunks(ctx)
	if err != nil {
		return nil, rfcerrors.StoreUnavailable(err)
	}

	var turns []types.Chunk
	for _, chunk := range chunks {
		if chunk.Metadata.SourceKind != types.SourceConversation && !chunk.Metadata.ChunkType.IsConversational() {
			continue
		}
		if scope == types.ScopeSession && sessionID != "" && chunk.Metadata.SessionID != sessionID {
			continue
		}
		turns = append(turns, chunk)
	}

	sort.Slice(turns, func(i, j int) bool {
		return turns[i].Metadata.Timestamp > turns[j].Metadata.Timestamp
	})
	if len(turns) > coreCount {
		turns = turns[:coreCount]
	}

	result := &Result{
		RecallPath:    true,
		HadCandidates: len(turns) > 0,
	}

	sessions := make(map[string]struct{})
	var minTs, maxTs int64
	for _, turn := range turns {
		if turn.Metadata.SessionID != "" {
			sessions[turn.Metadata.SessionID] = struct{}{}
		}
		ts := turn.Metadata.Timestamp
		if ts > 0 {
			if minTs == 0 || ts < minTs {
				minTs = ts
			}
			if ts > maxTs {
				maxTs = ts
			}
		}
		result.Candidates = append(result.Candidates, types.Candidate{
			Chunk:              turn,
			Salience:           recallSalience,
			BaselineSalience:   recallSalience,
			ProvenancePenalty:  1.0,
			TemporalMultiplier: 1.0,
		})
	}
	result.SessionsRepresented = len(sessions)
	if maxTs > minTs {
		result.TimelineSpanMinutes = float64(maxTs-minTs) / 60000.0
	}

	r.logger.Debug("recall path served query",
		"turns", len(turns), "sessions", result.SessionsRepresented, "scope", string(scope))
	return result, nil
}

// retrieveKnowledge embeds the query and performs similarity search with a
// deliberately low threshold; scoring decides what survives.
func (r *Retriever) retrieveKnowledge(ctx context.Context, query string) (*Result, error) {
	queryEmb, err := r.embedder.Generate(ctx, query)
	if err != nil {
		return nil, rfcerrors.EmbeddingFailure(err)
	}

	limit := r.cfg.InitialRetrievalCount
	if limit < 500 {
		limit = 500
	}

	hits, err := r.store.SearchMemories(ctx, queryEmb, limit, r.cfg.SimilarityThreshold)
	if err != nil {
		return nil, rfcerrors.StoreUnavailable(err)
	}

	result := &Result{}
	if r.cfg.ExpansionTopK > 0 && len(hits) > 0 {
		hits = r.expand(ctx, hits)
	}

	for _, hit := range hits {
		if math.Abs(hit.Similarity) > similaritySlack {
			warning := fmt.Sprintf("similarity %.4f outside [-1, 1] for chunk %s", hit.Similarity, hit.Chunk.ID)
			r.logger.Warn("similarity out of range", "similarity", hit.Similarity, "chunk_id", hit.Chunk.ID)
			result.Warnings = append(result.Warnings, warning)
		}
		result.Candidates = append(result.Candidates, types.Candidate{
			Chunk:      hit.Chunk,
			Similarity: hit.Similarity,
			Cos01:      (hit.Similarity + 1) / 2,
		})
	}
	result.HadCandidates = len(result.Candidates) > 0
	return result, nil
}

// expand re-queries the store with key terms drawn from the top hits and
// unions the results, capped at ExpansionCap. Expansion failures degrade to
// the original hit set.
func (r *Retriever) expand(ctx context.Context, hits []storage.SearchHit) []storage.SearchHit {
	topK := r.cfg.ExpansionTopK
	if topK > len(hits) {
		topK = len(hits)
	}

	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		seen[hit.Chunk.ID] = struct{}{}
	}

	for _, hit := range hits[:topK] {
		terms := keyTerms(hit.Chunk.Content, 8)
		if len(terms) == 0 {
			continue
		}

		emb, err := r.embedder.Generate(ctx, strings.Join(terms, " "))
		if err != nil {
			r.logger.Warn("expansion embedding failed", "error", err)
			continue
		}

		extra, err := r.store.SearchMemories(ctx, emb, topK*4, r.cfg.SimilarityThreshold)
		if err != nil {
			r.logger.Warn("expansion search failed", "error", err)
			continue
		}

		for _, e := range extra {
			if _, ok := seen[e.Chunk.ID]; ok {
				continue
			}
			seen[e.Chunk.ID] = struct{}{}
			hits = append(hits, e)
		}
	}

	if limit := r.cfg.ExpansionCap; limit > 0 && len(hits) > limit {
		sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
		hits = hits[:limit]
	}
	return hits
}

var (
	wordRe    = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{3,}`)
	stopWords = map[string]struct{}{
		"this": {}, "that": {}, "with": {}, "from": {}, "have": {}, "will": {},
		"when": {}, "then": {}, "than": {}, "they": {}, "their": {}, "there": {},
		"what": {}, "which": {}, "would": {}, "could": {}, "should": {},
		"about": {}, "because": {}, "been": {}, "being": {}, "into": {},
		"also": {}, "only": {}, "some": {}, "such": {}, "were": {}, "where": {},
	}
)

// keyTerms extracts up to n distinctive terms from text by frequency
func keyTerms(text string, n int) []string {
	counts := make(map[string]int)
	for _, word := range wordRe.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if _, stop := stopWords[lower]; stop {
			continue
		}
		counts[lower]++
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
