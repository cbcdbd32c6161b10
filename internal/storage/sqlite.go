package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"memfuse/internal/embeddings"
	"memfuse/internal/logging"
	"memfuse/pkg/types"
)

// SQLiteStore implements VectorStore on an embedded SQLite database. Search
// is brute-force cosine over all rows, which is fine for the single-node
// deployments this backend targets.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger logging.Logger
}

// NewSQLiteStore creates a SQLite-backed vector store
func NewSQLiteStore(path string, logger logging.Logger) *SQLiteStore {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &SQLiteStore{path: path, logger: logger.WithComponent("sqlite")}
}

// Initialize opens the database and creates the schema
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id         TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		embedding  TEXT NOT NULL,
		metadata   TEXT NOT NULL,
		session_id TEXT,
		chunk_type TEXT,
		timestamp  INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_type ON chunks(chunk_type);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Store upserts a chunk with its embedding
func (s *SQLiteStore) Store(ctx context.Context, chunk *types.Chunk) error {
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("chunk %s has no embedding", chunk.ID)
	}

	embJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	metaJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, content, embedding, metadata, session_id, chunk_type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			session_id = excluded.session_id,
			chunk_type = excluded.chunk_type,
			timestamp = excluded.timestamp`,
		chunk.ID, chunk.Content, string(embJSON), string(metaJSON),
		chunk.Metadata.SessionID, string(chunk.Metadata.ChunkType), chunk.Metadata.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to store chunk: %w", err)
	}
	return nil
}

// SearchMemories scans all rows and ranks by cosine similarity
func (s *SQLiteStore) SearchMemories(ctx context.Context, embedding []float64, limit int, threshold float64) ([]SearchHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding cannot be empty")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding, metadata FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		chunk, emb, err := scanChunkRow(rows)
		if err != nil {
			s.logger.Error("failed to scan chunk row", "error", err)
			continue
		}

		sim := embeddings.CosineSimilarity(embedding, emb)
		if sim < threshold {
			continue
		}
		hits = append(hits, SearchHit{Chunk: *chunk, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// GetAllChunks returns every stored chunk
func (s *SQLiteStore) GetAllChunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding, metadata FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		chunk, _, err := scanChunkRow(rows)
		if err != nil {
			s.logger.Error("failed to scan chunk row", "error", err)
			continue
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("sqlite database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanChunkRow(rows *sql.Rows) (*types.Chunk, []float64, error) {
	var (
		id, content, embJSON, metaJSON string
	)
	if err := rows.Scan(&id, &content, &embJSON, &metaJSON); err != nil {
		return nil, nil, err
	}

	var emb []float64
	if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
		return nil, nil, fmt.Errorf("bad embedding for chunk %s: %w", id, err)
	}
	var meta types.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, nil, fmt.Errorf("bad metadata for chunk %s: %w", id, err)
	}

	return &types.Chunk{ID: id, Content: content, Metadata: meta, Embedding: emb}, emb, nil
}
