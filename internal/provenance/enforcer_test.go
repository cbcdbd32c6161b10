package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/pkg/types"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestEnforcer() *Enforcer {
	return NewEnforcer(NewClassifier(), nil).WithClock(func() time.Time { return testNow })
}

func TestEnforcePopulatesAllRequiredFields(t *testing.T) {
	e := newTestEnforcer()

	chunk := types.Chunk{ID: "c1", Content: "some stored text without any metadata"}
	enforced := e.Enforce(chunk)

	require.NoError(t, enforced.Validate(testNow, DefaultClockSkew))
	assert.Equal(t, types.SourceUnknown, enforced.Metadata.SourceKind)
	assert.NotEmpty(t, enforced.Metadata.SourceID)
	assert.Greater(t, enforced.Metadata.Timestamp, int64(0))
	assert.Greater(t, enforced.Metadata.IngestedAt, int64(0))
	assert.True(t, enforced.Metadata.ChunkType.Valid())
	assert.Equal(t, types.CurrentProvenanceVersion, enforced.Metadata.ProvenanceVersion)
	assert.True(t, enforced.Metadata.TimestampFallback)
}

func TestEnforceIsIdempotent(t *testing.T) {
	e := newTestEnforcer()

	chunks := []types.Chunk{
		{ID: "c1", Content: "plain text"},
		{ID: "c2", Content: "repo content", Metadata: types.Metadata{
			Repository: "memfuse", Path: "internal/pipeline/orchestrator.go",
		}},
		{ID: "c3", Content: "we agreed on qdrant", Metadata: types.Metadata{
			SessionID: "s-9", ConversationID: "conv-1", MessageID: "m-4",
			Extra: map[string]interface{}{"conversation_timestamp": testNow.Add(-24 * time.Hour).UnixMilli()},
		}},
	}

	for _, chunk := range chunks {
		once := e.Enforce(chunk)
		twice := e.Enforce(once)
		assert.Equal(t, once, twice, "chunk %s", chunk.ID)
	}
}

func TestDeriveSourceIDFormats(t *testing.T) {
	tests := []struct {
		name string
		meta types.Metadata
		want string
	}{
		{
			name: "repo file",
			meta: types.Metadata{SourceKind: types.SourceRepoFile, Repository: "memfuse", Path: "docs/adr/001.md"},
			want: "repo:memfuse/docs/adr/001.md",
		},
		{
			name: "repo file with content hash",
			meta: types.Metadata{
				SourceKind: types.SourceRepoFile, Repository: "memfuse", Path: "main.go",
				Extra: map[string]interface{}{"content_hash": "abcd1234"},
			},
			want: "repo:memfuse/main.go#abcd1234",
		},
		{
			name: "conversation with message",
			meta: types.Metadata{SourceKind: types.SourceConversation, ConversationID: "conv-7", MessageID: "m-2"},
			want: "conversation:conv-7#m-2",
		},
		{
			name: "conversation falls back to session",
			meta: types.Metadata{SourceKind: types.SourceConversation, SessionID: "sess-1"},
			want: "conversation:sess-1",
		},
		{
			name: "web",
			meta: types.Metadata{SourceKind: types.SourceWeb, URL: "https://example.com/post"},
			want: "url:https://example.com/post",
		},
		{
			name: "pdf with page",
			meta: types.Metadata{
				SourceKind: types.SourcePDF, Path: "papers/grover.pdf",
				Extra: map[string]interface{}{"page": 3},
			},
			want: "pdf:grover.pdf#page3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk := types.Chunk{ID: "x", Content: "body"}
			assert.Equal(t, tt.want, DeriveSourceID(&chunk, &tt.meta))
		})
	}
}

func TestDeriveSourceIDUnknownUsesContentHash(t *testing.T) {
	chunk := types.Chunk{ID: "x", Content: "unidentifiable"}
	meta := types.Metadata{SourceKind: types.SourceUnknown}

	id := DeriveSourceID(&chunk, &meta)
	require.Len(t, id, len("unknown:")+16)
	assert.Equal(t, id, DeriveSourceID(&chunk, &meta))
}

func TestConversationEventTimeIsAuthoritative(t *testing.T) {
	e := newTestEnforcer()
	eventTime := testNow.Add(-48 * time.Hour).UnixMilli()

	chunk := types.Chunk{ID: "c1", Content: "turn", Metadata: types.Metadata{
		SourceKind: types.SourceConversation,
		SessionID:  "s-1",
		Extra:      map[string]interface{}{"conversation_timestamp": eventTime},
	}}

	enforced := e.Enforce(chunk)
	assert.Equal(t, eventTime, enforced.Metadata.Timestamp)
	assert.Equal(t, types.TimestampSourceConversationEvent, enforced.Metadata.TimestampSource)

	// A later enforcement with different hints must not move it
	enforced.Metadata.Extra["event_time"] = testNow.UnixMilli()
	again := e.Enforce(enforced)
	assert.Equal(t, eventTime, again.Metadata.Timestamp)
}

func TestPlaceholderTimestampOverriddenByEventHints(t *testing.T) {
	e := newTestEnforcer()
	ingested := testNow.Add(-time.Minute).UnixMilli()
	commitTime := testNow.Add(-90 * 24 * time.Hour).UnixMilli()

	chunk := types.Chunk{ID: "c1", Content: "package main", Metadata: types.Metadata{
		SourceKind: types.SourceRepoFile,
		Repository: "memfuse", Path: "main.go",
		Timestamp:  ingested,
		IngestedAt: ingested,
		Extra:      map[string]interface{}{"commit_time": commitTime},
	}}

	enforced := e.Enforce(chunk)
	assert.Equal(t, commitTime, enforced.Metadata.Timestamp)
	assert.Equal(t, types.TimestampSourceInferred, enforced.Metadata.TimestampSource)
	assert.False(t, enforced.Metadata.TimestampFallback)
}

func TestFutureTimestampFallsBackToNow(t *testing.T) {
	e := newTestEnforcer()

	chunk := types.Chunk{ID: "c1", Content: "from the future", Metadata: types.Metadata{
		SourceKind: types.SourceManual,
		Timestamp:  testNow.Add(48 * time.Hour).UnixMilli(),
	}}

	enforced := e.Enforce(chunk)
	assert.Equal(t, testNow.UnixMilli(), enforced.Metadata.Timestamp)
	assert.True(t, enforced.Metadata.TimestampFallback)
	assert.Equal(t, types.TimestampSourceFallbackNow, enforced.Metadata.TimestampSource)
}

func TestEnforceUpgradesProvenanceVersion(t *testing.T) {
	e := newTestEnforcer()

	chunk := types.Chunk{ID: "c1", Content: "old chunk", Metadata: types.Metadata{
		SourceKind:        types.SourceNote,
		ProvenanceVersion: "1.0.0",
	}}

	enforced := e.Enforce(chunk)
	assert.Equal(t, types.CurrentProvenanceVersion, enforced.Metadata.ProvenanceVersion)
	assert.Equal(t, "1.0.0", enforced.Metadata.ProvenanceUpgradedFrom)
}

func TestEnforceRawDecodesAndKeepsUnknownKeys(t *testing.T) {
	e := newTestEnforcer()

	raw := map[string]interface{}{
		"source_kind": "repo_file",
		"repository":  "memfuse",
		"path":        "README.md",
		"importance":  "high",
		"commit_time": testNow.Add(-time.Hour).UnixMilli(),
		"reviewer":    "ops",
	}

	chunk, err := e.EnforceRaw("c1", "# memfuse", raw)
	require.NoError(t, err)

	assert.Equal(t, types.SourceRepoFile, chunk.Metadata.SourceKind)
	assert.Equal(t, "repo:memfuse/README.md", chunk.Metadata.SourceID)
	assert.Equal(t, types.ImportanceHigh, chunk.Metadata.Importance)
	assert.Equal(t, types.ChunkTypeReadme, chunk.Metadata.ChunkType)
	assert.Equal(t, "ops", chunk.Metadata.Extra["reviewer"])
	assert.Contains(t, chunk.Metadata.Extra, "commit_time")
}

func TestParseTimestampFormats(t *testing.T) {
	millis := testNow.UnixMilli()

	tests := []struct {
		name  string
		input interface{}
		want  int64
		ok    bool
	}{
		{"epoch millis int64", millis, millis, true},
		{"epoch seconds", testNow.Unix(), testNow.Unix() * 1000, true},
		{"numeric string", "1700000000", int64(1700000000) * 1000, true},
		{"rfc3339", testNow.Format(time.RFC3339), testNow.UnixMilli(), true},
		{"empty string", "", 0, false},
		{"garbage", "not a time", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTimestamp(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
