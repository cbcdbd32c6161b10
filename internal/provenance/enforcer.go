// Package provenance enforces the metadata schema on memory chunks: every
// chunk exposed to the pipeline carries a source kind, a deterministic source
// ID, event and ingest timestamps, a chunk type, and a schema version.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"memfuse/internal/logging"
	"memfuse/pkg/types"
)

// placeholderWindow is the tolerance used when deciding whether an existing
// timestamp is an ingest-time placeholder rather than a real event time.
const placeholderWindow = 60 * time.Minute

// DefaultClockSkew is the tolerated clock drift for future-dated timestamps
const DefaultClockSkew = 5 * time.Minute

// Extra-metadata keys consulted for event time inference, in priority order.
const (
	keyEventTime        = "event_time"
	keyCreatedAt        = "created_at"
	keyCommitTime       = "commit_time"
	keyFileCreatedAt    = "file_created_at"
	keyConversationTime = "conversation_timestamp"
	keyMessageTime      = "message_timestamp"
	keyUpdatedAt        = "updated_at"
	keyLegacyTimestamp  = "timestamp"
)

// Enforcer normalizes chunk metadata so the provenance invariants hold.
// Enforcement is idempotent: enforcing an already-enforced chunk is a no-op.
type Enforcer struct {
	classifier *Classifier
	logger     logging.Logger
	skew       time.Duration
	now        func() time.Time
}

// NewEnforcer creates a provenance enforcer
func NewEnforcer(classifier *Classifier, logger logging.Logger) *Enforcer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Enforcer{
		classifier: classifier,
		logger:     logger,
		skew:       DefaultClockSkew,
		now:        time.Now,
	}
}

// WithClock overrides the enforcer's clock. Intended for tests.
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// Enforce returns a copy of the chunk whose metadata satisfies the
// provenance invariants. It never fails on inference ambiguity; unresolvable
// event times are marked with timestamp_fallback instead.
func (e *Enforcer) Enforce(chunk types.Chunk) types.Chunk {
	now := e.now().UTC()
	m := chunk.Metadata

	if m.Extra == nil {
		m.Extra = map[string]interface{}{}
	}

	if !m.SourceKind.Valid() || m.SourceKind == "" {
		m.SourceKind = e.inferSourceKind(&chunk, &m)
	}

	if m.SourceID == "" {
		m.SourceID = DeriveSourceID(&chunk, &m)
	}

	if m.IngestedAt <= 0 {
		m.IngestedAt = now.UnixMilli()
	}

	e.enforceTimestamp(&chunk, &m, now)

	if m.ChunkType == "" || !m.ChunkType.Valid() {
		m.ChunkType = e.classifier.Classify(m.SourceKind, m.Path, chunk.Content)
	}

	if m.ProvenanceVersion == "" {
		m.ProvenanceVersion = types.CurrentProvenanceVersion
	} else if m.ProvenanceVersion != types.CurrentProvenanceVersion {
		m.ProvenanceUpgradedFrom = m.ProvenanceVersion
		m.ProvenanceVersion = types.CurrentProvenanceVersion
	}

	chunk.Metadata = m
	return chunk
}

// EnforceRaw decodes a raw metadata map into the typed schema and enforces
// it. Unknown keys are preserved under Extra rather than dropped.
func (e *Enforcer) EnforceRaw(id, content string, raw map[string]interface{}) (types.Chunk, error) {
	var m types.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &m,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return types.Chunk{}, fmt.Errorf("failed to build metadata decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return types.Chunk{}, fmt.Errorf("failed to decode metadata: %w", err)
	}

	// Keep the full raw map reachable for event-time inference
	if m.Extra == nil {
		m.Extra = map[string]interface{}{}
	}
	for k, v := range raw {
		if _, known := knownMetadataKeys[k]; !known {
			m.Extra[k] = v
		}
	}

	chunk := types.Chunk{ID: id, Content: content, Metadata: m}
	return e.Enforce(chunk), nil
}

var knownMetadataKeys = map[string]struct{}{
	"source_kind": {}, "source_id": {}, "timestamp": {}, "ingested_at": {},
	"chunk_type": {}, "provenance_version": {}, "session_id": {},
	"conversation_id": {}, "message_id": {}, "importance": {},
	"repository": {}, "path": {}, "url": {}, "timestamp_source": {},
	"timestamp_fallback": {}, "provenance_upgraded_from": {}, "extra": {},
}

// inferSourceKind infers the source kind from structural signals
func (e *Enforcer) inferSourceKind(chunk *types.Chunk, m *types.Metadata) types.SourceKind {
	switch {
	case m.ConversationID != "" || m.SessionID != "" || m.MessageID != "":
		return types.SourceConversation
	case m.URL != "":
		return types.SourceWeb
	case strings.EqualFold(filepath.Ext(m.Path), ".pdf"):
		return types.SourcePDF
	case m.Repository != "" || m.Path != "":
		return types.SourceRepoFile
	case m.ChunkType.IsConversational():
		return types.SourceConversation
	}

	if _, ok := m.Extra["email_id"]; ok {
		return types.SourceEmail
	}
	if _, ok := m.Extra["note_id"]; ok {
		return types.SourceNote
	}

	e.logger.Debug("source kind inference fell through", "chunk_id", chunk.ID)
	return types.SourceUnknown
}

// DeriveSourceID produces the canonical stable source identifier for a
// chunk. The derivation is deterministic: the same inputs always yield the
// same ID.
func DeriveSourceID(chunk *types.Chunk, m *types.Metadata) string {
	switch m.SourceKind {
	case types.SourceRepoFile:
		id := "repo:" + m.Repository + "/" + m.Path
		if hash := extraString(m.Extra, "content_hash"); hash != "" {
			id += "#" + hash
		}
		return id
	case types.SourceConversation:
		id := "conversation:" + m.ConversationID
		if m.ConversationID == "" {
			id = "conversation:" + m.SessionID
		}
		if m.MessageID != "" {
			id += "#" + m.MessageID
		}
		return id
	case types.SourceWeb:
		return "url:" + m.URL
	case types.SourcePDF:
		id := "pdf:" + filepath.Base(m.Path)
		if page := extraString(m.Extra, "page"); page != "" {
			id += "#page" + page
		}
		return id
	case types.SourceEmail:
		if emailID := extraString(m.Extra, "email_id"); emailID != "" {
			return "email:" + emailID
		}
		return "email:" + contentHash16(chunk, m)
	case types.SourceNote, types.SourceManual:
		if noteID := extraString(m.Extra, "note_id"); noteID != "" {
			return "note:" + noteID
		}
		return "note:" + contentHash16(chunk, m)
	default:
		return "unknown:" + contentHash16(chunk, m)
	}
}

// contentHash16 is the first 16 hex characters of the SHA-256 of the
// chunk's identifying fields, used when no natural identifier exists.
func contentHash16(chunk *types.Chunk, m *types.Metadata) string {
	h := sha256.Sum256([]byte(chunk.Content + "|" + chunk.ID + "|" + string(m.ChunkType) + "|" + strconv.FormatInt(m.Timestamp, 10)))
	return hex.EncodeToString(h[:])[:16]
}

// enforceTimestamp applies the event-time override policy. Explicit
// conversation timestamps are authoritative and never overwritten.
func (e *Enforcer) enforceTimestamp(chunk *types.Chunk, m *types.Metadata, now time.Time) {
	convTs, hasConvTs := firstTimestamp(m.Extra, keyConversationTime, keyMessageTime)

	// Conversation event times are authoritative.
	if m.TimestampSource == types.TimestampSourceConversationEvent {
		return
	}
	if m.SourceKind == types.SourceConversation && hasConvTs {
		if m.Timestamp <= 0 {
			m.Timestamp = convTs
		}
		m.TimestampSource = types.TimestampSourceConversationEvent
		return
	}

	inferred, hasInferred := firstTimestamp(m.Extra,
		keyEventTime, keyCreatedAt, keyCommitTime, keyFileCreatedAt,
		keyConversationTime, keyMessageTime, keyUpdatedAt, keyLegacyTimestamp)

	switch {
	case m.Timestamp <= 0 && hasInferred:
		m.Timestamp = inferred
		m.TimestampSource = types.TimestampSourceInferred
	case m.Timestamp <= 0:
		m.Timestamp = now.UnixMilli()
		m.TimestampSource = types.TimestampSourceFallbackNow
		m.TimestampFallback = true
		e.logger.Debug("no event time could be inferred", "chunk_id", chunk.ID)
	case hasInferred && shouldOverride(m.Timestamp, m.IngestedAt, inferred):
		m.Timestamp = inferred
		m.TimestampSource = types.TimestampSourceInferred
	default:
		if m.TimestampSource == "" {
			m.TimestampSource = types.TimestampSourceExisting
		}
	}

	// Future-dated timestamps beyond the skew tolerance are placeholders.
	if m.Timestamp > now.Add(e.skew).UnixMilli() {
		m.Timestamp = now.UnixMilli()
		m.TimestampSource = types.TimestampSourceFallbackNow
		m.TimestampFallback = true
	}
}

// shouldOverride reports whether an existing timestamp should be replaced by
// the inferred event time: either the existing value looks like an
// ingest-time placeholder, or event hints disagree with it materially.
func shouldOverride(existing, ingestedAt, inferred int64) bool {
	win := placeholderWindow.Milliseconds()
	looksLikePlaceholder := absDiff(existing, ingestedAt) <= win && absDiff(existing, inferred) > win
	hintsDisagree := absDiff(existing, inferred) > win
	return looksLikePlaceholder || hintsDisagree
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// firstTimestamp returns the first parseable timestamp among the named keys
func firstTimestamp(extra map[string]interface{}, keys ...string) (int64, bool) {
	for _, key := range keys {
		if ts, ok := parseTimestamp(extra[key]); ok {
			return ts, true
		}
	}
	return 0, false
}

// parseTimestamp accepts epoch millis (number or numeric string), epoch
// seconds, or RFC3339 strings.
func parseTimestamp(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return normalizeEpoch(t), t > 0
	case int:
		return normalizeEpoch(int64(t)), t > 0
	case float64:
		return normalizeEpoch(int64(t)), t > 0
	case string:
		if t == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return normalizeEpoch(n), n > 0
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UnixMilli(), true
		}
	}
	return 0, false
}

// normalizeEpoch promotes epoch-seconds values to milliseconds. Anything
// below ~Sep 2001 in millis is treated as seconds.
func normalizeEpoch(v int64) int64 {
	if v > 0 && v < 1_000_000_000_000 {
		return v * 1000
	}
	return v
}

func extraString(extra map[string]interface{}, key string) string {
	switch v := extra[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}
