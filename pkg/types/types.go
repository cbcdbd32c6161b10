// Package types provides the core data structures for the retrieval and
// fusion pipeline: memory chunks, provenance metadata, per-query candidates,
// and the fusion envelope handed back to callers.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrentProvenanceVersion is the version written by the provenance enforcer.
// Chunks carrying an older version are penalized during scoring until they
// are re-enforced.
const CurrentProvenanceVersion = "1.1.0"

// SourceKind identifies where a chunk originally came from.
type SourceKind string

const (
	// SourceRepoFile is content ingested from a repository file
	SourceRepoFile SourceKind = "repo_file"
	// SourceConversation is content captured from a conversation turn or event
	SourceConversation SourceKind = "conversation"
	// SourceWeb is content fetched from a web page
	SourceWeb SourceKind = "web"
	// SourcePDF is content extracted from a PDF document
	SourcePDF SourceKind = "pdf"
	// SourceEmail is content ingested from an email message
	SourceEmail SourceKind = "email"
	// SourceNote is a user-authored note
	SourceNote SourceKind = "note"
	// SourceManual is content added explicitly by an operator
	SourceManual SourceKind = "manual"
	// SourceUnknown is the last-resort kind when inference fails
	SourceUnknown SourceKind = "unknown"
)

// Valid returns true if the source kind is valid
func (sk SourceKind) Valid() bool {
	switch sk {
	case SourceRepoFile, SourceConversation, SourceWeb, SourcePDF,
		SourceEmail, SourceNote, SourceManual, SourceUnknown:
		return true
	}
	return false
}

// ChunkType represents the semantic type of a memory chunk
type ChunkType string

const (
	// ChunkTypeReadme is a project README
	ChunkTypeReadme ChunkType = "readme"
	// ChunkTypeDocumentation is reference or conceptual documentation
	ChunkTypeDocumentation ChunkType = "documentation"
	// ChunkTypeTutorial is step-by-step instructional content
	ChunkTypeTutorial ChunkType = "tutorial"
	// ChunkTypeDecisionRationale records why a decision was made
	ChunkTypeDecisionRationale ChunkType = "decision_rationale"
	// ChunkTypeConstraintInvariant records a constraint or invariant that must hold
	ChunkTypeConstraintInvariant ChunkType = "constraint_invariant"
	// ChunkTypeArchitectureDecision is an ADR-style architectural decision
	ChunkTypeArchitectureDecision ChunkType = "architecture_decision"
	// ChunkTypeConversationEvent is a captured conversation turn or event
	ChunkTypeConversationEvent ChunkType = "conversation_event"
	// ChunkTypeDiscussionThread is a threaded discussion (email, forum)
	ChunkTypeDiscussionThread ChunkType = "discussion_thread"
	// ChunkTypeCodeImplementation is production source code
	ChunkTypeCodeImplementation ChunkType = "code_implementation"
	// ChunkTypeCodeExample is example or sample code
	ChunkTypeCodeExample ChunkType = "code_example"
	// ChunkTypeAPIReference is API reference material
	ChunkTypeAPIReference ChunkType = "api_reference"
	// ChunkTypePaperExcerpt is an excerpt from an academic paper
	ChunkTypePaperExcerpt ChunkType = "paper_excerpt"
	// ChunkTypeWebArticle is an article fetched from the web
	ChunkTypeWebArticle ChunkType = "web_article"
	// ChunkTypeResearchNote is a note with citations or research content
	ChunkTypeResearchNote ChunkType = "research_note"
	// ChunkTypeGeneralNote is a free-form note
	ChunkTypeGeneralNote ChunkType = "general_note"
	// ChunkTypeUnknown is the fallback when no rule matches
	ChunkTypeUnknown ChunkType = "unknown"

	// ChunkTypeConversationTurn is a legacy alias still present in older
	// stores; the retriever treats it the same as conversation_event.
	ChunkTypeConversationTurn ChunkType = "conversation_turn"
)

// Valid returns true if the chunk type is valid
func (ct ChunkType) Valid() bool {
	switch ct {
	case ChunkTypeReadme, ChunkTypeDocumentation, ChunkTypeTutorial,
		ChunkTypeDecisionRationale, ChunkTypeConstraintInvariant,
		ChunkTypeArchitectureDecision, ChunkTypeConversationEvent,
		ChunkTypeDiscussionThread, ChunkTypeCodeImplementation,
		ChunkTypeCodeExample, ChunkTypeAPIReference, ChunkTypePaperExcerpt,
		ChunkTypeWebArticle, ChunkTypeResearchNote, ChunkTypeGeneralNote,
		ChunkTypeUnknown, ChunkTypeConversationTurn:
		return true
	}
	return false
}

// IsConversational returns true for chunk types produced by conversation capture
func (ct ChunkType) IsConversational() bool {
	return ct == ChunkTypeConversationEvent || ct == ChunkTypeConversationTurn
}

// Importance marks how authoritative a chunk is considered
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Valid returns true if the importance level is valid
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// Authoritative returns true for importance levels that earn an authority boost
func (i Importance) Authoritative() bool {
	return i == ImportanceHigh || i == ImportanceCritical
}

// TimestampSource values recorded by the provenance enforcer.
const (
	// TimestampSourceInferred means the event time was inferred from metadata hints
	TimestampSourceInferred = "inferred_event_time"
	// TimestampSourceExisting means the pre-existing timestamp was kept
	TimestampSourceExisting = "existing"
	// TimestampSourceFallbackNow means no event time could be determined
	TimestampSourceFallbackNow = "fallback_now"
	// TimestampSourceConversationEvent marks explicit conversation timestamps,
	// which the enforcer never overrides
	TimestampSourceConversationEvent = "conversation_event_time"
)

// Metadata is the enforced provenance schema carried by every chunk.
// Timestamp and IngestedAt are milliseconds since the Unix epoch.
type Metadata struct {
	SourceKind        SourceKind `json:"source_kind"`
	SourceID          string     `json:"source_id"`
	Timestamp         int64      `json:"timestamp"`
	IngestedAt        int64      `json:"ingested_at"`
	ChunkType         ChunkType  `json:"chunk_type"`
	ProvenanceVersion string     `json:"provenance_version"`

	SessionID      string     `json:"session_id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	Importance     Importance `json:"importance,omitempty"`
	Repository     string     `json:"repository,omitempty"`
	Path           string     `json:"path,omitempty"`
	URL            string     `json:"url,omitempty"`

	// Enforcement markers
	TimestampSource        string `json:"timestamp_source,omitempty"`
	TimestampFallback      bool   `json:"timestamp_fallback,omitempty"`
	ProvenanceUpgradedFrom string `json:"provenance_upgraded_from,omitempty"`

	// Extra holds source-specific fields (event_time, created_at, page
	// numbers, ...) that the enforcer consults but does not normalize.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Validate checks the provenance invariants on enforced metadata.
// now is the reference clock; skew is the tolerated clock drift.
func (m *Metadata) Validate(now time.Time, skew time.Duration) error {
	if !m.SourceKind.Valid() {
		return fmt.Errorf("invalid source kind: %q", m.SourceKind)
	}
	if m.SourceID == "" {
		return errors.New("source_id cannot be empty")
	}
	if !m.ChunkType.Valid() {
		return fmt.Errorf("invalid chunk type: %q", m.ChunkType)
	}
	if m.ProvenanceVersion == "" {
		return errors.New("provenance_version cannot be empty")
	}
	if m.Timestamp < 0 {
		return errors.New("timestamp cannot be negative")
	}
	if m.IngestedAt <= 0 {
		return errors.New("ingested_at must be set")
	}
	if m.Timestamp > now.Add(skew).UnixMilli() {
		return fmt.Errorf("timestamp %d is beyond clock skew tolerance", m.Timestamp)
	}
	return nil
}

// Chunk is the unit of persisted memory exposed to the pipeline
type Chunk struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

// NewChunk creates a chunk with a fresh ID and the current provenance version.
// The caller is expected to run the chunk through the provenance enforcer
// before exposing it to the pipeline.
func NewChunk(content string) *Chunk {
	return &Chunk{
		ID:      uuid.New().String(),
		Content: content,
		Metadata: Metadata{
			ProvenanceVersion: CurrentProvenanceVersion,
		},
	}
}

// Validate checks the chunk and its metadata against the provenance invariants
func (c *Chunk) Validate(now time.Time, skew time.Duration) error {
	if c.ID == "" {
		return errors.New("chunk ID cannot be empty")
	}
	if strings.TrimSpace(c.Content) == "" {
		return errors.New("chunk content cannot be empty")
	}
	return c.Metadata.Validate(now, skew)
}

// EventTime returns the chunk's event timestamp as a time.Time
func (c *Chunk) EventTime() time.Time {
	return time.UnixMilli(c.Metadata.Timestamp).UTC()
}

// AgeDays returns the chunk age in days relative to now. A zero or invalid
// timestamp yields a negative value so callers can detect it.
func (c *Chunk) AgeDays(now time.Time) float64 {
	if c.Metadata.Timestamp <= 0 {
		return -1
	}
	return now.Sub(c.EventTime()).Hours() / 24.0
}

// Candidate is a chunk under consideration for a specific query.
// Candidates are ephemeral and owned by the query's worker.
type Candidate struct {
	Chunk              Chunk   `json:"chunk"`
	Similarity         float64 `json:"similarity"` // raw cosine in [-1, 1]
	Cos01              float64 `json:"cos01"`      // normalized to [0, 1]
	Salience           float64 `json:"salience"`
	BaselineSalience   float64 `json:"baseline_salience"`
	ProvenancePenalty  float64 `json:"provenance_penalty"`
	TemporalMultiplier float64 `json:"temporal_multiplier"`
	LowConfidence      bool    `json:"low_confidence,omitempty"`
}

// MemoryCard is a prompt-ready slice of memory with its scoring context
type MemoryCard struct {
	Label         string  `json:"label"`
	Content       string  `json:"content"`
	Tokens        int     `json:"tokens"`
	Salience      float64 `json:"salience"`
	SourceID      string  `json:"source_id"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// RoutingHint tells the generator which knowledge source to lead with
type RoutingHint string

const (
	RoutingMemoryFirst  RoutingHint = "memory-first"
	RoutingGeneralFirst RoutingHint = "general-first"
	RoutingBlend        RoutingHint = "blend"
)

// Rationale strings used on degraded envelopes.
const (
	RationaleCancelled        = "cancelled"
	RationaleOverloaded       = "overloaded"
	RationaleStoreUnavailable = "store unavailable"
	RationaleNoCandidates     = "no candidates"
)

// StageStats captures per-stage diagnostics emitted in pipeline order
type StageStats struct {
	Stage      string        `json:"stage"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Note       string        `json:"note,omitempty"`
}

// Diagnostics is the per-query observability record attached to an envelope
type Diagnostics struct {
	Stages               []StageStats   `json:"stages,omitempty"`
	CandidateCount       int            `json:"candidate_count"`
	SelectedCount        int            `json:"selected_count"`
	UniqueSources        int            `json:"unique_sources"`
	UniqueTypes          int            `json:"unique_types"`
	SourceHistogram      map[string]int `json:"source_histogram,omitempty"`
	TypeHistogram        map[string]int `json:"type_histogram,omitempty"`
	TimestampFallbackPct float64        `json:"timestamp_fallback_pct"`
	TemporalWeightAvg    float64        `json:"temporal_weight_avg"`
	SalienceMin          float64        `json:"salience_min"`
	SalienceMax          float64        `json:"salience_max"`
	DiversitySwaps       int            `json:"diversity_swaps"`
	SessionsRepresented  int            `json:"sessions_represented,omitempty"`
	TimelineSpanMinutes  float64        `json:"timeline_span_minutes,omitempty"`
	Warnings             []string       `json:"warnings,omitempty"`
}

// FusionEnvelope is the final structured output of the pipeline
type FusionEnvelope struct {
	TraceID            string       `json:"trace_id,omitempty"`
	MemoryCards        []MemoryCard `json:"memory_cards"`
	AvgSalience        float64      `json:"avg_salience"`
	Coverage           float64      `json:"coverage"`
	MemoryWeight       float64      `json:"memory_weight"`
	GeneralWeight      float64      `json:"general_weight"`
	GKAllowance        int          `json:"gk_allowance"`
	Rationale          string       `json:"rationale"`
	RoutingHint        RoutingHint  `json:"routing_hint"`
	HadCandidates      bool         `json:"had_candidates"`
	DynamicGate        float64      `json:"dynamic_gate,omitempty"`
	LowConfidenceCount int          `json:"low_confidence_count"`
	Diagnostics        Diagnostics  `json:"diagnostics"`

	// OrchestratorView exposes additional cards beyond the core set for
	// observability surfaces; it never feeds the generator prompt.
	OrchestratorView []MemoryCard `json:"orchestrator_view,omitempty"`
}

// QueryIntent is the coarse classification of what the user is asking for
type QueryIntent string

const (
	// IntentKnowledgeQuery is a question answered from knowledge chunks
	IntentKnowledgeQuery QueryIntent = "knowledge_query"
	// IntentConversationRecall asks about prior dialog
	IntentConversationRecall QueryIntent = "conversation_recall"
)

// QueryScope bounds a recall query to the current session or all sessions
type QueryScope string

const (
	ScopeSession QueryScope = "session"
	ScopeGlobal  QueryScope = "global"
)

// IntentResult is the output of the intent classifier
type IntentResult struct {
	Intent     QueryIntent `json:"intent"`
	Scope      QueryScope  `json:"scope"`
	Confidence float64     `json:"confidence"`
}

// ArtifactType classifies what a conversation summary captured
type ArtifactType string

const (
	ArtifactDecision   ArtifactType = "decision"
	ArtifactConstraint ArtifactType = "constraint"
	ArtifactHypothesis ArtifactType = "hypothesis"
	ArtifactDiscussion ArtifactType = "discussion"
)

// Valid returns true if the artifact type is valid
func (at ArtifactType) Valid() bool {
	switch at {
	case ArtifactDecision, ArtifactConstraint, ArtifactHypothesis, ArtifactDiscussion:
		return true
	}
	return false
}

// ArtifactResult is the output of the conversation artifact classifier
type ArtifactResult struct {
	ArtifactType ArtifactType `json:"artifact_type"`
	Confidence   float64      `json:"confidence"`
	Extracted    []string     `json:"extracted,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
}
