package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"memfuse/pkg/types"
)

func TestClassifyCascade(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name    string
		kind    types.SourceKind
		path    string
		content string
		want    types.ChunkType
	}{
		{
			name: "conversation kind wins regardless of content",
			kind: types.SourceConversation,
			content: "# Heading\n```go\ncode\n```",
			want: types.ChunkTypeConversationEvent,
		},
		{
			name: "email kind",
			kind: types.SourceEmail,
			want: types.ChunkTypeDiscussionThread,
		},
		{
			name: "pdf kind",
			kind: types.SourcePDF,
			path: "papers/grover.pdf",
			want: types.ChunkTypePaperExcerpt,
		},
		{
			name: "web kind",
			kind: types.SourceWeb,
			want: types.ChunkTypeWebArticle,
		},
		{
			name: "readme by basename",
			kind: types.SourceRepoFile,
			path: "vendor/pkg/README.md",
			want: types.ChunkTypeReadme,
		},
		{
			name: "code implementation",
			kind: types.SourceRepoFile,
			path: "internal/pipeline/orchestrator.go",
			content: "package pipeline",
			want: types.ChunkTypeCodeImplementation,
		},
		{
			name: "code under examples",
			kind: types.SourceRepoFile,
			path: "examples/quickstart/main.go",
			content: "package main",
			want: types.ChunkTypeCodeExample,
		},
		{
			name: "adr by path",
			kind: types.SourceRepoFile,
			path: "docs/adr/0007-vector-store.md",
			content: "We will use a dedicated vector database.",
			want: types.ChunkTypeArchitectureDecision,
		},
		{
			name: "adr by content",
			kind: types.SourceRepoFile,
			path: "docs/choices.txt",
			content: "Architecture Decision Record: storage backend",
			want: types.ChunkTypeArchitectureDecision,
		},
		{
			name: "constraint beats decision",
			kind: types.SourceRepoFile,
			path: "docs/rules.txt",
			content: "The invariant is that salience must never exceed 1.15. We decided this early.",
			want: types.ChunkTypeConstraintInvariant,
		},
		{
			name: "decision rationale",
			kind: types.SourceRepoFile,
			path: "docs/notes.txt",
			content: "We decided to keep the threshold low and let scoring filter.",
			want: types.ChunkTypeDecisionRationale,
		},
		{
			name: "api reference by verb lines",
			kind: types.SourceRepoFile,
			path: "docs/endpoints.txt",
			content: "GET /v1/retrieve\nPOST /v1/answer\nBoth accept JSON bodies.",
			want: types.ChunkTypeAPIReference,
		},
		{
			name: "tutorial",
			kind: types.SourceRepoFile,
			path: "docs/guide.md",
			content: "# Getting Started\n\nStep 1: install the binary.\n\nStep 2: run it.",
			want: types.ChunkTypeTutorial,
		},
		{
			name: "fence-heavy markdown is an example",
			kind: types.SourceRepoFile,
			path: "docs/snippets.txt",
			content: "```go\na()\n```\n\n```go\nb()\n```",
			want: types.ChunkTypeCodeExample,
		},
		{
			name: "markdown extension is documentation",
			kind: types.SourceRepoFile,
			path: "docs/overview.md",
			content: "Plain prose describing the system.",
			want: types.ChunkTypeDocumentation,
		},
		{
			name: "thread markers",
			kind: types.SourceRepoFile,
			path: "archive/thread.txt",
			content: "On Monday, Pat wrote:\n> I think we should revisit this",
			want: types.ChunkTypeDiscussionThread,
		},
		{
			name: "note with citations",
			kind: types.SourceNote,
			content: "Grover (1996) shows a quadratic speedup, see arXiv:quant-ph/9605043.",
			want: types.ChunkTypeResearchNote,
		},
		{
			name: "plain note",
			kind: types.SourceNote,
			content: "buy more coffee",
			want: types.ChunkTypeGeneralNote,
		},
		{
			name: "nothing matches",
			kind: types.SourceRepoFile,
			path: "data/blob.bin",
			content: "opaque payload",
			want: types.ChunkTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.kind, tt.path, tt.content))
		})
	}
}

func TestMarkdownStructureCounts(t *testing.T) {
	c := NewClassifier()

	headings, fences := c.markdownStructure("# One\n\n## Two\n\n```go\nx\n```\n")
	assert.Equal(t, 2, headings)
	assert.Equal(t, 1, fences)

	headings, fences = c.markdownStructure("just prose, no structure")
	assert.Zero(t, headings)
	assert.Zero(t, fences)
}
