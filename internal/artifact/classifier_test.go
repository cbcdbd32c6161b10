package artifact

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"memfuse/pkg/types"
)

func TestClassifyPrecedence(t *testing.T) {
	c := NewClassifier(2)

	tests := []struct {
		name    string
		summary string
		want    types.ArtifactType
	}{
		{
			name:    "constraint with two categories",
			summary: "Responses must always include a footer. Payloads are capped at 6000 characters.",
			want:    types.ArtifactConstraint,
		},
		{
			name:    "decision with two categories",
			summary: "We decided to use Qdrant instead of pgvector going forward.",
			want:    types.ArtifactDecision,
		},
		{
			name:    "weak commitment is not a decision",
			summary: "We are leaning towards Qdrant instead of pgvector going forward, maybe.",
			want:    types.ArtifactDiscussion,
		},
		{
			name:    "hypothesis",
			summary: "I suspect the cache is stale; it might be the TTL, needs testing.",
			want:    types.ArtifactHypothesis,
		},
		{
			name:    "single category stays discussion",
			summary: "We chose nothing yet, just compared the options.",
			want:    types.ArtifactDiscussion,
		},
		{
			name:    "plain chatter",
			summary: "We talked about lunch plans and the weather.",
			want:    types.ArtifactDiscussion,
		},
		{
			name:    "constraint outranks decision",
			summary: "We decided the limiter must never exceed 32 in-flight requests; the cap is at most 32 and settled on that.",
			want:    types.ArtifactConstraint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.summary)
			assert.Equal(t, tt.want, got.ArtifactType)
		})
	}
}

func TestClassifyEmptySummary(t *testing.T) {
	c := NewClassifier(2)

	got := c.Classify("   ")
	assert.Equal(t, types.ArtifactDiscussion, got.ArtifactType)
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)
	assert.Empty(t, got.Extracted)
}

func TestClassifyConfidenceScalesWithHits(t *testing.T) {
	c := NewClassifier(2)

	two := c.Classify("The budget must not exceed the limit. Responses are capped at 4000 chars.")
	three := c.Classify("The invariant must always hold: output is capped at 4000 chars and may not grow.")

	assert.Equal(t, types.ArtifactConstraint, two.ArtifactType)
	assert.Equal(t, types.ArtifactConstraint, three.ArtifactType)
	assert.Greater(t, three.Confidence, two.Confidence)
	assert.LessOrEqual(t, three.Confidence, 0.95)
}

func TestExtractedLinesAreBoundedAndRelevant(t *testing.T) {
	c := NewClassifier(2)

	long := strings.Repeat("x", 400)
	summary := "Intro line without signals.\n" +
		"The gate must never drop below six survivors.\n" +
		"Counts are capped at twelve.\n" +
		long + " must not overflow.\n" +
		"Trailing chatter."

	got := c.Classify(summary)
	assert.Equal(t, types.ArtifactConstraint, got.ArtifactType)
	assert.LessOrEqual(t, len(got.Extracted), 3)
	for _, line := range got.Extracted {
		assert.LessOrEqual(t, len(line), 200)
	}
	assert.Contains(t, got.Extracted, "The gate must never drop below six survivors.")
}

func TestExtractedLinesTruncateOnRuneBoundary(t *testing.T) {
	c := NewClassifier(2)

	long := strings.Repeat("限", 198) + " must not overflow and is capped at twelve."
	got := c.Classify(long)

	assert.Equal(t, types.ArtifactConstraint, got.ArtifactType)
	for _, line := range got.Extracted {
		assert.True(t, utf8.ValidString(line), "truncation never splits a rune")
		assert.LessOrEqual(t, utf8.RuneCountInString(line), 200)
	}
}

func TestNewClassifierCoercesBadThreshold(t *testing.T) {
	c := NewClassifier(0)

	// One matching category is not enough under the default threshold of two
	got := c.Classify("This must be done.")
	assert.Equal(t, types.ArtifactDiscussion, got.ArtifactType)
}
