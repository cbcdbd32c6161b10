// Package artifact classifies conversation summaries into the artifact they
// captured: a constraint, a decision, a hypothesis, or plain discussion.
package artifact

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"memfuse/pkg/types"
)

// Character bounds for extracted payload lines.
const (
	maxExtractLen           = 200
	maxDiscussionExtractLen = 150
	maxExtracted            = 3
)

// category is a named group of patterns; a category counts as one hit no
// matter how many of its patterns match.
type category struct {
	name     string
	patterns []*regexp.Regexp
}

func newCategory(name string, exprs ...string) category {
	compiled := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		compiled[i] = regexp.MustCompile(expr)
	}
	return category{name: name, patterns: compiled}
}

// Classifier maps conversation summaries to artifact types.
// Precedence: constraint > decision > hypothesis > discussion. Leaving the
// discussion bucket requires at least minCategoryHits matching categories.
type Classifier struct {
	minCategoryHits int

	constraintCats []category
	decisionCats   []category
	hypothesisCats []category
	weakCommitment *regexp.Regexp
}

// NewClassifier creates an artifact classifier. minCategoryHits below 1 is
// coerced to the default of 2.
func NewClassifier(minCategoryHits int) *Classifier {
	if minCategoryHits < 1 {
		minCategoryHits = 2
	}
	return &Classifier{
		minCategoryHits: minCategoryHits,
		constraintCats: []category{
			newCategory("obligation", `(?i)\b(must|shall|required to|have to|cannot|may not)\b`),
			newCategory("invariant", `(?i)\b(invariant|constraint|always holds|never allowed|at all times)\b`),
			newCategory("boundary", `(?i)\b(no more than|at most|at least|within|limit(ed)? to|capped at)\b`),
		},
		decisionCats: []category{
			newCategory("commitment", `(?i)\b(we (decided|chose|agreed|will use|are going with)|decision (is|was)|settled on)\b`),
			newCategory("selection", `(?i)\b(instead of|over|rather than|ruled out|rejected)\b`),
			newCategory("finality", `(?i)\b(final|going forward|from now on|locked in)\b`),
		},
		hypothesisCats: []category{
			newCategory("conjecture", `(?i)\b(hypothesis|suspect|assume|assuming|likely (that|because)|probably)\b`),
			newCategory("uncertainty", `(?i)\b(might be|could be|not sure|unclear|needs (testing|verification))\b`),
			newCategory("prediction", `(?i)\b(expect(ed)? to|should (result|lead|cause)|if .+ then)\b`),
		},
		weakCommitment: regexp.MustCompile(`(?i)\b(maybe|perhaps|we could|might want to|considering|leaning towards|tentatively)\b`),
	}
}

// Classify returns the artifact type for a conversation summary, with a
// confidence estimate, up to three extracted payload lines, and tags naming
// the matched categories.
func (c *Classifier) Classify(summary string) types.ArtifactResult {
	if strings.TrimSpace(summary) == "" {
		return types.ArtifactResult{
			ArtifactType: types.ArtifactDiscussion,
			Confidence:   0.3,
		}
	}

	constraintHits, constraintTags := matchCategories(c.constraintCats, summary)
	decisionHits, decisionTags := matchCategories(c.decisionCats, summary)
	hypothesisHits, hypothesisTags := matchCategories(c.hypothesisCats, summary)

	switch {
	case constraintHits >= c.minCategoryHits:
		return c.result(types.ArtifactConstraint, constraintHits, constraintTags, c.constraintCats, summary)
	case decisionHits >= c.minCategoryHits && !c.weakCommitment.MatchString(summary):
		return c.result(types.ArtifactDecision, decisionHits, decisionTags, c.decisionCats, summary)
	case hypothesisHits >= c.minCategoryHits:
		return c.result(types.ArtifactHypothesis, hypothesisHits, hypothesisTags, c.hypothesisCats, summary)
	}

	return types.ArtifactResult{
		ArtifactType: types.ArtifactDiscussion,
		Confidence:   0.4,
		Extracted:    extractLines(summary, nil, maxDiscussionExtractLen),
		Tags:         []string{"discussion"},
	}
}

func (c *Classifier) result(at types.ArtifactType, hits int, tags []string, cats []category, summary string) types.ArtifactResult {
	confidence := 0.45 + 0.15*float64(hits)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return types.ArtifactResult{
		ArtifactType: at,
		Confidence:   confidence,
		Extracted:    extractLines(summary, cats, maxExtractLen),
		Tags:         append([]string{string(at)}, tags...),
	}
}

// matchCategories counts how many categories have at least one pattern hit
func matchCategories(cats []category, summary string) (hits int, tags []string) {
	for _, cat := range cats {
		for _, p := range cat.patterns {
			if p.MatchString(summary) {
				hits++
				tags = append(tags, cat.name)
				break
			}
		}
	}
	return hits, tags
}

// extractLines pulls up to three payload lines from the summary, preferring
// lines that triggered a category pattern. Lines are length-bounded.
func extractLines(summary string, cats []category, maxLen int) []string {
	lines := strings.Split(summary, "\n")
	extracted := make([]string, 0, maxExtracted)

	appendLine := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" || len(extracted) >= maxExtracted {
			return
		}
		if utf8.RuneCountInString(line) > maxLen {
			line = string([]rune(line)[:maxLen])
		}
		for _, existing := range extracted {
			if existing == line {
				return
			}
		}
		extracted = append(extracted, line)
	}

	if cats != nil {
		for _, line := range lines {
			for _, cat := range cats {
				for _, p := range cat.patterns {
					if p.MatchString(line) {
						appendLine(line)
					}
				}
			}
		}
	}

	// Fall back to leading lines when nothing specific matched
	for _, line := range lines {
		if len(extracted) >= maxExtracted {
			break
		}
		appendLine(line)
	}

	return extracted
}
