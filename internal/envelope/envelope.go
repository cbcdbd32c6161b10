// Package envelope post-processes generated answers: hedging language is
// stripped and a confidence footer with follow-up retrieval suggestions is
// enforced.
package envelope

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"memfuse/pkg/types"
)

// Footer markers. A text carrying both is considered finalized and is never
// rewritten.
const (
	confidenceMarker = "CONFIDENCE:"
	retrievalsMarker = "NEXT_RETRIEVALS:"
)

// Confidence levels emitted in the footer.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// hedgePatterns match lines the generator uses to hedge instead of answer.
// The list is centralized here so tests can exercise it directly.
var hedgePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(i\s+(apologize|am sorry)|i'm sorry|sorry,)`),
	regexp.MustCompile(`(?i)\bi don'?t have\b`),
	regexp.MustCompile(`(?i)^\s*unfortunately\b`),
	regexp.MustCompile(`(?i)^\s*\d+[.)]\s+(what|how|why|when|where|which|could|would|should|do|does|is|are)\b.*\?\s*$`),
	regexp.MustCompile(`(?i)^\s*confidence bracket\b`),
}

// Context carries the fusion metrics the footer is inferred from
type Context struct {
	Coverage      float64
	UniqueSources int

	// IsTemporalQuery and TimestampCoverage gate the temporal confidence cap
	IsTemporalQuery   bool
	TimestampCoverage float64

	// Query supplies key terms for retrieval suggestions
	Query string

	// Cards supply source-path suffixes for retrieval suggestions
	Cards []types.MemoryCard
}

// Finalizer enforces the answer envelope. It is stateless.
type Finalizer struct{}

// NewFinalizer creates an answer finalizer
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Finalize strips hedging and enforces the footer. A text that already
// carries both footer markers is returned unchanged.
func (f *Finalizer) Finalize(raw string, ctx Context) string {
	if strings.Contains(raw, confidenceMarker) && strings.Contains(raw, retrievalsMarker) {
		return raw
	}

	text := stripHedges(raw)

	var footer []string
	if !strings.Contains(text, confidenceMarker) {
		footer = append(footer, confidenceMarker+" "+Confidence(ctx))
	}
	if !strings.Contains(text, retrievalsMarker) {
		footer = append(footer, retrievalsMarker+" "+retrievalSuggestions(ctx))
	}

	if len(footer) == 0 {
		return text
	}
	if text == "" {
		return strings.Join(footer, "\n")
	}
	return text + "\n\n" + strings.Join(footer, "\n")
}

// Confidence infers the footer confidence level: coverage sets the base,
// diversity and temporal gaps cap it.
func Confidence(ctx Context) string {
	level := ConfidenceLow
	switch {
	case ctx.Coverage >= 0.70:
		level = ConfidenceHigh
	case ctx.Coverage >= 0.35:
		level = ConfidenceMedium
	}

	if ctx.UniqueSources < 2 {
		return ConfidenceLow
	}
	if ctx.UniqueSources < 3 && level == ConfidenceHigh {
		level = ConfidenceMedium
	}
	if ctx.IsTemporalQuery && ctx.TimestampCoverage < 0.3 {
		return ConfidenceLow
	}
	return level
}

// stripHedges removes hedge lines and normalizes whitespace
func stripHedges(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		hedged := false
		for _, p := range hedgePatterns {
			if p.MatchString(line) {
				hedged = true
				break
			}
		}
		if !hedged {
			kept = append(kept, strings.TrimRight(line, " \t"))
		}
	}

	text := strings.Join(kept, "\n")
	text = regexp.MustCompile(`\n{3,}`).ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// retrievalSuggestions builds the lettered follow-up list from the top card
// source suffixes and distinctive query terms
func retrievalSuggestions(ctx Context) string {
	var suggestions []string

	for _, suffix := range sourceSuffixes(ctx.Cards, 2) {
		suggestions = append(suggestions, "more from "+suffix)
	}
	if terms := queryTerms(ctx.Query, 3); len(terms) > 0 {
		suggestions = append(suggestions, "search "+strings.Join(terms, " "))
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, "broaden the search to all sources")
	}

	letters := "abcdefgh"
	var sb strings.Builder
	for i, s := range suggestions {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "(%c) %s", letters[i], s)
	}
	return sb.String()
}

// sourceSuffixes returns the trailing path segments of the most frequent
// card sources
func sourceSuffixes(cards []types.MemoryCard, n int) []string {
	counts := make(map[string]int)
	for _, card := range cards {
		if card.SourceID == "" {
			continue
		}
		counts[suffixOf(card.SourceID)]++
	}

	suffixes := make([]string, 0, len(counts))
	for s := range counts {
		suffixes = append(suffixes, s)
	}
	sort.Slice(suffixes, func(i, j int) bool {
		if counts[suffixes[i]] != counts[suffixes[j]] {
			return counts[suffixes[i]] > counts[suffixes[j]]
		}
		return suffixes[i] < suffixes[j]
	})

	if len(suffixes) > n {
		suffixes = suffixes[:n]
	}
	return suffixes
}

// suffixOf trims a source ID to its last path segment
func suffixOf(sourceID string) string {
	trimmed := sourceID
	if idx := strings.LastIndexAny(trimmed, "/#"); idx >= 0 && idx < len(trimmed)-1 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}

var termRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{3,}`)

var queryStopWords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "which": {}, "about": {},
	"does": {}, "did": {}, "have": {}, "with": {}, "this": {}, "that": {},
	"tell": {}, "show": {}, "give": {}, "would": {}, "could": {}, "should": {},
}

// queryTerms extracts up to n distinctive terms from the query in order
func queryTerms(query string, n int) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, word := range termRe.FindAllString(query, -1) {
		lower := strings.ToLower(word)
		if _, stop := queryStopWords[lower]; stop {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		terms = append(terms, lower)
		if len(terms) >= n {
			break
		}
	}
	return terms
}
