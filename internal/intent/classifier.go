// Package intent classifies queries into knowledge questions versus
// conversation recall, and scopes recall to the current session or all
// sessions. Classification is a deterministic regex precedence chain.
package intent

import (
	"regexp"

	"memfuse/pkg/types"
)

// Fixed confidence levels: recall patterns are specific enough to trust,
// the knowledge fallback is not.
const (
	recallConfidence    = 0.85
	knowledgeConfidence = 0.6
)

var (
	// globalRecallPatterns match recall questions that reach across sessions
	globalRecallPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(across|in|over) (all|any|every|previous|past|other) (sessions?|conversations?|chats?)\b`),
		regexp.MustCompile(`(?i)\b(have we ever|did we ever|at any point)\b`),
		regexp.MustCompile(`(?i)\ball (our|of our|the) (conversations?|sessions?|discussions?)\b`),
		regexp.MustCompile(`(?i)\bany (previous|prior|earlier) (session|conversation|chat)\b`),
	}

	// sessionRecallPatterns match recall questions about the current dialog
	sessionRecallPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwhat (did|have) (we|you|i) (discuss|decide|say|talk about|agree|cover|mention)`),
		regexp.MustCompile(`(?i)\b(remind me|recap|summarize) (what|our|the)\b`),
		regexp.MustCompile(`(?i)\b(earlier|previously|before) (we|you|i) (said|discussed|decided|mentioned|talked)\b`),
		regexp.MustCompile(`(?i)\bwhat (was|were) (decided|said|discussed|agreed)\b`),
		regexp.MustCompile(`(?i)\b(last time|in this (session|conversation|chat))\b`),
		regexp.MustCompile(`(?i)\bgo(ing)? back to (what|our|the)\b`),
	}
)

// Classifier classifies query intent. It is stateless and safe for
// concurrent use.
type Classifier struct{}

// NewClassifier creates an intent classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify applies the precedence chain: global recall patterns first, then
// session recall patterns, then the knowledge-query fallback.
func (c *Classifier) Classify(query string) types.IntentResult {
	for _, p := range globalRecallPatterns {
		if p.MatchString(query) {
			return types.IntentResult{
				Intent:     types.IntentConversationRecall,
				Scope:      types.ScopeGlobal,
				Confidence: recallConfidence,
			}
		}
	}

	for _, p := range sessionRecallPatterns {
		if p.MatchString(query) {
			return types.IntentResult{
				Intent:     types.IntentConversationRecall,
				Scope:      types.ScopeSession,
				Confidence: recallConfidence,
			}
		}
	}

	return types.IntentResult{
		Intent:     types.IntentKnowledgeQuery,
		Scope:      types.ScopeSession,
		Confidence: knowledgeConfidence,
	}
}
