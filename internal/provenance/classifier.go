package provenance

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"memfuse/pkg/types"
)

// Classifier maps (source_kind, path, content) to a semantic chunk type
// through an ordered rule cascade. The first matching rule wins, so rule
// order is part of the contract.
type Classifier struct {
	md goldmark.Markdown
}

// NewClassifier creates a chunk type classifier
func NewClassifier() *Classifier {
	return &Classifier{md: goldmark.New()}
}

var (
	codeExtensions = map[string]bool{
		".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
		".tsx": true, ".java": true, ".rs": true, ".c": true, ".h": true,
		".cpp": true, ".cc": true, ".rb": true, ".kt": true, ".swift": true,
		".cs": true, ".sh": true, ".sql": true,
	}

	examplePathRe    = regexp.MustCompile(`(?i)(^|/)(examples?|samples?|demos?)(/|$)`)
	adrPathRe        = regexp.MustCompile(`(?i)(^|/)adrs?(/|$)|adr-?\d+`)
	adrContentRe     = regexp.MustCompile(`(?i)architecture decision record|^#+\s*adr[ :-]`)
	decisionRe       = regexp.MustCompile(`(?i)\b(we (decided|chose|agreed|opted)|decision:|rationale:|decided to)\b`)
	constraintRe     = regexp.MustCompile(`(?i)\b(invariant|constraint|must (never|always|not)|shall (not|never)|is required to)\b`)
	apiContentRe     = regexp.MustCompile(`(?m)^\s*(GET|POST|PUT|PATCH|DELETE)\s+/`)
	apiPathRe        = regexp.MustCompile(`(?i)(^|/)(api|openapi|swagger)(/|\.|$)`)
	tutorialRe       = regexp.MustCompile(`(?i)\b(tutorial|step \d|how to|getting started|walkthrough)\b`)
	threadMarkerRe   = regexp.MustCompile(`(?mi)^(>\s|Re:|On .+ wrote:)`)
	citationRe       = regexp.MustCompile(`(?i)\bet al\.|\(\d{4}\)|arxiv|doi:\s*10\.`)
	markdownExtRe    = regexp.MustCompile(`(?i)\.(md|markdown|rst|adoc)$`)
	readmeBaseNameRe = regexp.MustCompile(`(?i)^readme(\.|$)`)
)

// Classify runs the rule cascade and returns the first matching type.
// The cascade is pure: the same inputs always produce the same type.
func (c *Classifier) Classify(kind types.SourceKind, path, content string) types.ChunkType {
	// Kind-determined types come first: the source pipeline already knows
	// what these are regardless of content.
	switch kind {
	case types.SourceConversation:
		return types.ChunkTypeConversationEvent
	case types.SourceEmail:
		return types.ChunkTypeDiscussionThread
	case types.SourcePDF:
		return types.ChunkTypePaperExcerpt
	case types.SourceWeb:
		return types.ChunkTypeWebArticle
	}

	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(path))

	if readmeBaseNameRe.MatchString(base) {
		return types.ChunkTypeReadme
	}

	if codeExtensions[ext] {
		if examplePathRe.MatchString(path) {
			return types.ChunkTypeCodeExample
		}
		return types.ChunkTypeCodeImplementation
	}

	if adrPathRe.MatchString(path) || adrContentRe.MatchString(content) {
		return types.ChunkTypeArchitectureDecision
	}
	if constraintRe.MatchString(content) {
		return types.ChunkTypeConstraintInvariant
	}
	if decisionRe.MatchString(content) {
		return types.ChunkTypeDecisionRationale
	}

	if apiPathRe.MatchString(path) || len(apiContentRe.FindAllString(content, 2)) >= 2 {
		return types.ChunkTypeAPIReference
	}

	headings, fences := c.markdownStructure(content)

	if tutorialRe.MatchString(content) && headings > 0 {
		return types.ChunkTypeTutorial
	}

	// Fenced code dominating a short document reads as an example, not docs
	if fences >= 2 && fences >= headings {
		return types.ChunkTypeCodeExample
	}

	if markdownExtRe.MatchString(path) || headings >= 2 {
		return types.ChunkTypeDocumentation
	}

	if threadMarkerRe.MatchString(content) {
		return types.ChunkTypeDiscussionThread
	}

	if kind == types.SourceNote || kind == types.SourceManual {
		if citationRe.MatchString(content) {
			return types.ChunkTypeResearchNote
		}
		return types.ChunkTypeGeneralNote
	}

	return types.ChunkTypeUnknown
}

// markdownStructure parses the content as markdown and counts headings and
// fenced code blocks. Plain prose yields zero for both.
func (c *Classifier) markdownStructure(content string) (headings, fences int) {
	if len(content) > 64*1024 {
		content = content[:64*1024]
	}
	source := []byte(content)
	root := c.md.Parser().Parse(text.NewReader(source))

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			headings++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			fences++
		}
		return ast.WalkContinue, nil
	})
	return headings, fences
}
