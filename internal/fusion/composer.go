// Package fusion derives memory/general weights, coverage, the
// general-knowledge allowance, and the routing hint from the selected cards.
package fusion

import (
	"regexp"

	"memfuse/pkg/types"
)

// Weight interpolation range and the salience band it maps from.
const (
	weightFloor = 0.15
	weightCeil  = 0.85

	salienceLow  = 0.06
	salienceHigh = 0.22

	avgWindow = 8

	// lowConfCap caps memoryWeight when most cards are low confidence
	lowConfCap   = 0.35
	lowConfShare = 0.5
)

// Empty-set weights: with nothing retrieved, the generator leans on general
// knowledge.
const (
	emptyMemoryWeight = 0.2
	emptyGKAllowance  = 3
)

// Coverage tuning.
const (
	cardCharCap     = 600
	sizeScoreMin    = 600
	sizeScoreMax    = 4000
	diversityMin    = 1
	diversityMax    = 6
	homogeneityKnee = 0.7
)

// Result is the composed fusion outcome
type Result struct {
	AvgSalience        float64
	MemoryWeight       float64
	GeneralWeight      float64
	GKAllowance        int
	Coverage           float64
	RoutingHint        types.RoutingHint
	LowConfidenceCount int
	UniqueSources      int
}

// Composer derives fusion weights from selected cards. It is stateless.
type Composer struct{}

// NewComposer creates a fusion composer
func NewComposer() *Composer {
	return &Composer{}
}

// Compose computes the fusion result for the final card set. Cards must be
// sorted by salience, best first.
func (c *Composer) Compose(cards []types.MemoryCard) Result {
	if len(cards) == 0 {
		return Result{
			MemoryWeight:  emptyMemoryWeight,
			GeneralWeight: 1 - emptyMemoryWeight,
			GKAllowance:   emptyGKAllowance,
			RoutingHint:   types.RoutingGeneralFirst,
		}
	}

	window := avgWindow
	if len(cards) < window {
		window = len(cards)
	}
	var sum float64
	for _, card := range cards[:window] {
		sum += card.Salience
	}
	avg := sum / float64(window)

	memoryWeight := lerp(weightFloor, weightCeil, clamp01((avg-salienceLow)/(salienceHigh-salienceLow)))

	lowConf := 0
	for _, card := range cards {
		if card.LowConfidence {
			lowConf++
		}
	}
	if float64(lowConf)/float64(len(cards)) > lowConfShare && memoryWeight > lowConfCap {
		memoryWeight = lowConfCap
	}

	coverage, uniqueSources := c.coverage(cards)

	return Result{
		AvgSalience:        avg,
		MemoryWeight:       memoryWeight,
		GeneralWeight:      1 - memoryWeight,
		GKAllowance:        gkAllowance(coverage),
		Coverage:           coverage,
		RoutingHint:        routingHint(memoryWeight),
		LowConfidenceCount: lowConf,
		UniqueSources:      uniqueSources,
	}
}

// coverage blends a size score with source and topic diversity, penalized by
// source homogeneity.
func (c *Composer) coverage(cards []types.MemoryCard) (float64, int) {
	totalChars := 0
	sources := make(map[string]int)
	topics := make(map[string]struct{})

	for _, card := range cards {
		chars := len(card.Content)
		if chars > cardCharCap {
			chars = cardCharCap
		}
		totalChars += chars

		sources[card.SourceID]++
		topics[topicOf(card.Content)] = struct{}{}
	}

	sizeScore := normalize(float64(totalChars), sizeScoreMin, sizeScoreMax)
	diversityScore := 0.6*normalize(float64(len(sources)), diversityMin, diversityMax) +
		0.4*normalize(float64(len(topics)), diversityMin, diversityMax)

	maxSource := 0
	for _, count := range sources {
		if count > maxSource {
			maxSource = count
		}
	}
	homogeneity := float64(maxSource) / float64(len(cards))
	homoPenalty := (homogeneity - homogeneityKnee) / (1 - homogeneityKnee)
	if homoPenalty < 0 {
		homoPenalty = 0
	}

	coverage := clamp01((0.6*sizeScore + 0.4*diversityScore) * (1 - 0.6*homoPenalty))
	return coverage, len(sources)
}

// gkAllowance maps coverage to the number of general-knowledge sentences the
// generator may add
func gkAllowance(coverage float64) int {
	switch {
	case coverage < 0.35:
		return 3
	case coverage < 0.70:
		return 1
	default:
		return 0
	}
}

func routingHint(memoryWeight float64) types.RoutingHint {
	switch {
	case memoryWeight > 0.6:
		return types.RoutingMemoryFirst
	case memoryWeight < 0.3:
		return types.RoutingGeneralFirst
	default:
		return types.RoutingBlend
	}
}

var properCaseRe = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)*\b`)

// topicOf extracts the first ProperCase word sequence from a card, falling
// back to "misc"
func topicOf(content string) string {
	if topic := properCaseRe.FindString(content); topic != "" {
		return topic
	}
	return "misc"
}

func normalize(v, lo, hi float64) float64 {
	return clamp01((v - lo) / (hi - lo))
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
