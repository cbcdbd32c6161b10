// Package salience scores candidates by combining normalized similarity,
// recency and authority boosts, provenance penalties, and the temporal
// multiplier. It also carries the legacy percentile gate.
package salience

import (
	"sort"
	"time"

	"memfuse/internal/config"
	"memfuse/internal/logging"
	"memfuse/internal/temporal"
	"memfuse/pkg/types"
)

// Scoring constants. The similarity term dominates; boosts are small nudges.
const (
	similarityWeight = 0.8

	recencyBoostFresh  = 0.08
	recencyBoostRecent = 0.04
	recencyFreshDays   = 7.0
	recencyRecentDays  = 30.0

	authorityBoost = 0.06
)

// Legacy gate tuning: the 60th percentile of cos01, clamped, with a minimum
// number of survivors re-admitted at low confidence.
const (
	gatePercentile = 0.60
	gateMin        = 0.08
	gateMax        = 0.22
	minSurvivors   = 6
)

// Scorer computes final salience for knowledge-path candidates
type Scorer struct {
	weighter *temporal.Weighter
	penalty  config.PenaltyConfig
	logger   logging.Logger
	now      func() time.Time
}

// NewScorer creates a salience scorer
func NewScorer(weighter *temporal.Weighter, penalty config.PenaltyConfig, logger logging.Logger) *Scorer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Scorer{
		weighter: weighter,
		penalty:  penalty,
		logger:   logger.WithComponent("salience"),
		now:      time.Now,
	}
}

// WithClock overrides the scorer's clock for tests
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score computes salience for every candidate and returns them sorted best
// first. Candidates are modified in place.
func (s *Scorer) Score(candidates []types.Candidate, hints temporal.Hints) []types.Candidate {
	now := s.now()
	for i := range candidates {
		s.score(&candidates[i], now, hints)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Salience > candidates[j].Salience
	})
	return candidates
}

func (s *Scorer) score(c *types.Candidate, now time.Time, hints temporal.Hints) {
	base := c.Cos01 * similarityWeight

	ageDays := c.Chunk.AgeDays(now)
	switch {
	case ageDays >= 0 && ageDays < recencyFreshDays:
		base += recencyBoostFresh
	case ageDays >= 0 && ageDays < recencyRecentDays:
		base += recencyBoostRecent
	}

	if c.Chunk.Metadata.Importance.Authoritative() {
		base += authorityBoost
	}

	c.BaselineSalience = clamp01(base)
	c.ProvenancePenalty = s.provenancePenalty(&c.Chunk.Metadata)

	mult := s.weighter.Weight(c.Chunk.Metadata.Timestamp, now, hints)
	if !temporal.InBounds(mult) {
		s.logger.Error("temporal multiplier out of bounds, clamping",
			"multiplier", mult, "chunk_id", c.Chunk.ID)
		if mult < temporal.MinMultiplier {
			mult = temporal.MinMultiplier
		} else {
			mult = temporal.MaxMultiplier
		}
	}
	c.TemporalMultiplier = mult

	c.Salience = c.BaselineSalience * c.ProvenancePenalty * c.TemporalMultiplier
}

// provenancePenalty grades the chunk's provenance: missing markers earn the
// strong penalty, an outdated enforcement version the mild one.
func (s *Scorer) provenancePenalty(m *types.Metadata) float64 {
	if m.SourceKind == types.SourceUnknown || m.SourceID == "" || m.TimestampFallback {
		return s.penalty.Missing
	}
	if m.ProvenanceVersion != types.CurrentProvenanceVersion {
		return s.penalty.Stale
	}
	return 1.0
}

// Gate applies the legacy percentile gate to scored candidates: candidates
// below the 60th percentile of cos01 are dropped, and if fewer than
// minSurvivors remain the best-scored dropped candidates are re-admitted
// flagged low confidence. Returns the survivors and the gate value.
func (s *Scorer) Gate(candidates []types.Candidate) ([]types.Candidate, float64) {
	if len(candidates) == 0 {
		return candidates, 0
	}

	gate := percentile(candidates, gatePercentile)
	if gate < gateMin {
		gate = gateMin
	}
	if gate > gateMax {
		gate = gateMax
	}

	var survivors, dropped []types.Candidate
	for _, c := range candidates {
		if c.Cos01 >= gate {
			survivors = append(survivors, c)
		} else {
			dropped = append(dropped, c)
		}
	}

	if len(survivors) < minSurvivors && len(dropped) > 0 {
		sort.SliceStable(dropped, func(i, j int) bool {
			return dropped[i].Salience > dropped[j].Salience
		})
		for _, c := range dropped {
			if len(survivors) >= minSurvivors {
				break
			}
			c.LowConfidence = true
			survivors = append(survivors, c)
		}
		sort.SliceStable(survivors, func(i, j int) bool {
			return survivors[i].Salience > survivors[j].Salience
		})
	}

	return survivors, gate
}

// percentile returns the p-th percentile of cos01 across candidates
func percentile(candidates []types.Candidate, p float64) float64 {
	values := make([]float64, len(candidates))
	for i, c := range candidates {
		values[i] = c.Cos01
	}
	sort.Float64s(values)

	idx := int(p * float64(len(values)-1))
	return values[idx]
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
