// Package temporal computes query-aware bounded exponential decay
// multipliers for memory chunks. The multiplier always lands in
// [MinMultiplier, MaxMultiplier]; temporal queries decay faster and from a
// lower floor than knowledge queries.
package temporal

import (
	"math"
	"regexp"
	"time"
)

// Hard bounds on the temporal multiplier. Values outside this range are an
// internal invariant violation.
const (
	MinMultiplier = 0.65
	MaxMultiplier = 1.15
)

// freshWindowDays is the age under which temporal queries earn a fresh boost
const freshWindowDays = 2.0

// Hints are query-derived signals that tune the decay curve
type Hints struct {
	// IsTemporalQuery is set when the query references a time window
	// ("last week", "yesterday", "3 days ago")
	IsTemporalQuery bool
	// WantsRecent is set when the query asks for the latest state
	// ("latest", "current", "newest")
	WantsRecent bool
}

var (
	temporalRe = regexp.MustCompile(`(?i)\b(last|yesterday|today|this week|last week|recent|recently|on (January|February|March|April|May|June|July|August|September|October|November|December) \d{1,2}|\d+ (days?|weeks?|months?|years?) ago)\b`)
	recentRe   = regexp.MustCompile(`(?i)\b(latest|current|now|recent|newest)\b`)
)

// HintsFromQuery derives temporal hints from the raw query text
func HintsFromQuery(query string) Hints {
	return Hints{
		IsTemporalQuery: temporalRe.MatchString(query),
		WantsRecent:     recentRe.MatchString(query),
	}
}

// Config tunes the decay half-lives, floors, and fresh boost
type Config struct {
	HalfLifeTemporalDays float64
	HalfLifeRecentDays   float64
	HalfLifeDefaultDays  float64
	FloorTemporal        float64
	FloorDefault         float64
	FreshBoost           float64
}

// DefaultConfig returns the standard decay tuning
func DefaultConfig() Config {
	return Config{
		HalfLifeTemporalDays: 14,
		HalfLifeRecentDays:   30,
		HalfLifeDefaultDays:  90,
		FloorTemporal:        0.65,
		FloorDefault:         0.80,
		FreshBoost:           1.10,
	}
}

// Weighter computes temporal multipliers
type Weighter struct {
	cfg Config
}

// NewWeighter creates a temporal weighter
func NewWeighter(cfg Config) *Weighter {
	if cfg.HalfLifeDefaultDays <= 0 {
		cfg = DefaultConfig()
	}
	return &Weighter{cfg: cfg}
}

// Weight returns the temporal multiplier for an event timestamp (millis
// since epoch). Invalid or absent timestamps are neutral.
//
// w = clamp(floor + (1 - floor) * decay * freshBoost, 0.65, 1.15)
func (w *Weighter) Weight(eventTsMillis int64, now time.Time, hints Hints) float64 {
	if eventTsMillis <= 0 {
		return 1.0
	}

	ageDays := now.Sub(time.UnixMilli(eventTsMillis)).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}

	halfLife := w.cfg.HalfLifeDefaultDays
	floor := w.cfg.FloorDefault
	switch {
	case hints.IsTemporalQuery:
		halfLife = w.cfg.HalfLifeTemporalDays
		floor = w.cfg.FloorTemporal
	case hints.WantsRecent:
		halfLife = w.cfg.HalfLifeRecentDays
	}

	decay := math.Exp(-math.Ln2 * ageDays / halfLife)

	freshBoost := 1.0
	if (hints.IsTemporalQuery || hints.WantsRecent) && ageDays <= freshWindowDays {
		freshBoost = w.cfg.FreshBoost
	}

	weight := floor + (1-floor)*decay*freshBoost
	return clamp(weight, MinMultiplier, MaxMultiplier)
}

// InBounds reports whether a multiplier respects the hard bounds
func InBounds(w float64) bool {
	return w >= MinMultiplier && w <= MaxMultiplier
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
