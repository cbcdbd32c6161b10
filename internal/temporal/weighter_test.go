package temporal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func agoMillis(d time.Duration) int64 {
	return testNow.Add(-d).UnixMilli()
}

func TestWeightAlwaysInBounds(t *testing.T) {
	w := NewWeighter(DefaultConfig())

	ages := []time.Duration{0, time.Hour, 24 * time.Hour, 7 * 24 * time.Hour,
		90 * 24 * time.Hour, 365 * 24 * time.Hour, 10 * 365 * 24 * time.Hour}
	hintSets := []Hints{
		{},
		{IsTemporalQuery: true},
		{WantsRecent: true},
		{IsTemporalQuery: true, WantsRecent: true},
	}

	for _, age := range ages {
		for _, hints := range hintSets {
			got := w.Weight(agoMillis(age), testNow, hints)
			assert.True(t, InBounds(got), "age=%v hints=%+v got=%f", age, hints, got)
		}
	}
}

func TestFreshTemporalQueryWeighsAtLeastOne(t *testing.T) {
	w := NewWeighter(DefaultConfig())

	got := w.Weight(testNow.UnixMilli(), testNow, Hints{IsTemporalQuery: true})
	assert.GreaterOrEqual(t, got, 1.0)
}

func TestInvalidTimestampIsNeutral(t *testing.T) {
	w := NewWeighter(DefaultConfig())

	assert.Equal(t, 1.0, w.Weight(0, testNow, Hints{IsTemporalQuery: true}))
	assert.Equal(t, 1.0, w.Weight(-5, testNow, Hints{}))
}

func TestDecayOrderingNonTemporalQuery(t *testing.T) {
	w := NewWeighter(DefaultConfig())

	newer := w.Weight(agoMillis(24*time.Hour), testNow, Hints{})
	older := w.Weight(agoMillis(365*24*time.Hour), testNow, Hints{})

	assert.GreaterOrEqual(t, newer, older)

	// With the default floor, the year-old chunk has essentially bottomed
	// out while the day-old one has barely decayed.
	expectedNewer := 0.80 + 0.20*math.Exp(-math.Ln2*1.0/90.0)
	assert.InDelta(t, expectedNewer, newer, 1e-9)
	assert.InDelta(t, 0.80, older, 0.02)
}

func TestTemporalQueryDecaysFasterAndLower(t *testing.T) {
	w := NewWeighter(DefaultConfig())
	age := 60 * 24 * time.Hour

	temporalWeight := w.Weight(agoMillis(age), testNow, Hints{IsTemporalQuery: true})
	defaultWeight := w.Weight(agoMillis(age), testNow, Hints{})

	assert.Less(t, temporalWeight, defaultWeight)
	assert.GreaterOrEqual(t, temporalWeight, MinMultiplier)
}

func TestTemporalHintTakesPrecedenceOverRecent(t *testing.T) {
	w := NewWeighter(DefaultConfig())
	age := 45 * 24 * time.Hour

	both := w.Weight(agoMillis(age), testNow, Hints{IsTemporalQuery: true, WantsRecent: true})
	temporalOnly := w.Weight(agoMillis(age), testNow, Hints{IsTemporalQuery: true})

	assert.Equal(t, temporalOnly, both)
}

func TestFutureTimestampTreatedAsAgeZero(t *testing.T) {
	w := NewWeighter(DefaultConfig())

	got := w.Weight(testNow.Add(time.Hour).UnixMilli(), testNow, Hints{})
	assert.Equal(t, 1.0, got)
}

func TestHintsFromQuery(t *testing.T) {
	tests := []struct {
		query        string
		wantTemporal bool
		wantRecent   bool
	}{
		{"what did we decide last week", true, false},
		{"what happened 3 days ago", true, false},
		{"what is the latest deployment status", false, true},
		{"how does the scorer work", false, false},
		{"changes on March 12", true, false},
		{"recent failures", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			hints := HintsFromQuery(tt.query)
			assert.Equal(t, tt.wantTemporal, hints.IsTemporalQuery, "temporal")
			assert.Equal(t, tt.wantRecent, hints.WantsRecent, "recent")
		})
	}
}
