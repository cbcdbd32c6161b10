// Package diversity selects the final card set from scored candidates while
// enforcing per-source quotas and minimum source and type variety.
package diversity

import (
	"crypto/md5" // #nosec G501 -- non-cryptographic grouping key
	"encoding/hex"
	"fmt"
	"sort"

	"memfuse/internal/config"
	"memfuse/internal/logging"
	"memfuse/pkg/types"
)

// Result is the outcome of diversity enforcement
type Result struct {
	Selected        []types.Candidate
	UniqueSources   int
	UniqueTypes     int
	Swaps           int
	SourceHistogram map[string]int
	TypeHistogram   map[string]int
	Warnings        []string
}

// Enforcer applies source quotas and variety minimums
type Enforcer struct {
	quotas config.QuotaConfig
	logger logging.Logger
}

// NewEnforcer creates a diversity enforcer
func NewEnforcer(quotas config.QuotaConfig, logger logging.Logger) *Enforcer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Enforcer{quotas: quotas, logger: logger.WithComponent("diversity")}
}

// SourceKey returns the stable grouping key for a chunk: its source ID when
// present, its chunk ID otherwise, and a content hash as a last resort.
func SourceKey(c *types.Chunk) string {
	if c.Metadata.SourceID != "" {
		return c.Metadata.SourceID
	}
	if c.ID != "" {
		return c.ID
	}
	return contentFingerprint(c)
}

// identityKey distinguishes individual chunks during dedup. Unlike SourceKey
// it never collapses distinct anonymous chunks from the same source.
func identityKey(c *types.Chunk) string {
	if c.ID != "" {
		return c.ID
	}
	return contentFingerprint(c)
}

func contentFingerprint(c *types.Chunk) string {
	content := c.Content
	if len(content) > 100 {
		content = content[:100]
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d", content, c.Metadata.ChunkType, c.Metadata.Timestamp))) // #nosec G401
	return hex.EncodeToString(sum[:])[:16]
}

// Enforce selects up to n candidates in three passes: a greedy pass that
// respects the per-source quota, a fill pass that tops up to n from the best
// remainder, and a swap pass that trades overrepresented sources for
// unrepresented ones until the source minimum is met or no trade is possible.
// Candidates must arrive sorted by salience, best first.
func (e *Enforcer) Enforce(candidates []types.Candidate, n int) *Result {
	result := &Result{
		SourceHistogram: make(map[string]int),
		TypeHistogram:   make(map[string]int),
	}
	if n <= 0 || len(candidates) == 0 {
		return result
	}

	selected := make([]types.Candidate, 0, n)
	selectedIDs := make(map[string]struct{}, n)
	perSource := make(map[string]int)
	var remaining []types.Candidate

	// Pass 1: greedy admission under the per-source quota
	for _, c := range candidates {
		if len(selected) >= n {
			remaining = append(remaining, c)
			continue
		}
		key := SourceKey(&c.Chunk)
		if perSource[key] >= e.quotas.MaxPerSource {
			remaining = append(remaining, c)
			continue
		}
		selected = append(selected, c)
		selectedIDs[identityKey(&c.Chunk)] = struct{}{}
		perSource[key]++
	}

	// Pass 2: fill to n from the best remainder. The numeric quota is no
	// longer binding, but stable-key dedup still is: a key already in the
	// selection is never re-admitted here.
	for _, c := range remaining {
		if len(selected) >= n {
			break
		}
		if _, dup := selectedIDs[identityKey(&c.Chunk)]; dup {
			continue
		}
		if perSource[SourceKey(&c.Chunk)] > 0 {
			continue
		}
		selected = append(selected, c)
		selectedIDs[identityKey(&c.Chunk)] = struct{}{}
		perSource[SourceKey(&c.Chunk)]++
	}

	// Pass 3: trade overrepresented sources for unrepresented ones
	for countUnique(perSource) < e.quotas.MinUniqueSources {
		candidate, ok := pickUnrepresented(remaining, perSource, selectedIDs)
		if !ok {
			break
		}

		if len(selected) < n {
			selected = append(selected, *candidate)
			selectedIDs[identityKey(&candidate.Chunk)] = struct{}{}
			perSource[SourceKey(&candidate.Chunk)]++
			continue
		}

		victim := pickVictim(selected, perSource)
		if victim < 0 {
			break
		}

		victimKey := SourceKey(&selected[victim].Chunk)
		delete(selectedIDs, identityKey(&selected[victim].Chunk))
		perSource[victimKey]--
		if perSource[victimKey] == 0 {
			delete(perSource, victimKey)
		}

		selected[victim] = *candidate
		selectedIDs[identityKey(&candidate.Chunk)] = struct{}{}
		perSource[SourceKey(&candidate.Chunk)]++
		result.Swaps++
	}

	// Swaps land at the victim's index, so restore the best-first order the
	// downstream stages rely on.
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Salience > selected[j].Salience
	})

	result.Selected = selected
	for _, c := range selected {
		result.SourceHistogram[SourceKey(&c.Chunk)]++
		result.TypeHistogram[string(c.Chunk.Metadata.ChunkType)]++
	}
	result.UniqueSources = len(result.SourceHistogram)
	result.UniqueTypes = len(result.TypeHistogram)

	if result.UniqueSources < e.quotas.MinUniqueSources {
		warning := fmt.Sprintf("only %d unique sources available, wanted %d",
			result.UniqueSources, e.quotas.MinUniqueSources)
		result.Warnings = append(result.Warnings, warning)
		e.logger.Warn("source diversity below minimum",
			"unique_sources", result.UniqueSources, "minimum", e.quotas.MinUniqueSources)
	}
	if result.UniqueTypes < e.quotas.MinUniqueTypes {
		warning := fmt.Sprintf("only %d unique chunk types available, wanted %d",
			result.UniqueTypes, e.quotas.MinUniqueTypes)
		result.Warnings = append(result.Warnings, warning)
		e.logger.Warn("type diversity below minimum",
			"unique_types", result.UniqueTypes, "minimum", e.quotas.MinUniqueTypes)
	}

	return result
}

func countUnique(perSource map[string]int) int {
	unique := 0
	for _, count := range perSource {
		if count > 0 {
			unique++
		}
	}
	return unique
}

// pickUnrepresented returns the best remaining candidate whose source is not
// yet selected
func pickUnrepresented(remaining []types.Candidate, perSource map[string]int, selectedIDs map[string]struct{}) (*types.Candidate, bool) {
	for i := range remaining {
		c := &remaining[i]
		if _, dup := selectedIDs[identityKey(&c.Chunk)]; dup {
			continue
		}
		if perSource[SourceKey(&c.Chunk)] > 0 {
			continue
		}
		return c, true
	}
	return nil, false
}

// pickVictim returns the index of the lowest-salience card belonging to the
// most overrepresented source, or -1 when no source holds more than one card.
// Sources are scanned in sorted order so ties resolve the same way every run.
func pickVictim(selected []types.Candidate, perSource map[string]int) int {
	keys := make([]string, 0, len(perSource))
	for key := range perSource {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var victimSource string
	maxCount := 1
	for _, key := range keys {
		if perSource[key] > maxCount {
			maxCount = perSource[key]
			victimSource = key
		}
	}
	if victimSource == "" {
		return -1
	}

	victim := -1
	for i := range selected {
		if SourceKey(&selected[i].Chunk) != victimSource {
			continue
		}
		if victim < 0 || selected[i].Salience < selected[victim].Salience {
			victim = i
		}
	}
	return victim
}
