package hexmap

import (
	"sort"
	"time"
)

// Outcome is the classification of one reported hex against the Town Map.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeConflict  Outcome = "conflict"
)

// Classify decides how a reported terrain merges into the Town Map.
// existing is nil when the Town Map has no hex at that coordinate.
func Classify(existing *Terrain, reported Terrain) Outcome {
	switch {
	case existing == nil:
		return OutcomeNew
	case *existing == reported:
		return OutcomeConfirmed
	default:
		return OutcomeConflict
	}
}

// LostWindow is how many of the most recent explorations decide whether a
// party is lost.
const LostWindow = 5

// Exploration is the minimal view of an exploration record needed for lost detection.
type Exploration struct {
	Accurate   bool
	ExploredAt time.Time
}

// IsLost reports whether any of the LostWindow most recent explorations was inaccurate.
func IsLost(records []Exploration) bool {
	sorted := make([]Exploration, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExploredAt.After(sorted[j].ExploredAt)
	})
	if len(sorted) > LostWindow {
		sorted = sorted[:LostWindow]
	}
	for _, r := range sorted {
		if !r.Accurate {
			return true
		}
	}
	return false
}
