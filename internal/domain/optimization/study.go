package optimization

import "time"

// DefaultStudyNamePrefix prefixes synthesized names of unnamed studies.
const DefaultStudyNamePrefix = "no-name-"

type Study struct {
	ID          int64
	Name        string
	Directions  []StudyDirection
	UserAttrs   map[string]any
	SystemAttrs map[string]any
}

// StudySummary is the per-study overview returned by summary listings.
type StudySummary struct {
	StudyID       int64
	StudyName     string
	Directions    []StudyDirection
	UserAttrs     map[string]any
	SystemAttrs   map[string]any
	NTrials       int64
	DatetimeStart *time.Time
	// BestTrial is only populated for single-objective studies when requested.
	BestTrial *Trial
}

// IsMultiObjective reports whether the study optimizes more than one value.
func (s StudySummary) IsMultiObjective() bool {
	return len(s.Directions) > 1
}

// BetterValue reports whether candidate beats incumbent under direction d.
// NOT_SET is treated as minimization.
func BetterValue(d StudyDirection, candidate, incumbent float64) bool {
	if d == DirectionMaximize {
		return candidate > incumbent
	}
	return candidate < incumbent
}
