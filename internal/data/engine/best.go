package engine

import (
	"math"

	"github.com/yungbote/trialstore/internal/domain/optimization"
)

// bestTrial picks the COMPLETE trial with the extreme value under d
// (MAXIMIZE takes the largest, MINIMIZE and NOT_SET the smallest). Ties go to
// the lowest trial ID; NaN values never win.
func bestTrial(trials []*optimization.Trial, d optimization.StudyDirection) *optimization.Trial {
	var best *optimization.Trial
	for _, t := range trials {
		if t.State != optimization.TrialComplete || t.Value == nil || math.IsNaN(*t.Value) {
			continue
		}
		switch {
		case best == nil,
			optimization.BetterValue(d, *t.Value, *best.Value),
			*t.Value == *best.Value && t.ID < best.ID:
			best = t
		}
	}
	return best
}
