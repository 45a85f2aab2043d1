package optimization

import "fmt"

// TrialState is the lifecycle state of a trial.
type TrialState int

const (
	TrialRunning TrialState = iota
	TrialComplete
	TrialPruned
	TrialFail
	TrialWaiting
)

func (s TrialState) String() string {
	switch s {
	case TrialRunning:
		return "RUNNING"
	case TrialComplete:
		return "COMPLETE"
	case TrialPruned:
		return "PRUNED"
	case TrialFail:
		return "FAIL"
	case TrialWaiting:
		return "WAITING"
	default:
		return fmt.Sprintf("TrialState(%d)", int(s))
	}
}

// IsFinished reports whether the state is terminal. Terminal states are absorbing.
func (s TrialState) IsFinished() bool {
	return s == TrialComplete || s == TrialPruned || s == TrialFail
}

func (s TrialState) Valid() bool {
	return s >= TrialRunning && s <= TrialWaiting
}

// ParseTrialState accepts the upper-case names produced by String.
func ParseTrialState(name string) (TrialState, error) {
	for s := TrialRunning; s <= TrialWaiting; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown trial state %q", name)
}

// ActiveStates are the states in which a trial may still be mutated.
var ActiveStates = []TrialState{TrialRunning, TrialWaiting}

// StudyDirection is the optimization sense of one objective.
type StudyDirection int

const (
	DirectionNotSet StudyDirection = iota
	DirectionMinimize
	DirectionMaximize
)

func (d StudyDirection) String() string {
	switch d {
	case DirectionNotSet:
		return "NOT_SET"
	case DirectionMinimize:
		return "MINIMIZE"
	case DirectionMaximize:
		return "MAXIMIZE"
	default:
		return fmt.Sprintf("StudyDirection(%d)", int(d))
	}
}

func (d StudyDirection) Valid() bool {
	return d >= DirectionNotSet && d <= DirectionMaximize
}

// Opposite returns the flipped direction; NOT_SET has no opposite and maps to itself.
func (d StudyDirection) Opposite() StudyDirection {
	switch d {
	case DirectionMinimize:
		return DirectionMaximize
	case DirectionMaximize:
		return DirectionMinimize
	default:
		return d
	}
}

// ParseStudyDirection accepts MINIMIZE / MAXIMIZE / NOT_SET.
func ParseStudyDirection(name string) (StudyDirection, error) {
	for d := DirectionNotSet; d <= DirectionMaximize; d++ {
		if d.String() == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown study direction %q", name)
}

// AllNotSet reports whether no direction in ds is meaningfully set.
func AllNotSet(ds []StudyDirection) bool {
	for _, d := range ds {
		if d != DirectionNotSet {
			return false
		}
	}
	return true
}

// IsOpposite reports whether next flips every coordinate of prev.
// Sequences of different length, or containing NOT_SET, are never opposite.
func IsOpposite(prev, next []StudyDirection) bool {
	if len(prev) == 0 || len(prev) != len(next) {
		return false
	}
	for i := range prev {
		if prev[i] == DirectionNotSet || next[i] != prev[i].Opposite() {
			return false
		}
	}
	return true
}
