package engine

import (
	"math"
	"testing"
	"time"

	"github.com/yungbote/trialstore/internal/domain/optimization"
)

func TestNewTrialBuilderStampsTimes(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	b := newTrialBuilder(nil, now)
	if b.trial.State != optimization.TrialRunning || b.trial.DatetimeStart == nil || !b.trial.DatetimeStart.Equal(now) {
		t.Fatalf("fresh trial: got state=%s start=%v", b.trial.State, b.trial.DatetimeStart)
	}

	v := 1.0
	b = newTrialBuilder(&optimization.Trial{State: optimization.TrialComplete, Value: &v, DatetimeStart: &earlier}, now)
	if !b.trial.DatetimeStart.Equal(earlier) || b.trial.DatetimeComplete == nil || !b.trial.DatetimeComplete.Equal(now) {
		t.Fatalf("complete template: got start=%v complete=%v", b.trial.DatetimeStart, b.trial.DatetimeComplete)
	}

	b = newTrialBuilder(&optimization.Trial{State: optimization.TrialWaiting, DatetimeComplete: &earlier}, now)
	if b.trial.DatetimeStart != nil || b.trial.DatetimeComplete != nil {
		t.Fatalf("waiting template: want no timestamps got start=%v complete=%v", b.trial.DatetimeStart, b.trial.DatetimeComplete)
	}
}

func TestTrialBuilderValidateObjectives(t *testing.T) {
	two := []optimization.StudyDirection{optimization.DirectionMinimize, optimization.DirectionMaximize}
	b := newTrialBuilder(&optimization.Trial{State: optimization.TrialComplete, Values: []float64{1, 2, 3}}, time.Now())
	if err := b.validate(two); err == nil {
		t.Fatalf("validate: want arity error for 3 values against 2 objectives")
	}
	if err := b.validate([]optimization.StudyDirection{optimization.DirectionNotSet}); err != nil {
		t.Fatalf("validate with unset directions: %v", err)
	}
	b = newTrialBuilder(&optimization.Trial{State: optimization.TrialComplete}, time.Now())
	if err := b.validate(two); err == nil {
		t.Fatalf("validate: want error for complete trial without value")
	}
}

func TestTrialBuilderBuild(t *testing.T) {
	b := newTrialBuilder(&optimization.Trial{ID: 5, Number: 8, State: optimization.TrialRunning}, time.Now())
	first := b.build(10, 2, 0)
	second := b.build(11, 2, 1)
	if first.ID != 10 || first.StudyID != 2 || first.Number != 0 {
		t.Fatalf("build: got %+v", first)
	}
	if second.ID != 11 || second.Number != 1 || first.ID != 10 {
		t.Fatalf("build reuse: first=%+v second=%+v", first, second)
	}
}

func TestBestTrial(t *testing.T) {
	val := func(v float64) *float64 { return &v }
	trials := []*optimization.Trial{
		{ID: 4, State: optimization.TrialComplete, Value: val(2)},
		{ID: 1, State: optimization.TrialComplete, Value: val(math.NaN())},
		{ID: 2, State: optimization.TrialComplete, Value: val(2)},
		{ID: 3, State: optimization.TrialPruned, Value: val(-10)},
		{ID: 5, State: optimization.TrialComplete, Value: val(7)},
		{ID: 6, State: optimization.TrialComplete},
	}

	if got := bestTrial(trials, optimization.DirectionMinimize); got == nil || got.ID != 2 {
		t.Fatalf("bestTrial(MINIMIZE): want id=2 got=%+v", got)
	}
	if got := bestTrial(trials, optimization.DirectionNotSet); got == nil || got.ID != 2 {
		t.Fatalf("bestTrial(NOT_SET): want id=2 got=%+v", got)
	}
	if got := bestTrial(trials, optimization.DirectionMaximize); got == nil || got.ID != 5 {
		t.Fatalf("bestTrial(MAXIMIZE): want id=5 got=%+v", got)
	}
	if got := bestTrial(trials[1:2], optimization.DirectionMinimize); got != nil {
		t.Fatalf("bestTrial(NaN only): want nil got=%+v", got)
	}
}

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to optimization.TrialState
		want     bool
	}{
		{optimization.TrialRunning, optimization.TrialComplete, true},
		{optimization.TrialRunning, optimization.TrialPruned, true},
		{optimization.TrialRunning, optimization.TrialFail, true},
		{optimization.TrialRunning, optimization.TrialWaiting, false},
		{optimization.TrialWaiting, optimization.TrialRunning, true},
		{optimization.TrialWaiting, optimization.TrialComplete, false},
		{optimization.TrialComplete, optimization.TrialRunning, false},
	}
	for _, tc := range cases {
		if got := transitionAllowed(tc.from, tc.to); got != tc.want {
			t.Fatalf("transitionAllowed(%s, %s): want=%v got=%v", tc.from, tc.to, tc.want, got)
		}
	}
}
