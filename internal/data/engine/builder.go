package engine

import (
	"fmt"
	"time"

	"github.com/yungbote/trialstore/internal/domain/optimization"
)

// trialBuilder assembles a new trial in memory so that it can be written in
// one insert with its final state. Nothing is observable in the store until
// the insert.
type trialBuilder struct {
	trial *optimization.Trial
}

// newTrialBuilder starts from template (copied) or from a fresh RUNNING trial.
func newTrialBuilder(template *optimization.Trial, now time.Time) *trialBuilder {
	if template == nil {
		return &trialBuilder{trial: &optimization.Trial{
			State:         optimization.TrialRunning,
			DatetimeStart: &now,
		}}
	}
	t := template.Clone()
	t.ID, t.StudyID, t.Number = 0, 0, 0
	switch {
	case t.State == optimization.TrialRunning && t.DatetimeStart == nil:
		t.DatetimeStart = &now
	case t.State.IsFinished() && t.DatetimeComplete == nil:
		t.DatetimeComplete = &now
	}
	if !t.State.IsFinished() {
		t.DatetimeComplete = nil
	}
	return &trialBuilder{trial: t}
}

// validate checks the template against the study's objectives.
func (b *trialBuilder) validate(directions []optimization.StudyDirection) error {
	t := b.trial
	if err := t.Validate(); err != nil {
		return err
	}
	if n := len(t.Objectives()); n > 0 && !optimization.AllNotSet(directions) && n != len(directions) {
		return fmt.Errorf("template has %d values but the study has %d objectives", n, len(directions))
	}
	return nil
}

// build stamps the identity fields; the rest was fixed at construction.
func (b *trialBuilder) build(trialID, studyID, number int64) *optimization.Trial {
	t := *b.trial
	t.ID, t.StudyID, t.Number = trialID, studyID, number
	return &t
}
