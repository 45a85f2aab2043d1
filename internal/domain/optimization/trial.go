package optimization

import (
	"fmt"
	"time"
)

// Trial is a snapshot of one evaluation attempt within a study.
//
// Value and Values are mutually exclusive: single-objective results live in
// Value, multi-objective results in Values.
type Trial struct {
	ID                 int64
	StudyID            int64
	Number             int64
	State              TrialState
	Value              *float64
	Values             []float64
	DatetimeStart      *time.Time
	DatetimeComplete   *time.Time
	Params             map[string]any
	Distributions      map[string]Distribution
	UserAttrs          map[string]any
	SystemAttrs        map[string]any
	IntermediateValues map[int64]float64
}

// Objectives returns the recorded objective values regardless of arity.
func (t *Trial) Objectives() []float64 {
	if t == nil {
		return nil
	}
	if len(t.Values) > 0 {
		out := make([]float64, len(t.Values))
		copy(out, t.Values)
		return out
	}
	if t.Value != nil {
		return []float64{*t.Value}
	}
	return nil
}

// SetObjectives stores values using the single/multi collapse rule.
func (t *Trial) SetObjectives(values []float64) {
	t.Value, t.Values = nil, nil
	switch len(values) {
	case 0:
	case 1:
		v := values[0]
		t.Value = &v
	default:
		t.Values = append([]float64(nil), values...)
	}
}

// Validate checks the internal consistency of a trial snapshot, as used for
// template trials before they are persisted.
func (t *Trial) Validate() error {
	if !t.State.Valid() {
		return fmt.Errorf("invalid trial state %d", int(t.State))
	}
	if t.Value != nil && len(t.Values) > 0 {
		return fmt.Errorf("trial has both value and values")
	}
	for name, v := range t.Params {
		d, ok := t.Distributions[name]
		if !ok || d == nil {
			return fmt.Errorf("param %q has no distribution", name)
		}
		internal, err := d.ToInternal(v)
		if err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		if !d.Contains(internal) {
			return fmt.Errorf("param %q: value %v outside distribution", name, v)
		}
	}
	for name := range t.Distributions {
		if _, ok := t.Params[name]; !ok {
			return fmt.Errorf("distribution %q has no param", name)
		}
	}
	if t.State == TrialComplete && t.Value == nil && len(t.Values) == 0 {
		return fmt.Errorf("complete trial has no value")
	}
	return nil
}

// Clone returns a deep copy; attribute values are copied one level deep.
func (t *Trial) Clone() *Trial {
	if t == nil {
		return nil
	}
	out := *t
	if t.Value != nil {
		v := *t.Value
		out.Value = &v
	}
	out.Values = append([]float64(nil), t.Values...)
	if len(t.Values) == 0 {
		out.Values = nil
	}
	out.DatetimeStart = cloneTime(t.DatetimeStart)
	out.DatetimeComplete = cloneTime(t.DatetimeComplete)
	out.Params = cloneAnyMap(t.Params)
	out.UserAttrs = cloneAnyMap(t.UserAttrs)
	out.SystemAttrs = cloneAnyMap(t.SystemAttrs)
	if t.Distributions != nil {
		out.Distributions = make(map[string]Distribution, len(t.Distributions))
		for k, v := range t.Distributions {
			out.Distributions[k] = v
		}
	}
	if t.IntermediateValues != nil {
		out.IntermediateValues = make(map[int64]float64, len(t.IntermediateValues))
		for k, v := range t.IntermediateValues {
			out.IntermediateValues[k] = v
		}
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
