package codec

import (
	"strconv"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
)

// EncodeTrial renders a trial document. Params are stored in their internal
// representation next to the distribution that interprets them.
func EncodeTrial(t *optimization.Trial) (docstore.Document, error) {
	state, err := EncodeState(t.State)
	if err != nil {
		return nil, err
	}
	doc := docstore.Document{
		FieldTrialID: t.ID,
		FieldStudyID: t.StudyID,
		FieldNumber:  t.Number,
		FieldState:   state,
	}
	if t.Value != nil && len(t.Values) > 0 {
		return nil, invalid(FieldValue, "trial has both value and values")
	}
	if t.Value != nil {
		doc[FieldValue] = EncodeFloat(*t.Value)
	}
	if len(t.Values) > 0 {
		doc[FieldValues] = EncodeFloats(t.Values)
	}
	if t.DatetimeStart != nil {
		doc[FieldDatetimeStart] = EncodeTime(*t.DatetimeStart)
	}
	if t.DatetimeComplete != nil {
		doc[FieldDatetimeComplete] = EncodeTime(*t.DatetimeComplete)
	}
	if len(t.Params) > 0 {
		params := make(map[string]any, len(t.Params))
		dists := make(map[string]any, len(t.Params))
		for name, external := range t.Params {
			d, ok := t.Distributions[name]
			if !ok || d == nil {
				return nil, invalid(FieldParams, "param %q has no distribution", name)
			}
			internal, err := d.ToInternal(external)
			if err != nil {
				return nil, invalid(FieldParams, "param %q: %v", name, err)
			}
			desc, err := EncodeDistribution(d)
			if err != nil {
				return nil, err
			}
			params[EscapeKey(name)] = EncodeFloat(internal)
			dists[EscapeKey(name)] = desc
		}
		doc[FieldParams] = params
		doc[FieldDistributions] = dists
	}
	if err := putAttrs(doc, FieldUserAttrs, t.UserAttrs); err != nil {
		return nil, err
	}
	if err := putAttrs(doc, FieldSystemAttrs, t.SystemAttrs); err != nil {
		return nil, err
	}
	if len(t.IntermediateValues) > 0 {
		iv := make(map[string]any, len(t.IntermediateValues))
		for step, v := range t.IntermediateValues {
			iv[stepKey(step)] = EncodeFloat(v)
		}
		doc[FieldIntermediateValues] = iv
	}
	return doc, nil
}

func EncodeFloats(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = EncodeFloat(v)
	}
	return out
}

func DecodeTrial(doc docstore.Document) (*optimization.Trial, error) {
	t := &optimization.Trial{}
	var ok bool
	if t.ID, ok = DecodeInt(doc[FieldTrialID]); !ok {
		return nil, corrupt(FieldTrialID, "missing or non-integer trial_id %v", doc[FieldTrialID])
	}
	if t.StudyID, ok = DecodeInt(doc[FieldStudyID]); !ok {
		return nil, corrupt(FieldStudyID, "trial %d: missing or non-integer study_id", t.ID)
	}
	if t.Number, ok = DecodeInt(doc[FieldNumber]); !ok {
		return nil, corrupt(FieldNumber, "trial %d: missing or non-integer number", t.ID)
	}
	var err error
	if t.State, err = DecodeState(doc[FieldState]); err != nil {
		return nil, err
	}
	if v, present := doc[FieldValue]; present && v != nil {
		f, err := DecodeFloat(FieldValue, v)
		if err != nil {
			return nil, err
		}
		t.Value = &f
	}
	if v, present := doc[FieldValues]; present && v != nil {
		raw, ok := v.([]any)
		if !ok {
			return nil, corrupt(FieldValues, "trial %d: values are %T, want array", t.ID, v)
		}
		t.Values = make([]float64, len(raw))
		for i, x := range raw {
			if t.Values[i], err = DecodeFloat(FieldValues, x); err != nil {
				return nil, err
			}
		}
	}
	if t.DatetimeStart, err = DecodeTime(FieldDatetimeStart, doc[FieldDatetimeStart]); err != nil {
		return nil, err
	}
	if t.DatetimeComplete, err = DecodeTime(FieldDatetimeComplete, doc[FieldDatetimeComplete]); err != nil {
		return nil, err
	}
	if err := decodeParams(t, doc); err != nil {
		return nil, err
	}
	if t.UserAttrs, err = DecodeAttrs(FieldUserAttrs, doc[FieldUserAttrs]); err != nil {
		return nil, err
	}
	if t.SystemAttrs, err = DecodeAttrs(FieldSystemAttrs, doc[FieldSystemAttrs]); err != nil {
		return nil, err
	}
	t.IntermediateValues = map[int64]float64{}
	if v := doc[FieldIntermediateValues]; v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, corrupt(FieldIntermediateValues, "trial %d: %T, want document", t.ID, v)
		}
		for k, x := range m {
			step, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, corrupt(FieldIntermediateValues, "trial %d: bad step %q", t.ID, k)
			}
			if t.IntermediateValues[step], err = DecodeFloat(FieldIntermediateValues, x); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func decodeParams(t *optimization.Trial, doc docstore.Document) error {
	t.Params = map[string]any{}
	t.Distributions = map[string]optimization.Distribution{}
	if doc[FieldParams] == nil {
		return nil
	}
	params, ok := doc[FieldParams].(map[string]any)
	if !ok {
		return corrupt(FieldParams, "trial %d: params are %T, want document", t.ID, doc[FieldParams])
	}
	dists, _ := doc[FieldDistributions].(map[string]any)
	for key, raw := range params {
		name := UnescapeKey(key)
		internal, err := DecodeFloat(FieldParams, raw)
		if err != nil {
			return err
		}
		desc, ok := dists[key]
		if !ok {
			return corrupt(FieldDistributions, "trial %d: param %q has no distribution", t.ID, name)
		}
		d, err := DecodeDistribution(desc)
		if err != nil {
			return err
		}
		external, err := d.ToExternal(internal)
		if err != nil {
			return corrupt(FieldParams, "trial %d: param %q: %v", t.ID, name, err)
		}
		t.Params[name] = external
		t.Distributions[name] = d
	}
	return nil
}
