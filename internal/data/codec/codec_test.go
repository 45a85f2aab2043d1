package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
	"github.com/yungbote/trialstore/internal/domain/storage"
)

func TestTrialRoundTrip_SingleValueOmitsValues(t *testing.T) {
	uniform, err := optimization.Uniform(0, 1)
	if err != nil {
		t.Fatalf("Uniform: %v", err)
	}
	v := 3.5
	in := &optimization.Trial{
		ID:            7,
		StudyID:       2,
		Number:        0,
		State:         optimization.TrialComplete,
		Value:         &v,
		Params:        map[string]any{"x": 0.1},
		Distributions: map[string]optimization.Distribution{"x": uniform},
	}
	doc, err := EncodeTrial(in)
	if err != nil {
		t.Fatalf("EncodeTrial: %v", err)
	}
	if _, present := doc[FieldValues]; present {
		t.Fatalf("EncodeTrial: values should be omitted, got %v", doc[FieldValues])
	}
	if _, present := doc[FieldDatetimeStart]; present {
		t.Fatalf("EncodeTrial: datetime_start should be omitted")
	}

	out, err := DecodeTrial(doc)
	if err != nil {
		t.Fatalf("DecodeTrial: %v", err)
	}
	if out.Values != nil {
		t.Fatalf("DecodeTrial values: want=nil got=%v", out.Values)
	}
	if out.Value == nil || *out.Value != 3.5 {
		t.Fatalf("DecodeTrial value: want=3.5 got=%v", out.Value)
	}
	if out.State != optimization.TrialComplete {
		t.Fatalf("DecodeTrial state: want=COMPLETE got=%s", out.State)
	}
	if out.Params["x"] != 0.1 {
		t.Fatalf("DecodeTrial param: want=0.1 got=%v", out.Params["x"])
	}
	if !optimization.EqualDistributions(out.Distributions["x"], uniform) {
		t.Fatalf("DecodeTrial distribution mismatch: %#v", out.Distributions["x"])
	}
	if out.ID != 7 || out.StudyID != 2 || out.Number != 0 {
		t.Fatalf("DecodeTrial ids: got id=%d study=%d number=%d", out.ID, out.StudyID, out.Number)
	}
}

func TestTrialRoundTrip_ThroughJSON(t *testing.T) {
	cat, err := optimization.NewCategoricalDistribution([]any{"a", "b", nil})
	if err != nil {
		t.Fatalf("NewCategoricalDistribution: %v", err)
	}
	ints, err := optimization.NewIntDistribution(1, 10, false, 3)
	if err != nil {
		t.Fatalf("NewIntDistribution: %v", err)
	}
	start := time.Date(2024, 5, 1, 12, 30, 0, 123456000, time.UTC)
	in := &optimization.Trial{
		ID:               1,
		StudyID:          1,
		Number:           4,
		State:            optimization.TrialPruned,
		Values:           []float64{1.5, math.Inf(1), math.NaN()},
		DatetimeStart:    &start,
		DatetimeComplete: &start,
		Params:           map[string]any{"opt.name": "b", "$depth": int64(7)},
		Distributions:    map[string]optimization.Distribution{"opt.name": cat, "$depth": ints},
		UserAttrs:        map[string]any{"a.b": map[string]any{"$c": 1}},
		IntermediateValues: map[int64]float64{
			0: 0.5,
			3: math.Inf(-1),
		},
	}
	doc, err := EncodeTrial(in)
	if err != nil {
		t.Fatalf("EncodeTrial: %v", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var back map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&back); err != nil {
		t.Fatalf("json.Decode: %v", err)
	}

	out, err := DecodeTrial(back)
	if err != nil {
		t.Fatalf("DecodeTrial: %v", err)
	}
	if out.Value != nil {
		t.Fatalf("DecodeTrial value: want=nil got=%v", *out.Value)
	}
	if len(out.Values) != 3 || out.Values[0] != 1.5 || !math.IsInf(out.Values[1], 1) || !math.IsNaN(out.Values[2]) {
		t.Fatalf("DecodeTrial values: got=%v", out.Values)
	}
	if !out.DatetimeStart.Equal(start) {
		t.Fatalf("DecodeTrial datetime_start: want=%v got=%v", start, out.DatetimeStart)
	}
	if out.Params["opt.name"] != "b" {
		t.Fatalf("DecodeTrial param opt.name: want=b got=%v", out.Params["opt.name"])
	}
	if out.Params["$depth"] != int64(7) {
		t.Fatalf("DecodeTrial param $depth: want=7 got=%v (%T)", out.Params["$depth"], out.Params["$depth"])
	}
	nested, _ := out.UserAttrs["a.b"].(map[string]any)
	if nested == nil || nested["$c"] != int64(1) {
		t.Fatalf("DecodeTrial user_attrs: got=%v", out.UserAttrs)
	}
	if !math.IsInf(out.IntermediateValues[3], -1) || out.IntermediateValues[0] != 0.5 {
		t.Fatalf("DecodeTrial intermediate_values: got=%v", out.IntermediateValues)
	}
}

func TestDecodeState_UnknownCodeIsCorrupt(t *testing.T) {
	_, err := DecodeState(int64(9))
	if !storage.IsCode(err, storage.CodeCorruptData) {
		t.Fatalf("DecodeState: want corrupt_data got %q (%v)", storage.CodeOf(err), err)
	}
	_, err = DecodeState("RUNNING")
	if !storage.IsCode(err, storage.CodeCorruptData) {
		t.Fatalf("DecodeState(string): want corrupt_data got %q (%v)", storage.CodeOf(err), err)
	}
}

func TestStateCodesAreStable(t *testing.T) {
	want := map[optimization.TrialState]int64{
		optimization.TrialRunning:  0,
		optimization.TrialComplete: 1,
		optimization.TrialPruned:   2,
		optimization.TrialFail:     3,
		optimization.TrialWaiting:  4,
	}
	for s, code := range want {
		got, err := EncodeState(s)
		if err != nil || got != code {
			t.Fatalf("EncodeState(%s): want=%d got=%d err=%v", s, code, got, err)
		}
		back, err := DecodeState(int32(code))
		if err != nil || back != s {
			t.Fatalf("DecodeState(%d): want=%s got=%s err=%v", code, s, back, err)
		}
	}
}

func TestDecodeDirections(t *testing.T) {
	got, err := DecodeDirections(nil)
	if err != nil || len(got) != 1 || got[0] != optimization.DirectionNotSet {
		t.Fatalf("DecodeDirections(nil): want=[NOT_SET] got=%v err=%v", got, err)
	}
	got, err = DecodeDirections([]any{int32(2), float64(1)})
	if err != nil || len(got) != 2 || got[0] != optimization.DirectionMaximize || got[1] != optimization.DirectionMinimize {
		t.Fatalf("DecodeDirections: want=[MAXIMIZE MINIMIZE] got=%v err=%v", got, err)
	}
	if _, err := DecodeDirections([]any{int64(5)}); !storage.IsCode(err, storage.CodeCorruptData) {
		t.Fatalf("DecodeDirections(5): want corrupt_data got %v", err)
	}
}

func TestEscapeKeyIsReversible(t *testing.T) {
	for _, k := range []string{"plain", "a.b", "$set", "%2E", "50%", "$.%$", "mid$dle", ""} {
		esc := EscapeKey(k)
		if esc != "" && (esc[0] == '$' || containsDot(esc)) {
			t.Fatalf("EscapeKey(%q): unsafe result %q", k, esc)
		}
		if back := UnescapeKey(esc); back != k {
			t.Fatalf("UnescapeKey(EscapeKey(%q)): got=%q", k, back)
		}
	}
}

func TestDecodeDistribution_Legacy(t *testing.T) {
	cases := []struct {
		desc docstore.Document
		want optimization.Distribution
	}{
		{
			desc: docstore.Document{"name": "UniformDistribution", "attributes": map[string]any{"low": 0.0, "high": 2.0}},
			want: mustFloat(t, 0, 2, false, nil),
		},
		{
			desc: docstore.Document{"name": "LogUniformDistribution", "attributes": map[string]any{"low": 1e-3, "high": 1.0}},
			want: mustFloat(t, 1e-3, 1, true, nil),
		},
		{
			desc: docstore.Document{"name": "DiscreteUniformDistribution", "attributes": map[string]any{"low": 0.0, "high": 1.0, "q": 0.25}},
			want: mustFloat(t, 0, 1, false, ptr(0.25)),
		},
		{
			desc: docstore.Document{"name": "IntUniformDistribution", "attributes": map[string]any{"low": int64(1), "high": int64(9)}},
			want: mustInt(t, 1, 9, false, 1),
		},
		{
			desc: docstore.Document{"name": "IntLogUniformDistribution", "attributes": map[string]any{"low": int32(1), "high": int32(64)}},
			want: mustInt(t, 1, 64, true, 1),
		},
	}
	for _, tc := range cases {
		got, err := DecodeDistribution(tc.desc)
		if err != nil {
			t.Fatalf("DecodeDistribution(%v): %v", tc.desc["name"], err)
		}
		if !optimization.EqualDistributions(got, tc.want) {
			t.Fatalf("DecodeDistribution(%v): want=%#v got=%#v", tc.desc["name"], tc.want, got)
		}
	}
}

func TestDecodeDistribution_JSONText(t *testing.T) {
	got, err := DecodeDistribution(`{"name": "IntDistribution", "attributes": {"low": 0, "high": 10, "log": false, "step": 2}}`)
	if err != nil {
		t.Fatalf("DecodeDistribution: %v", err)
	}
	want := mustInt(t, 0, 10, false, 2)
	if !optimization.EqualDistributions(got, want) {
		t.Fatalf("DecodeDistribution: want=%#v got=%#v", want, got)
	}
}

func TestDecodeDistribution_Unknown(t *testing.T) {
	_, err := DecodeDistribution(docstore.Document{"name": "BetaDistribution", "attributes": map[string]any{}})
	if !storage.IsCode(err, storage.CodeCorruptData) {
		t.Fatalf("DecodeDistribution: want corrupt_data got %v", err)
	}
}

func TestEncodeAttrs_RejectsNonJSON(t *testing.T) {
	_, err := EncodeAttrs(FieldUserAttrs, map[string]any{"f": func() {}})
	if !storage.IsCode(err, storage.CodeInvalidArgument) {
		t.Fatalf("EncodeAttrs: want invalid_argument got %v", err)
	}
}

func TestStudyRoundTrip(t *testing.T) {
	in := &optimization.Study{
		ID:         3,
		Name:       "s1",
		Directions: []optimization.StudyDirection{optimization.DirectionMaximize},
		UserAttrs:  map[string]any{"owner": "ci"},
	}
	doc, err := EncodeStudy(in)
	if err != nil {
		t.Fatalf("EncodeStudy: %v", err)
	}
	if _, present := doc[FieldSystemAttrs]; present {
		t.Fatalf("EncodeStudy: empty system_attrs should be omitted")
	}
	out, err := DecodeStudy(doc)
	if err != nil {
		t.Fatalf("DecodeStudy: %v", err)
	}
	if out.ID != 3 || out.Name != "s1" || len(out.Directions) != 1 || out.Directions[0] != optimization.DirectionMaximize {
		t.Fatalf("DecodeStudy: got=%+v", out)
	}
	if out.UserAttrs["owner"] != "ci" || out.SystemAttrs == nil {
		t.Fatalf("DecodeStudy attrs: got user=%v system=%v", out.UserAttrs, out.SystemAttrs)
	}
}

func TestTimeRoundTripKeepsMicroseconds(t *testing.T) {
	in := time.Date(2031, 1, 2, 3, 4, 5, 987654321, time.UTC)
	got, err := DecodeTime(FieldDatetimeStart, EncodeTime(in))
	if err != nil {
		t.Fatalf("DecodeTime: %v", err)
	}
	want := in.Truncate(time.Microsecond)
	if !got.Equal(want) {
		t.Fatalf("DecodeTime: want=%v got=%v", want, got)
	}
}

func mustFloat(t *testing.T, low, high float64, log bool, step *float64) *optimization.FloatDistribution {
	t.Helper()
	d, err := optimization.NewFloatDistribution(low, high, log, step)
	if err != nil {
		t.Fatalf("NewFloatDistribution: %v", err)
	}
	return d
}

func mustInt(t *testing.T, low, high int64, log bool, step int64) *optimization.IntDistribution {
	t.Helper()
	d, err := optimization.NewIntDistribution(low, high, log, step)
	if err != nil {
		t.Fatalf("NewIntDistribution: %v", err)
	}
	return d
}

func ptr(f float64) *float64 { return &f }

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}
	return false
}
