package codec

import (
	"bytes"
	"encoding/json"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
)

// Descriptor names written before Float/Int distributions were unified. They
// are accepted on decode and never written.
const (
	legacyUniform         = "UniformDistribution"
	legacyLogUniform      = "LogUniformDistribution"
	legacyDiscreteUniform = "DiscreteUniformDistribution"
	legacyIntUniform      = "IntUniformDistribution"
	legacyIntLogUniform   = "IntLogUniformDistribution"
)

// EncodeDistribution renders {"name": <kind>, "attributes": {...}}.
func EncodeDistribution(d optimization.Distribution) (map[string]any, error) {
	if d == nil {
		return nil, invalid(FieldDistributions, "nil distribution")
	}
	attrs := d.Attributes()
	if c, ok := d.(*optimization.CategoricalDistribution); ok {
		choices, err := EncodeValue(FieldDistributions, c.Choices)
		if err != nil {
			return nil, err
		}
		attrs = map[string]any{"choices": choices}
	}
	return map[string]any{
		"name":       d.Kind(),
		"attributes": docstore.Normalize(attrs),
	}, nil
}

// DecodeDistribution accepts the descriptor as a document or as its JSON text.
func DecodeDistribution(v any) (optimization.Distribution, error) {
	if s, ok := v.(string); ok {
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, corrupt(FieldDistributions, "descriptor is not JSON: %v", err)
		}
		v = docstore.Normalize(m)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, corrupt(FieldDistributions, "descriptor is %T, want document", v)
	}
	name, _ := m["name"].(string)
	attrs, ok := m["attributes"].(map[string]any)
	if !ok {
		return nil, corrupt(FieldDistributions, "descriptor %q has no attributes", name)
	}
	a := attrReader{name: name, attrs: attrs}

	var (
		d   optimization.Distribution
		err error
	)
	switch name {
	case optimization.KindFloat:
		low, high := a.float("low"), a.float("high")
		var step *float64
		if attrs["step"] != nil {
			s := a.float("step")
			step = &s
		}
		var fd *optimization.FloatDistribution
		fd, err = optimization.NewFloatDistribution(low, high, a.bool("log"), step)
		if err == nil {
			fd.High = high
			d = fd
		}
	case legacyUniform:
		d, err = optimization.Uniform(a.float("low"), a.float("high"))
	case legacyLogUniform:
		d, err = optimization.LogUniform(a.float("low"), a.float("high"))
	case legacyDiscreteUniform:
		d, err = optimization.DiscreteUniform(a.float("low"), a.float("high"), a.float("q"))
	case optimization.KindInt:
		d, err = optimization.NewIntDistribution(a.int("low"), a.int("high"), a.bool("log"), a.intOr("step", 1))
	case legacyIntUniform:
		d, err = optimization.NewIntDistribution(a.int("low"), a.int("high"), false, a.intOr("step", 1))
	case legacyIntLogUniform:
		d, err = optimization.NewIntDistribution(a.int("low"), a.int("high"), true, 1)
	case optimization.KindCategorical:
		choices, ok := attrs["choices"].([]any)
		if !ok {
			return nil, corrupt(FieldDistributions, "categorical descriptor has no choices")
		}
		decoded, _ := DecodeValue(choices).([]any)
		d, err = optimization.NewCategoricalDistribution(decoded)
	default:
		return nil, corrupt(FieldDistributions, "unknown distribution %q", name)
	}
	if a.err != nil {
		return nil, a.err
	}
	if err != nil {
		return nil, corrupt(FieldDistributions, "%s: %v", name, err)
	}
	return d, nil
}

// attrReader pulls typed attributes, remembering the first failure.
type attrReader struct {
	name  string
	attrs map[string]any
	err   error
}

func (a *attrReader) fail(key string, v any) {
	if a.err == nil {
		a.err = corrupt(FieldDistributions, "%s: attribute %q has bad value %v (%T)", a.name, key, v, v)
	}
}

func (a *attrReader) float(key string) float64 {
	v := a.attrs[key]
	f, ok := number(v)
	if !ok {
		a.fail(key, v)
	}
	return f
}

func (a *attrReader) int(key string) int64 {
	v := a.attrs[key]
	n, ok := DecodeInt(v)
	if !ok {
		a.fail(key, v)
	}
	return n
}

func (a *attrReader) intOr(key string, def int64) int64 {
	if a.attrs[key] == nil {
		return def
	}
	return a.int(key)
}

func (a *attrReader) bool(key string) bool {
	v, ok := a.attrs[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		a.fail(key, v)
	}
	return b
}
