package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
	"github.com/yungbote/trialstore/internal/domain/storage"
)

func corrupt(field, format string, args ...any) error {
	return storage.Errorf(storage.CodeCorruptData, "codec.decode "+field, format, args...)
}

func invalid(field, format string, args ...any) error {
	return storage.Errorf(storage.CodeInvalidArgument, "codec.encode "+field, format, args...)
}

// Fixed numeric codes. They are part of the persisted format and must never
// be renumbered.
var (
	stateCodes = map[optimization.TrialState]int64{
		optimization.TrialRunning:  0,
		optimization.TrialComplete: 1,
		optimization.TrialPruned:   2,
		optimization.TrialFail:     3,
		optimization.TrialWaiting:  4,
	}
	directionCodes = map[optimization.StudyDirection]int64{
		optimization.DirectionNotSet:   0,
		optimization.DirectionMinimize: 1,
		optimization.DirectionMaximize: 2,
	}
)

func EncodeState(s optimization.TrialState) (int64, error) {
	code, ok := stateCodes[s]
	if !ok {
		return 0, invalid(FieldState, "unknown trial state %d", int(s))
	}
	return code, nil
}

func DecodeState(v any) (optimization.TrialState, error) {
	code, ok := DecodeInt(v)
	if !ok {
		return 0, corrupt(FieldState, "state %v (%T) is not an integer", v, v)
	}
	for s, c := range stateCodes {
		if c == code {
			return s, nil
		}
	}
	return 0, corrupt(FieldState, "unknown state code %d", code)
}

// StateCodes encodes a state set for membership filters.
func StateCodes(states []optimization.TrialState) ([]any, error) {
	out := make([]any, 0, len(states))
	for _, s := range states {
		code, err := EncodeState(s)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

func EncodeDirections(ds []optimization.StudyDirection) ([]any, error) {
	out := make([]any, len(ds))
	for i, d := range ds {
		code, ok := directionCodes[d]
		if !ok {
			return nil, invalid(FieldDirections, "unknown direction %d", int(d))
		}
		out[i] = code
	}
	return out, nil
}

// DecodeDirections returns [NOT_SET] when nothing is stored.
func DecodeDirections(v any) ([]optimization.StudyDirection, error) {
	if v == nil {
		return []optimization.StudyDirection{optimization.DirectionNotSet}, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, corrupt(FieldDirections, "directions are %T, want array", v)
	}
	if len(raw) == 0 {
		return []optimization.StudyDirection{optimization.DirectionNotSet}, nil
	}
	out := make([]optimization.StudyDirection, len(raw))
	for i, x := range raw {
		code, ok := DecodeInt(x)
		if !ok {
			return nil, corrupt(FieldDirections, "direction %v (%T) is not an integer", x, x)
		}
		found := false
		for d, c := range directionCodes {
			if c == code {
				out[i], found = d, true
				break
			}
		}
		if !found {
			return nil, corrupt(FieldDirections, "unknown direction code %d", code)
		}
	}
	return out, nil
}

// EncodeTime renders t as epoch seconds with microsecond precision.
func EncodeTime(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func DecodeTime(field string, v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	f, ok := number(v)
	if !ok {
		return nil, corrupt(field, "timestamp %v (%T) is not a number", v, v)
	}
	t := time.UnixMicro(int64(math.Round(f * 1e6))).UTC()
	return &t, nil
}

// EncodeFloat keeps finite values as numbers and spells out NaN and the
// infinities, which JSON-backed stores cannot hold.
func EncodeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

func DecodeFloat(field string, v any) (float64, error) {
	if s, ok := v.(string); ok {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, corrupt(field, "unexpected string %q for float", s)
	}
	f, ok := number(v)
	if !ok {
		return 0, corrupt(field, "%v (%T) is not a number", v, v)
	}
	return f, nil
}

// DecodeInt accepts any integral numeric representation a backend returns.
func DecodeInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var (
	keyEscaper   = strings.NewReplacer("%", "%25", ".", "%2E")
	keyUnescaper = strings.NewReplacer("%25", "%", "%2E", ".", "%24", "$")
)

// EscapeKey makes a user-chosen key safe as a document field name: no dots
// and no leading '$'. UnescapeKey reverses it exactly.
func EscapeKey(k string) string {
	k = keyEscaper.Replace(k)
	if strings.HasPrefix(k, "$") {
		k = "%24" + k[1:]
	}
	return k
}

func UnescapeKey(k string) string {
	return keyUnescaper.Replace(k)
}

func stepKey(step int64) string { return strconv.FormatInt(step, 10) }

// EncodeValue turns an arbitrary JSON-serializable attribute value into the
// canonical document value set, escaping nested keys.
func EncodeValue(field string, v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, invalid(field, "value is not JSON-serializable: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, invalid(field, "value is not JSON-serializable: %v", err)
	}
	return mapKeys(docstore.Normalize(out), EscapeKey), nil
}

// DecodeValue reverses EncodeValue's key escaping.
func DecodeValue(v any) any {
	return mapKeys(docstore.Normalize(v), UnescapeKey)
}

func mapKeys(v any, fn func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[fn(k)] = mapKeys(x, fn)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = mapKeys(x, fn)
		}
		return out
	default:
		return v
	}
}

// EncodeAttrs escapes keys and canonicalizes values; nil for an empty map.
func EncodeAttrs(field string, attrs map[string]any) (map[string]any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		ev, err := EncodeValue(field+"."+k, v)
		if err != nil {
			return nil, err
		}
		out[EscapeKey(k)] = ev
	}
	return out, nil
}

// DecodeAttrs always returns a non-nil map.
func DecodeAttrs(field string, v any) (map[string]any, error) {
	out := map[string]any{}
	if v == nil {
		return out, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, corrupt(field, "attrs are %T, want document", v)
	}
	for k, x := range m {
		out[UnescapeKey(k)] = DecodeValue(x)
	}
	return out, nil
}
