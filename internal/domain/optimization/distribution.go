package optimization

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
)

// Distribution describes the sampling domain of a parameter and converts
// between the stored internal float and the user-facing value.
type Distribution interface {
	// Kind is the stable descriptor name, e.g. "FloatDistribution".
	Kind() string
	// Attributes are the descriptor attributes needed to rebuild the distribution.
	Attributes() map[string]any
	ToInternal(external any) (float64, error)
	ToExternal(internal float64) (any, error)
	Contains(internal float64) bool
	Single() bool
}

const (
	KindFloat       = "FloatDistribution"
	KindInt         = "IntDistribution"
	KindCategorical = "CategoricalDistribution"
)

var ErrInvalidDistribution = errors.New("invalid distribution")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDistribution, fmt.Sprintf(format, args...))
}

// FloatDistribution is a continuous (optionally stepped or log-scaled) range.
type FloatDistribution struct {
	Low  float64
	High float64
	Log  bool
	Step *float64
}

// NewFloatDistribution validates the bounds and snaps High onto the step grid.
func NewFloatDistribution(low, high float64, log bool, step *float64) (*FloatDistribution, error) {
	if log && step != nil {
		return nil, invalidf("float: step and log are mutually exclusive")
	}
	if low > high {
		return nil, invalidf("float: low %v > high %v", low, high)
	}
	if log && low <= 0 {
		return nil, invalidf("float: log scale requires low > 0, got %v", low)
	}
	if step != nil {
		if *step <= 0 {
			return nil, invalidf("float: step must be > 0, got %v", *step)
		}
		s := *step
		high = low + math.Floor((high-low)/s+1e-9)*s
		step = &s
	}
	return &FloatDistribution{Low: low, High: high, Log: log, Step: step}, nil
}

// Uniform is the continuous [low, high] range.
func Uniform(low, high float64) (*FloatDistribution, error) {
	return NewFloatDistribution(low, high, false, nil)
}

func LogUniform(low, high float64) (*FloatDistribution, error) {
	return NewFloatDistribution(low, high, true, nil)
}

func DiscreteUniform(low, high, q float64) (*FloatDistribution, error) {
	return NewFloatDistribution(low, high, false, &q)
}

func (d *FloatDistribution) Kind() string { return KindFloat }

func (d *FloatDistribution) Attributes() map[string]any {
	var step any
	if d.Step != nil {
		step = *d.Step
	}
	return map[string]any{"low": d.Low, "high": d.High, "log": d.Log, "step": step}
}

func (d *FloatDistribution) ToInternal(external any) (float64, error) {
	f, ok := toFloat(external)
	if !ok {
		return 0, invalidf("float: cannot convert %T to float", external)
	}
	return f, nil
}

func (d *FloatDistribution) ToExternal(internal float64) (any, error) {
	return internal, nil
}

func (d *FloatDistribution) Contains(internal float64) bool {
	if math.IsNaN(internal) || internal < d.Low || internal > d.High {
		return false
	}
	if d.Step == nil {
		return true
	}
	k := (internal - d.Low) / *d.Step
	return math.Abs(k-math.Round(k)) < 1e-8
}

func (d *FloatDistribution) Single() bool {
	if d.Step == nil || d.Low == d.High {
		return d.Low == d.High
	}
	return d.High-d.Low < *d.Step
}

// IntDistribution is an integer range with a step (or log scale).
type IntDistribution struct {
	Low  int64
	High int64
	Log  bool
	Step int64
}

func NewIntDistribution(low, high int64, log bool, step int64) (*IntDistribution, error) {
	if log && step != 1 {
		return nil, invalidf("int: log scale requires step 1, got %d", step)
	}
	if low > high {
		return nil, invalidf("int: low %d > high %d", low, high)
	}
	if log && low < 1 {
		return nil, invalidf("int: log scale requires low >= 1, got %d", low)
	}
	if step <= 0 {
		return nil, invalidf("int: step must be > 0, got %d", step)
	}
	high = low + (high-low)/step*step
	return &IntDistribution{Low: low, High: high, Log: log, Step: step}, nil
}

func (d *IntDistribution) Kind() string { return KindInt }

func (d *IntDistribution) Attributes() map[string]any {
	return map[string]any{"low": d.Low, "high": d.High, "log": d.Log, "step": d.Step}
}

func (d *IntDistribution) ToInternal(external any) (float64, error) {
	f, ok := toFloat(external)
	if !ok {
		return 0, invalidf("int: cannot convert %T to int", external)
	}
	return f, nil
}

func (d *IntDistribution) ToExternal(internal float64) (any, error) {
	if math.IsNaN(internal) || math.IsInf(internal, 0) {
		return nil, invalidf("int: non-finite internal value %v", internal)
	}
	return int64(math.Round(internal)), nil
}

func (d *IntDistribution) Contains(internal float64) bool {
	if math.IsNaN(internal) || internal < float64(d.Low) || internal > float64(d.High) {
		return false
	}
	v := int64(math.Round(internal))
	if float64(v) != internal {
		return false
	}
	return (v-d.Low)%d.Step == 0
}

func (d *IntDistribution) Single() bool {
	if d.Log {
		return d.Low == d.High
	}
	return d.Low == d.High || d.High-d.Low < d.Step
}

// CategoricalDistribution picks one of a fixed set of choices. The internal
// representation is the index of the choice.
type CategoricalDistribution struct {
	Choices []any
}

// NewCategoricalDistribution accepts nil, bool, integer, float and string choices.
func NewCategoricalDistribution(choices []any) (*CategoricalDistribution, error) {
	if len(choices) == 0 {
		return nil, invalidf("categorical: at least one choice is required")
	}
	out := make([]any, len(choices))
	for i, c := range choices {
		switch v := c.(type) {
		case nil, bool, string, float64:
			out[i] = v
		case json.Number:
			if n, err := v.Int64(); err == nil {
				out[i] = n
			} else if f, err := v.Float64(); err == nil {
				out[i] = f
			} else {
				return nil, invalidf("categorical: bad number choice %q", v.String())
			}
		default:
			if n, ok := toInt(c); ok {
				out[i] = n
				continue
			}
			if f, ok := toFloat(c); ok {
				out[i] = f
				continue
			}
			return nil, invalidf("categorical: unsupported choice type %T", c)
		}
	}
	return &CategoricalDistribution{Choices: out}, nil
}

func (d *CategoricalDistribution) Kind() string { return KindCategorical }

func (d *CategoricalDistribution) Attributes() map[string]any {
	choices := make([]any, len(d.Choices))
	copy(choices, d.Choices)
	return map[string]any{"choices": choices}
}

func (d *CategoricalDistribution) ToInternal(external any) (float64, error) {
	for i, c := range d.Choices {
		if choiceEqual(c, external) {
			return float64(i), nil
		}
	}
	return 0, invalidf("categorical: %v is not one of the choices", external)
}

func (d *CategoricalDistribution) ToExternal(internal float64) (any, error) {
	if !d.Contains(internal) {
		return nil, invalidf("categorical: index %v out of range", internal)
	}
	return d.Choices[int(internal)], nil
}

func (d *CategoricalDistribution) Contains(internal float64) bool {
	if math.IsNaN(internal) || internal != math.Trunc(internal) {
		return false
	}
	return internal >= 0 && int(internal) < len(d.Choices)
}

func (d *CategoricalDistribution) Single() bool { return len(d.Choices) == 1 }

// EqualDistributions compares kind and attributes.
func EqualDistributions(a, b Distribution) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if ac, ok := a.(*CategoricalDistribution); ok {
		bc := b.(*CategoricalDistribution)
		if len(ac.Choices) != len(bc.Choices) {
			return false
		}
		for i := range ac.Choices {
			if !choiceEqual(ac.Choices[i], bc.Choices[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a.Attributes(), b.Attributes())
}

func choiceEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && (af == bf || (math.IsNaN(af) && math.IsNaN(bf)))
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}
