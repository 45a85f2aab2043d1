package optimization

import (
	"errors"
	"math"
	"testing"
)

func mustFloat(t *testing.T) func(*FloatDistribution, error) *FloatDistribution {
	t.Helper()
	return func(d *FloatDistribution, err error) *FloatDistribution {
		if err != nil {
			t.Fatalf("NewFloatDistribution: %v", err)
		}
		return d
	}
}

func TestNewFloatDistributionValidation(t *testing.T) {
	step := 0.1
	zero := 0.0
	cases := []struct {
		name string
		low  float64
		high float64
		log  bool
		step *float64
	}{
		{"step with log", 1, 2, true, &step},
		{"low above high", 2, 1, false, nil},
		{"log with zero low", 0, 1, true, nil},
		{"zero step", 0, 1, false, &zero},
	}
	for _, tc := range cases {
		if _, err := NewFloatDistribution(tc.low, tc.high, tc.log, tc.step); !errors.Is(err, ErrInvalidDistribution) {
			t.Fatalf("NewFloatDistribution(%s): want ErrInvalidDistribution got=%v", tc.name, err)
		}
	}
}

func TestFloatDistributionStepSnapping(t *testing.T) {
	d := mustFloat(t)(DiscreteUniform(0, 1, 0.25))
	if d.High != 1 {
		t.Fatalf("DiscreteUniform(0,1,0.25).High: want=1 got=%v", d.High)
	}
	d = mustFloat(t)(DiscreteUniform(0, 1, 0.3))
	if math.Abs(d.High-0.9) > 1e-9 {
		t.Fatalf("DiscreteUniform(0,1,0.3).High: want=0.9 got=%v", d.High)
	}
	cases := []struct {
		v    float64
		want bool
	}{
		{0, true},
		{0.3, true},
		{0.6, true},
		{0.5, false},
		{0.95, false},
		{-0.3, false},
		{math.NaN(), false},
	}
	for _, tc := range cases {
		if got := d.Contains(tc.v); got != tc.want {
			t.Fatalf("Contains(%v): want=%v got=%v", tc.v, tc.want, got)
		}
	}
}

func TestFloatDistributionContains(t *testing.T) {
	d := mustFloat(t)(LogUniform(1e-3, 1))
	cases := []struct {
		v    float64
		want bool
	}{
		{1e-3, true},
		{0.5, true},
		{1, true},
		{0, false},
		{1.0000001, false},
		{math.Inf(1), false},
	}
	for _, tc := range cases {
		if got := d.Contains(tc.v); got != tc.want {
			t.Fatalf("LogUniform Contains(%v): want=%v got=%v", tc.v, tc.want, got)
		}
	}
	if v, err := d.ToInternal(int32(1)); err != nil || v != 1 {
		t.Fatalf("ToInternal(int32): want=1 got=%v err=%v", v, err)
	}
	if _, err := d.ToInternal("x"); err == nil {
		t.Fatalf("ToInternal(string): want error")
	}
}

func TestFloatDistributionSingle(t *testing.T) {
	cases := []struct {
		name string
		d    *FloatDistribution
		want bool
	}{
		{"point", mustFloat(t)(Uniform(1, 1)), true},
		{"range", mustFloat(t)(Uniform(0, 1)), false},
		{"step wider than range", mustFloat(t)(DiscreteUniform(0, 0.5, 1)), true},
		{"two steps", mustFloat(t)(DiscreteUniform(0, 1, 0.5)), false},
	}
	for _, tc := range cases {
		if got := tc.d.Single(); got != tc.want {
			t.Fatalf("Single(%s): want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

func TestIntDistribution(t *testing.T) {
	if _, err := NewIntDistribution(0, 10, true, 2); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("NewIntDistribution(log, step 2): want ErrInvalidDistribution got=%v", err)
	}
	if _, err := NewIntDistribution(0, 10, true, 1); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("NewIntDistribution(log, low 0): want ErrInvalidDistribution got=%v", err)
	}
	if _, err := NewIntDistribution(0, 10, false, 0); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("NewIntDistribution(step 0): want ErrInvalidDistribution got=%v", err)
	}

	d, err := NewIntDistribution(0, 10, false, 3)
	if err != nil {
		t.Fatalf("NewIntDistribution: %v", err)
	}
	if d.High != 9 {
		t.Fatalf("NewIntDistribution(0,10,3).High: want=9 got=%d", d.High)
	}
	cases := []struct {
		v    float64
		want bool
	}{
		{0, true},
		{6, true},
		{9, true},
		{7, false},
		{6.5, false},
		{10, false},
		{-3, false},
	}
	for _, tc := range cases {
		if got := d.Contains(tc.v); got != tc.want {
			t.Fatalf("Int Contains(%v): want=%v got=%v", tc.v, tc.want, got)
		}
	}
	if v, err := d.ToExternal(2.4); err != nil || v != int64(2) {
		t.Fatalf("ToExternal(2.4): want=2 got=%v err=%v", v, err)
	}
	if _, err := d.ToExternal(math.NaN()); err == nil {
		t.Fatalf("ToExternal(NaN): want error")
	}
	single, err := NewIntDistribution(0, 2, false, 3)
	if err != nil || !single.Single() {
		t.Fatalf("NewIntDistribution(0,2,3).Single: want=true got=%v err=%v", single, err)
	}
}

func TestCategoricalDistribution(t *testing.T) {
	if _, err := NewCategoricalDistribution(nil); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("NewCategoricalDistribution(empty): want ErrInvalidDistribution got=%v", err)
	}
	if _, err := NewCategoricalDistribution([]any{struct{}{}}); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("NewCategoricalDistribution(struct): want ErrInvalidDistribution got=%v", err)
	}

	d, err := NewCategoricalDistribution([]any{"a", 1, 2.5, nil, true})
	if err != nil {
		t.Fatalf("NewCategoricalDistribution: %v", err)
	}
	if d.Choices[1] != int64(1) {
		t.Fatalf("int choice: want int64(1) got=%T(%v)", d.Choices[1], d.Choices[1])
	}
	internals := []struct {
		external any
		want     float64
	}{
		{"a", 0},
		{int64(1), 1},
		{1.0, 1},
		{2.5, 2},
		{nil, 3},
		{true, 4},
	}
	for _, tc := range internals {
		got, err := d.ToInternal(tc.external)
		if err != nil || got != tc.want {
			t.Fatalf("ToInternal(%v): want=%v got=%v err=%v", tc.external, tc.want, got, err)
		}
	}
	if _, err := d.ToInternal("zzz"); err == nil {
		t.Fatalf("ToInternal(unknown): want error")
	}

	bounds := []struct {
		v    float64
		want bool
	}{
		{0, true},
		{4, true},
		{5, false},
		{-1, false},
		{1.5, false},
		{math.NaN(), false},
	}
	for _, tc := range bounds {
		if got := d.Contains(tc.v); got != tc.want {
			t.Fatalf("Categorical Contains(%v): want=%v got=%v", tc.v, tc.want, got)
		}
	}
	if v, err := d.ToExternal(2); err != nil || v != 2.5 {
		t.Fatalf("ToExternal(2): want=2.5 got=%v err=%v", v, err)
	}
	if _, err := d.ToExternal(5); err == nil {
		t.Fatalf("ToExternal(5): want error")
	}
	if d.Single() {
		t.Fatalf("Single: want=false for 5 choices")
	}
}

func TestEqualDistributions(t *testing.T) {
	u1 := mustFloat(t)(Uniform(0, 1))
	u2 := mustFloat(t)(Uniform(0, 1))
	lg := mustFloat(t)(LogUniform(0.1, 1))
	st := mustFloat(t)(DiscreteUniform(0, 1, 0.5))
	in, err := NewIntDistribution(0, 1, false, 1)
	if err != nil {
		t.Fatalf("NewIntDistribution: %v", err)
	}
	c1, err := NewCategoricalDistribution([]any{1, "a"})
	if err != nil {
		t.Fatalf("NewCategoricalDistribution: %v", err)
	}
	c2, err := NewCategoricalDistribution([]any{1.0, "a"})
	if err != nil {
		t.Fatalf("NewCategoricalDistribution: %v", err)
	}
	c3, err := NewCategoricalDistribution([]any{1, "b"})
	if err != nil {
		t.Fatalf("NewCategoricalDistribution: %v", err)
	}

	cases := []struct {
		name string
		a, b Distribution
		want bool
	}{
		{"same uniform", u1, u2, true},
		{"uniform vs log", u1, lg, false},
		{"uniform vs stepped", u1, st, false},
		{"float vs int", u1, in, false},
		{"numeric choices compare by value", c1, c2, true},
		{"different choices", c1, c3, false},
		{"both nil", nil, nil, true},
		{"one nil", u1, nil, false},
	}
	for _, tc := range cases {
		if got := EqualDistributions(tc.a, tc.b); got != tc.want {
			t.Fatalf("EqualDistributions(%s): want=%v got=%v", tc.name, tc.want, got)
		}
	}
}
