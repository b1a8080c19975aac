package num

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func TestFromFloat_Normalizes(t *testing.T) {
	cases := []struct {
		in float64
		m  float64
		e  int64
	}{
		{1, 1, 0},
		{100, 1, 2},
		{12345, 1.2345, 4},
		{0.05, 5, -2},
		{9.99, 9.99, 0},
		{1e300, 1, 300},
	}
	for _, c := range cases {
		got := FromFloat(c.in)
		if got.E != c.e || !approx(got.M, c.m) {
			t.Fatalf("FromFloat(%v)=%+v want m=%v e=%d", c.in, got, c.m, c.e)
		}
	}
	if !FromFloat(-3).IsZero() || !FromFloat(0).IsZero() {
		t.Fatalf("non-positive inputs must be zero")
	}
}

func TestMul_NoOverflowBeyondFloatRange(t *testing.T) {
	a := FromFloat(1e300)
	got := a.Mul(a)
	if got.E != 600 || !approx(got.M, 1) {
		t.Fatalf("1e300^2=%+v", got)
	}
	if !math.IsInf(got.Float64(), 1) {
		t.Fatalf("Float64 should saturate, got %v", got.Float64())
	}
	if got.Cmp(a) <= 0 {
		t.Fatalf("ordering broken: %v <= %v", got, a)
	}
}

func TestAddSub(t *testing.T) {
	a := FromFloat(950)
	b := FromFloat(75)
	if s := a.Add(b); !approx(s.Float64(), 1025) {
		t.Fatalf("add=%v", s)
	}
	if d := a.Sub(b); !approx(d.Float64(), 875) {
		t.Fatalf("sub=%v", d)
	}
	if d := b.Sub(a); !d.IsZero() {
		t.Fatalf("sub must saturate, got %v", d)
	}
	huge := Pow(10, 40)
	if got := huge.Add(FromFloat(1)); got.Cmp(huge) != 0 {
		t.Fatalf("tiny addend should be absorbed: %v", got)
	}
}

func TestCmp_Monotonic(t *testing.T) {
	vals := []Mag{Zero, FromFloat(0.5), FromFloat(1), FromFloat(9.5), FromFloat(10), Pow(1.18, 500), Pow(2, 5000)}
	for i := 1; i < len(vals); i++ {
		if !vals[i-1].Less(vals[i]) {
			t.Fatalf("expected %v < %v", vals[i-1], vals[i])
		}
		if vals[i].Cmp(vals[i-1]) != 1 {
			t.Fatalf("Cmp asymmetry at %d", i)
		}
	}
}

func TestPow(t *testing.T) {
	if got := Pow(1.18, 3); !approx(got.Float64(), 1.18*1.18*1.18) {
		t.Fatalf("1.18^3=%v", got)
	}
	if got := Pow(2, 0); got.Cmp(FromFloat(1)) != 0 {
		t.Fatalf("x^0=%v", got)
	}
	if got := Pow(10, -3); !approx(got.Float64(), 0.001) {
		t.Fatalf("10^-3=%v", got)
	}
}

func TestRatioAndScale(t *testing.T) {
	hp := FromFloat(250)
	max := FromFloat(1000)
	if r := Ratio(hp, max); !approx(r, 0.25) {
		t.Fatalf("ratio=%v", r)
	}
	if Ratio(hp, Zero) != 0 {
		t.Fatalf("ratio by zero should be 0")
	}
	if got := max.Scale(0.1); !approx(got.Float64(), 100) {
		t.Fatalf("scale=%v", got)
	}
	if !max.Scale(-1).IsZero() {
		t.Fatalf("negative scale should clamp to zero")
	}
}

func TestExponentOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	a := Mag{M: 1, E: math.MaxInt64 - 1}
	_ = a.Mul(FromFloat(100))
}

func TestString(t *testing.T) {
	if s := FromFloat(12345).String(); s != "12345" {
		t.Fatalf("String=%q", s)
	}
	if s := Pow(10, 42).String(); s != "1.000e42" {
		t.Fatalf("String=%q", s)
	}
	if s := Zero.String(); s != "0" {
		t.Fatalf("String=%q", s)
	}
}
