// Package num provides Mag, the non-negative arbitrary-magnitude quantity used for
// health, damage and currency.
//
// A Mag is M × 10^E with 1 <= M < 10 (or the zero value). Only basic IEEE-754
// operations and table-driven powers of ten are used, so results are identical
// on every run of the same binary. Operations never overflow silently: an
// exponent leaving the int64 range panics.
package num

import (
	"fmt"
	"math"
	"strconv"
)

type Mag struct {
	M float64 `json:"m"`
	E int64   `json:"e"`
}

const (
	log10of2 = 0.30102999566398119521373889472449302676818988146210854131
	// Beyond this exponent gap the smaller operand cannot change a float64 mantissa.
	maxAlign = 17
)

var Zero = Mag{}

func FromFloat(f float64) Mag {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Sprintf("num: non-finite value %v", f))
	}
	if f <= 0 {
		return Mag{}
	}
	return normalize(f, 0)
}

func FromInt(n int64) Mag { return FromFloat(float64(n)) }

func normalize(m float64, e int64) Mag {
	if !(m > 0) {
		return Mag{}
	}
	if math.IsInf(m, 0) {
		panic("num: mantissa overflow")
	}
	_, exp := math.Frexp(m)
	shift := int(math.Floor(float64(exp-1) * log10of2))
	if shift != 0 {
		m = scale10(m, -shift)
	}
	for m >= 10 {
		m /= 10
		shift++
	}
	for m < 1 {
		m *= 10
		shift--
	}
	return Mag{M: m, E: addExp(e, int64(shift))}
}

func scale10(m float64, n int) float64 {
	for n > 300 {
		m *= 1e300
		n -= 300
	}
	for n < -300 {
		m /= 1e300
		n += 300
	}
	if n >= 0 {
		return m * math.Pow10(n)
	}
	return m / math.Pow10(-n)
}

func addExp(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("num: exponent overflow")
	}
	return a + b
}

func (a Mag) IsZero() bool { return a.M == 0 }

// Cmp returns -1, 0 or +1.
func (a Mag) Cmp(b Mag) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	case a.E != b.E:
		if a.E < b.E {
			return -1
		}
		return 1
	case a.M < b.M:
		return -1
	case a.M > b.M:
		return 1
	default:
		return 0
	}
}

func (a Mag) Less(b Mag) bool { return a.Cmp(b) < 0 }

func (a Mag) Add(b Mag) Mag {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if a.E < b.E {
		a, b = b, a
	}
	d := a.E - b.E
	if d > maxAlign {
		return a
	}
	return normalize(a.M+b.M/math.Pow10(int(d)), a.E)
}

// Sub saturates at zero.
func (a Mag) Sub(b Mag) Mag {
	if a.Cmp(b) <= 0 {
		return Mag{}
	}
	if b.IsZero() {
		return a
	}
	d := a.E - b.E
	if d > maxAlign {
		return a
	}
	return normalize(a.M-b.M/math.Pow10(int(d)), a.E)
}

func (a Mag) Mul(b Mag) Mag {
	if a.IsZero() || b.IsZero() {
		return Mag{}
	}
	return normalize(a.M*b.M, addExp(a.E, b.E))
}

// Scale multiplies by a finite factor; factors <= 0 yield zero.
func (a Mag) Scale(f float64) Mag {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Sprintf("num: non-finite factor %v", f))
	}
	if f <= 0 || a.IsZero() {
		return Mag{}
	}
	return a.Mul(normalize(f, 0))
}

// Pow returns base^n by repeated squaring. base must be positive.
func Pow(base float64, n int) Mag {
	if !(base > 0) || math.IsInf(base, 0) {
		panic(fmt.Sprintf("num: invalid power base %v", base))
	}
	b := normalize(base, 0)
	if n < 0 {
		b = normalize(1/b.M, -b.E)
		n = -n
	}
	out := Mag{M: 1}
	for n > 0 {
		if n&1 == 1 {
			out = out.Mul(b)
		}
		b = b.Mul(b)
		n >>= 1
	}
	return out
}

// Ratio returns a/b as a float64, 0 when b is zero.
func Ratio(a, b Mag) float64 {
	if b.IsZero() || a.IsZero() {
		return 0
	}
	d := a.E - b.E
	if d > 400 {
		return math.Inf(1)
	}
	if d < -400 {
		return 0
	}
	return scale10(a.M/b.M, int(d))
}

func Max(a, b Mag) Mag {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func Min(a, b Mag) Mag {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Float64 converts to float64, saturating at +Inf for huge values.
func (a Mag) Float64() float64 {
	if a.IsZero() {
		return 0
	}
	if a.E > 308 {
		return math.Inf(1)
	}
	if a.E < -330 {
		return 0
	}
	return scale10(a.M, int(a.E))
}

func (a Mag) String() string {
	if a.IsZero() {
		return "0"
	}
	if a.E >= -3 && a.E < 6 {
		return strconv.FormatFloat(a.Float64(), 'g', 6, 64)
	}
	return strconv.FormatFloat(a.M, 'f', 3, 64) + "e" + strconv.FormatInt(a.E, 10)
}
