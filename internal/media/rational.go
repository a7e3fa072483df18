package media

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// NoPTS marks a timestamp that is absent or unknown.
const NoPTS int64 = math.MinInt64

// Rational is a fraction used for time bases and frame rates.
type Rational struct {
	Num int
	Den int
}

// Common time bases.
var (
	TimeBaseMPEGTS       = Rational{Num: 1, Den: 90000}
	TimeBaseMilliseconds = Rational{Num: 1, Den: 1000}
)

// Valid reports whether both terms are strictly positive.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Invert returns Den/Num.
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// Float64 returns the value as a float, or 0 when the denominator is zero.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// ParseRational parses "num/den" or a bare integer, as ffprobe reports
// r_frame_rate and time_base.
func ParseRational(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rational{}, fmt.Errorf("empty rational")
	}
	num, den, found := strings.Cut(s, "/")
	if !found {
		den = "1"
	}
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return Rational{}, fmt.Errorf("parsing numerator of %q: %w", s, err)
	}
	d, err := strconv.Atoi(strings.TrimSpace(den))
	if err != nil {
		return Rational{}, fmt.Errorf("parsing denominator of %q: %w", s, err)
	}
	return Rational{Num: n, Den: d}, nil
}

// Rescale converts ts from one time base to another, rounding to the nearest
// integer with halves away from zero. NoPTS is returned unchanged, as is any
// timestamp when either time base has a zero term. Results outside the int64
// range saturate.
func Rescale(ts int64, from, to Rational) int64 {
	if ts == NoPTS {
		return NoPTS
	}
	if from.Num == 0 || from.Den == 0 || to.Num == 0 || to.Den == 0 {
		return ts
	}
	if from == to {
		return ts
	}

	num := new(big.Int).Mul(big.NewInt(ts), big.NewInt(int64(from.Num)*int64(to.Den)))
	den := big.NewInt(int64(from.Den) * int64(to.Num))
	if den.Sign() < 0 {
		den.Neg(den)
		num.Neg(num)
	}

	neg := num.Sign() < 0
	num.Abs(num)
	num.Add(num, new(big.Int).Rsh(den, 1))
	num.Quo(num, den)
	if neg {
		num.Neg(num)
	}

	if !num.IsInt64() {
		if neg {
			return math.MinInt64 + 1
		}
		return math.MaxInt64
	}
	return num.Int64()
}
