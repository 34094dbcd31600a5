// Package fixedpoint implements Q32.32 deterministic fixed-point scalars
// and 2-vectors for the simulation core. Every operation is a pure function
// of its raw int64 input: no floating point, no platform-dependent rounding.
package fixedpoint

import (
	"errors"
	"math/bits"
)

// ErrMathDomain is returned by operations whose input has no defined result
// (division by zero, square root of a negative number, ...).
var ErrMathDomain = errors.New("fixedpoint: math domain error")

// Shift is the number of fractional bits: a Fixed's value is raw * 2^-Shift.
const Shift = 32

// One is the fixed-point representation of 1.
const One Fixed = 1 << Shift

// Fixed is a signed Q32.32 fixed-point scalar.
type Fixed int64

// FromInt converts an integer to Fixed.
func FromInt(i int64) Fixed {
	return Fixed(i << Shift)
}

// FromRatio returns num/den as a Fixed value, using a 128-bit intermediate
// so the result is exact for any den that fits the final shift. The
// arguments are plain integers, not pre-scaled Fixed values.
func FromRatio(num, den int64) (Fixed, error) {
	return Div(Fixed(num), Fixed(den))
}

// ToIntFloor truncates toward negative infinity.
func (f Fixed) ToIntFloor() int64 {
	return int64(f) >> Shift
}

// ToIntRound rounds to the nearest integer, ties away from zero.
func (f Fixed) ToIntRound() int64 {
	if f >= 0 {
		return int64(f+One/2) >> Shift
	}
	return -(int64(-f+One/2) >> Shift)
}

// saturate clamps a value that has overflowed int64 back to the signed
// 64-bit bounds and reports whether clamping occurred.
func saturate(hi, lo uint64, negative bool) (Fixed, bool) {
	// hi:lo is the unsigned 128-bit magnitude of the result before sign.
	if hi != 0 {
		if negative {
			return Fixed(-1 << 63), true
		}
		return Fixed(1<<63 - 1), true
	}
	v := int64(lo)
	if v < 0 {
		// top bit set but within a single 64-bit word: still too big for
		// the signed range after sign is applied below.
		if negative {
			return Fixed(-1 << 63), true
		}
		return Fixed(1<<63 - 1), true
	}
	if negative {
		return Fixed(-v), false
	}
	return Fixed(v), false
}

// Add returns a+b. Overflow saturates to MinInt64/MaxInt64.
func Add(a, b Fixed) Fixed {
	r, _ := AddChecked(a, b)
	return r
}

// AddChecked is Add, additionally reporting whether saturation occurred.
func AddChecked(a, b Fixed) (Fixed, bool) {
	sum := int64(a) + int64(b)
	// Overflow iff operands share a sign and the result's sign differs.
	if (int64(a) > 0 && int64(b) > 0 && sum < 0) {
		return Fixed(1<<63 - 1), true
	}
	if (int64(a) < 0 && int64(b) < 0 && sum >= 0) {
		return Fixed(-1 << 63), true
	}
	return Fixed(sum), false
}

// Sub returns a-b. Overflow saturates to MinInt64/MaxInt64.
func Sub(a, b Fixed) Fixed {
	r, _ := SubChecked(a, b)
	return r
}

// SubChecked is Sub, additionally reporting whether saturation occurred.
func SubChecked(a, b Fixed) (Fixed, bool) {
	if b == Fixed(-1<<63) {
		// -MinInt64 overflows; negating it saturates to MaxInt64.
		return AddChecked(a, Fixed(1<<63-1))
	}
	return AddChecked(a, -b)
}

// Mul returns a*b rounded toward zero after the Q32.32 shift. Overflow
// saturates to MinInt64/MaxInt64.
func Mul(a, b Fixed) Fixed {
	r, _ := MulChecked(a, b)
	return r
}

// MulChecked is Mul, additionally reporting whether saturation occurred.
func MulChecked(a, b Fixed) (Fixed, bool) {
	negative := (a < 0) != (b < 0)
	ua, ub := abs64(int64(a)), abs64(int64(b))

	hi, lo := bits.Mul64(ua, ub)
	// Result = (hi:lo) >> Shift, a 128-bit arithmetic right shift by 32.
	shiftedLo := (lo >> Shift) | (hi << (64 - Shift))
	shiftedHi := hi >> Shift

	return saturate(shiftedHi, shiftedLo, negative)
}

// Div returns a/b rounded toward zero after the Q32.32 shift. Dividing by
// zero returns ErrMathDomain.
func Div(a, b Fixed) (Fixed, error) {
	if b == 0 {
		return 0, ErrMathDomain
	}
	negative := (a < 0) != (b < 0)
	ua, ub := abs64(int64(a)), abs64(int64(b))

	// (a << 32) / b via a 128-bit dividend so large magnitudes don't
	// overflow the shift before division.
	hi := ua >> (64 - Shift)
	lo := ua << Shift
	quo, rem, overflow := mul64DivBy(hi, lo, ub)
	if overflow {
		if negative {
			return Fixed(-1 << 63), nil
		}
		return Fixed(1<<63 - 1), nil
	}
	_ = rem
	if negative {
		return Fixed(-int64(quo)), nil
	}
	return Fixed(int64(quo)), nil
}

// mul64DivBy divides the 128-bit value hi:lo by d, reporting overflow if the
// quotient doesn't fit in 63 bits (leaving room for the sign).
func mul64DivBy(hi, lo, d uint64) (quo, rem uint64, overflow bool) {
	if hi >= d {
		return 0, 0, true
	}
	quo, rem = bits.Div64(hi, lo, d)
	if quo > 1<<63-1 {
		return 0, 0, true
	}
	return quo, rem, false
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// Neg returns -f. Negating MinInt64 saturates to MaxInt64.
func Neg(f Fixed) Fixed {
	if f == Fixed(-1<<63) {
		return Fixed(1<<63 - 1)
	}
	return -f
}

// Abs returns the absolute value of f. Like Neg, MinInt64 saturates.
func Abs(f Fixed) Fixed {
	if f < 0 {
		return Neg(f)
	}
	return f
}

// Sign returns -1, 0, or 1.
func Sign(f Fixed) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}
