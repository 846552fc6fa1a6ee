package domain

import "math/bits"

// CheckedMul multiplies two base-unit amounts and returns ErrOverflow when
// the product does not fit in 64 bits. All cost, fee, and reward scaling
// goes through here so an oversized order aborts instead of wrapping.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// CheckedAdd adds two base-unit amounts with the same overflow contract.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// MulDiv computes a*b/den without intermediate overflow, rounding down.
// den must be non-zero; the result must fit in 64 bits.
func MulDiv(a, b, den uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}
