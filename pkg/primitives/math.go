package primitives

import "math/bits"

// CheckedAdd returns a+b and false when the sum overflows.
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// CheckedSub returns a-b and false when b is larger than a.
func CheckedSub(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// Sum adds values and reports false on overflow.
func Sum(values ...uint64) (uint64, bool) {
	var total uint64
	for _, v := range values {
		var ok bool
		if total, ok = CheckedAdd(total, v); !ok {
			return 0, false
		}
	}
	return total, true
}
