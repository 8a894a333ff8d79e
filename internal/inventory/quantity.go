package inventory

import "math"

// ComputeNewQuantity applies delta to current.
func ComputeNewQuantity(current, delta float64) (float64, error) {
	if delta == 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, ErrInvalidAdjustment
	}
	next := current + delta
	if next < 0 {
		return 0, ErrNegativeResult
	}
	return next, nil
}
