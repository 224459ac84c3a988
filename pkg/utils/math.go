package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

// MinMaxNormalize rescales values into [0,1] over the keys in keys. Keys missing
// from values count as 0. When every value is equal the result is 1 for a positive
// constant and 0 otherwise, so a flat column neither dominates nor vanishes arbitrarily.
func MinMaxNormalize(values map[string]float64, keys []string) map[string]float64 {
	out := make(map[string]float64, len(keys))
	if len(keys) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, k := range keys {
		v := values[k]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for _, k := range keys {
		switch {
		case hi > lo:
			out[k] = (values[k] - lo) / (hi - lo)
		case hi > 0:
			out[k] = 1
		default:
			out[k] = 0
		}
	}
	return out
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
