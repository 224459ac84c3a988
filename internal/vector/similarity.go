package vector

import "math"

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1]. It is 0
// when the lengths differ or either vector has zero norm, and does not assume the inputs
// are normalized.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// float error can push identical vectors just past 1
	return math.Max(-1, math.Min(1, cos))
}

// Centroid returns the element-wise mean of vecs. Vectors whose length differs from the
// first are skipped. Returns nil for no input.
func Centroid(vecs [][]float32) []float32 {
	weights := make([]float64, len(vecs))
	for i := range weights {
		weights[i] = 1
	}
	return WeightedCentroid(vecs, weights)
}

// WeightedCentroid returns sum(w_i * v_i) / sum(w_i). Non-positive weights and vectors of
// the wrong length are skipped; nil is returned when nothing contributes.
func WeightedCentroid(vecs [][]float32, weights []float64) []float32 {
	if len(vecs) == 0 || len(vecs) != len(weights) {
		return nil
	}
	dims := len(vecs[0])
	if dims == 0 {
		return nil
	}
	acc := make([]float64, dims)
	var total float64
	for i, v := range vecs {
		w := weights[i]
		if w <= 0 || len(v) != dims {
			continue
		}
		for j, x := range v {
			acc[j] += w * float64(x)
		}
		total += w
	}
	if total == 0 {
		return nil
	}
	out := make([]float32, dims)
	for j := range acc {
		out[j] = float32(acc[j] / total)
	}
	return out
}
