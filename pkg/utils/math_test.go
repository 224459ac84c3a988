package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should be unchanged, got %v", zero)
	}
}

func TestMinMaxNormalize(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]float64
		keys   []string
		want   map[string]float64
	}{
		{
			name:   "spread",
			values: map[string]float64{"a": 2, "b": 4, "c": 3},
			keys:   []string{"a", "b", "c"},
			want:   map[string]float64{"a": 0, "b": 1, "c": 0.5},
		},
		{
			name:   "missing keys count as zero",
			values: map[string]float64{"a": 10},
			keys:   []string{"a", "b"},
			want:   map[string]float64{"a": 1, "b": 0},
		},
		{
			name:   "positive constant",
			values: map[string]float64{"a": 0.3, "b": 0.3},
			keys:   []string{"a", "b"},
			want:   map[string]float64{"a": 1, "b": 1},
		},
		{
			name:   "all zero",
			values: map[string]float64{},
			keys:   []string{"a", "b"},
			want:   map[string]float64{"a": 0, "b": 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinMaxNormalize(tt.values, tt.keys)
			for k, w := range tt.want {
				if math.Abs(got[k]-w) > 1e-9 {
					t.Errorf("%s: got %v, want %v", k, got[k], w)
				}
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if Clamp(2, 0, 1) != 1 || Clamp(-1, 0, 1) != 0 || Clamp(0.5, 0, 1) != 0.5 {
		t.Error("clamp out of range")
	}
}
