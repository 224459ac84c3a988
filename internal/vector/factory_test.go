package vector

import (
	"context"
	"testing"
)

func TestNewVectorIndex(t *testing.T) {
	tests := []struct {
		name      string
		indexType string
		dims      int
		wantErr   bool
	}{
		{"memory", "memory", 3, false},
		{"empty defaults to memory", "", 3, false},
		{"unknown", "annoy", 3, true},
		{"zero dimension", "memory", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewVectorIndex(tt.indexType, tt.dims)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer idx.Close()
			if err := idx.Upsert(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if idx.Size() != 1 {
				t.Errorf("Size=%d, want 1", idx.Size())
			}
		})
	}
}
