package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"parallel scaled", []float32{1, 0}, []float32{5, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 1},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineDistance(tt.a, tt.b), 1e-6)
		})
	}
}

func TestSortScoredDeterminism(t *testing.T) {
	scored := []ScoredChunk{
		{Chunk: Chunk{ID: "z"}, Distance: 0.5},
		{Chunk: Chunk{ID: "a"}, Distance: 0.5},
		{Chunk: Chunk{ID: "m"}, Distance: 0.1},
	}
	sortScored(scored)

	assert.Equal(t, "m", scored[0].ID)
	assert.Equal(t, "a", scored[1].ID)
	assert.Equal(t, "z", scored[2].ID)
}

func TestTopK(t *testing.T) {
	scored := []ScoredChunk{{}, {}, {}}
	assert.Len(t, topK(scored, 2), 2)
	assert.Len(t, topK(scored, 3), 3)
	assert.Len(t, topK(scored, 10), 3)
}
