package vectorstore

import (
	"math"
	"sort"
)

// CosineDistance computes 1 - cosine similarity between two vectors.
// Zero-norm vectors are treated as orthogonal (distance 1) rather than NaN.
// Vectors must have equal length; extra trailing components are ignored by
// callers that validated dimensions upstream.
func CosineDistance(a, b []float32) float32 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}

// sortScored orders candidates by ascending distance, ties broken by chunk
// id for determinism.
func sortScored(scored []ScoredChunk) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].ID < scored[j].ID
	})
}

// topK truncates a sorted candidate list to k entries.
func topK(scored []ScoredChunk, k int) []ScoredChunk {
	if len(scored) > k {
		return scored[:k]
	}
	return scored
}
