package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/engramdev/engram/pkg/types"
)

// ScoredRecord pairs a memory with its similarity to a query vector.
type ScoredRecord struct {
	Record types.MemoryRecord
	Score  float64
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Vectors must be non-empty and of equal length. A zero-norm vector yields
// 0.0 rather than dividing by zero.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("%w: empty embedding vector", ErrInvalidInput)
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Rank scores every record against the query vector and returns up to topK
// results ordered by descending similarity. Ties keep the records' original
// order, so earlier-stored memories win. topK <= 0 returns all results.
func Rank(query []float64, records []types.MemoryRecord, topK int) ([]ScoredRecord, error) {
	scored := make([]ScoredRecord, 0, len(records))
	for _, record := range records {
		score, err := CosineSimilarity(query, record.Embedding)
		if err != nil {
			return nil, fmt.Errorf("ranking memory %s: %w", record.ID, err)
		}
		scored = append(scored, ScoredRecord{Record: record, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
