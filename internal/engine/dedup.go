package engine

import (
	"fmt"

	"github.com/engramdev/engram/pkg/types"
)

// DefaultDuplicateThreshold is the similarity at or above which a new memory
// is considered a restatement of an existing one.
const DefaultDuplicateThreshold = 0.85

// DuplicateMatch reports the first stored memory similar enough to block an
// insert. At most one match is reported even when several qualify.
type DuplicateMatch struct {
	Existing types.MemoryRecord
	Score    float64
}

// findDuplicate scans records in storage order and returns the first one
// whose similarity to the candidate vector meets the threshold. The scan
// short-circuits on the first hit, so the oldest qualifying memory is the
// one reported.
func findDuplicate(embedding []float64, records []types.MemoryRecord, threshold float64) (*DuplicateMatch, error) {
	for _, record := range records {
		score, err := CosineSimilarity(embedding, record.Embedding)
		if err != nil {
			return nil, fmt.Errorf("comparing against memory %s: %w", record.ID, err)
		}
		if score >= threshold {
			return &DuplicateMatch{Existing: record, Score: score}, nil
		}
	}
	return nil, nil
}
