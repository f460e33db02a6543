// Package types defines the shared data model for the Engram system.
package types

// MemoryRecord is a single stored memory statement with its embedding.
// The embedding length is fixed process-wide by the provider dimension;
// records with differing dimensions are never mixed in one store.
type MemoryRecord struct {
	// ID is an opaque unique identifier, generated at creation, immutable.
	ID string `json:"id"`

	// Text is the memory statement. Always stored trimmed and non-empty.
	Text string `json:"text"`

	// Embedding is the provider vector for Text. Replaced together with
	// Text on update, otherwise immutable.
	Embedding []float64 `json:"embedding,omitempty"`

	// Timestamp is the creation time as an ISO-8601 UTC string. Retained
	// across updates.
	Timestamp string `json:"timestamp"`

	// Language is a language tag for the statement (default "he").
	Language string `json:"language"`

	// Location is optional free-form location context.
	Location string `json:"location,omitempty"`
}

// Clone returns a deep copy of the record. Stores hand out clones so callers
// never hold references into storage.
func (m *MemoryRecord) Clone() MemoryRecord {
	out := *m
	if m.Embedding != nil {
		out.Embedding = make([]float64, len(m.Embedding))
		copy(out.Embedding, m.Embedding)
	}
	return out
}

// Candidate is one ranked retrieval result.
type Candidate struct {
	MemoryID        string  `json:"memory_id"`
	Text            string  `json:"text"`
	SimilarityScore float64 `json:"similarity_score"`
}

// CandidateSet is an ordered sequence of candidates; insertion order is rank
// order. Sessions own their candidate set for the TTL window and hand out
// read-only views.
type CandidateSet []Candidate
