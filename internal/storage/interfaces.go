// Package storage provides the durable record store interface for Engram.
//
// The interface is deliberately small: record CRUD plus a full scan in
// stable insertion order. The linear-scan retrieval design depends on the
// scan order being deterministic; both implementations order by an
// insertion-time column.
package storage

import (
	"context"

	"github.com/engramdev/engram/pkg/types"
)

// RecordStore provides CRUD operations and a stable full scan for memory
// records. Implementations must return copies; callers never receive
// references into storage.
type RecordStore interface {
	// Insert creates a new record. Returns ErrInvalidInput when required
	// fields are missing and an error when the ID already exists.
	Insert(ctx context.Context, record *types.MemoryRecord) error

	// Get retrieves a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// ScanAll returns every record, including embeddings, in insertion
	// order. Retrieval performs a full linear scan over this slice; the
	// ordering is the documented tie-break for equal similarity scores.
	ScanAll(ctx context.Context) ([]types.MemoryRecord, error)

	// List retrieves records without embeddings, paginated, newest first.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.MemoryRecord], error)

	// Update replaces the text and embedding of an existing record. ID and
	// timestamp are retained. Returns ErrNotFound for unknown ids.
	Update(ctx context.Context, id, text string, embedding []float64) error

	// Delete permanently removes a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, id string) error

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
