// Package sqlite provides a SQLite implementation of the record store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// Schema creates the memories table. The embedding is serialized as a JSON
// array in a TEXT column; seq provides the stable insertion order that the
// scan-based retrieval relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	text      TEXT NOT NULL,
	embedding TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	language  TEXT NOT NULL DEFAULT 'he',
	location  TEXT
);

CREATE INDEX IF NOT EXISTS idx_memories_id ON memories(id);
`

// RecordStore implements storage.RecordStore using SQLite.
type RecordStore struct {
	db *sql.DB
}

// Compile-time assertion.
var _ storage.RecordStore = (*RecordStore)(nil)

// NewRecordStore opens (or creates) a SQLite database at the given DSN and
// ensures the schema exists.
func NewRecordStore(dsn string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &RecordStore{db: db}, nil
}

// Insert creates a new record.
func (s *RecordStore) Insert(ctx context.Context, record *types.MemoryRecord) error {
	if record == nil || record.ID == "" || record.Text == "" {
		return fmt.Errorf("%w: id and text are required", storage.ErrInvalidInput)
	}

	embJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("sqlite: failed to serialize embedding: %w", err)
	}

	language := record.Language
	if language == "" {
		language = "he"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, text, embedding, timestamp, language, location)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Text, string(embJSON), record.Timestamp, language, nullable(record.Location))
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *RecordStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, embedding, timestamp, language, location
		FROM memories WHERE id = ?`, id)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get record: %w", err)
	}
	return record, nil
}

// ScanAll returns every record in insertion order.
func (s *RecordStore) ScanAll(ctx context.Context) ([]types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, embedding, timestamp, language, location
		FROM memories ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.MemoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan record row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating records: %w", err)
	}
	return records, nil
}

// List retrieves records without embeddings, newest first.
func (s *RecordStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryRecord], error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, timestamp, language, location
		FROM memories ORDER BY seq DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.MemoryRecord
	for rows.Next() {
		var record types.MemoryRecord
		var location sql.NullString
		if err := rows.Scan(&record.ID, &record.Text, &record.Timestamp, &record.Language, &location); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan list row: %w", err)
		}
		if location.Valid {
			record.Location = location.String
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating list rows: %w", err)
	}

	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[types.MemoryRecord]{
		Items:    records,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(records) < total,
	}, nil
}

// Update replaces the text and embedding of an existing record.
func (s *RecordStore) Update(ctx context.Context, id, text string, embedding []float64) error {
	if id == "" || text == "" {
		return fmt.Errorf("%w: id and text are required", storage.ErrInvalidInput)
	}

	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("sqlite: failed to serialize embedding: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET text = ?, embedding = ? WHERE id = ?`,
		text, string(embJSON), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check update result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete permanently removes a record by ID.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Count returns the total number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count records: %w", err)
	}
	return count, nil
}

// Close releases the underlying database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one full record row, including the JSON embedding.
// The SELECT column order must be: id, text, embedding, timestamp, language, location.
func scanRecord(row scanner) (*types.MemoryRecord, error) {
	var record types.MemoryRecord
	var embJSON string
	var location sql.NullString

	if err := row.Scan(&record.ID, &record.Text, &embJSON, &record.Timestamp, &record.Language, &location); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embJSON), &record.Embedding); err != nil {
		return nil, fmt.Errorf("failed to deserialize embedding for %s: %w", record.ID, err)
	}
	if location.Valid {
		record.Location = location.String
	}
	return &record, nil
}

// nullable converts an empty string to a NULL column value.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
