package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultBatchSize is the number of records to buffer before flushing to the database.
	DefaultBatchSize = 500
)

// Writer writes records to the store.
type Writer struct {
	db        *sql.DB
	path      string
	batch     []Record
	metadata  Metadata
	batchSize int
	written   int
	mu        sync.Mutex
}

// New creates a new records writer.
// The database is created if it doesn't exist, and the schema is initialized.
func New(path string, metadata Metadata) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 50000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := insertMetadata(db, metadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to insert metadata: %w", err)
	}

	return &Writer{
		db:        db,
		path:      path,
		batch:     make([]Record, 0, DefaultBatchSize),
		batchSize: DefaultBatchSize,
		metadata:  metadata,
	}, nil
}

// createSchema creates the records database schema.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS records (
			woc_id TEXT NOT NULL,
			species TEXT NOT NULL,
			species_key TEXT NOT NULL,
			coord_x REAL NOT NULL,
			coord_y REAL NOT NULL,
			accuracy TEXT NOT NULL DEFAULT 'High',
			status TEXT NOT NULL DEFAULT '',
			year_of_record INTEGER NOT NULL DEFAULT 0
		);

		CREATE UNIQUE INDEX IF NOT EXISTS record_index ON records (woc_id);
		CREATE INDEX IF NOT EXISTS species_index ON records (species_key);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// insertMetadata replaces the metadata table contents.
func insertMetadata(db *sql.DB, meta Metadata) error {
	if _, err := db.Exec("DELETE FROM metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	stmt, err := db.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.ToMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert metadata %q: %w", key, err)
		}
	}

	return nil
}

// WriteRecord validates a record and adds it to the batch. When the batch is
// full, it is automatically flushed. A record with an existing woc_id
// replaces the stored one.
func (w *Writer) WriteRecord(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Accuracy == "" {
		r.Accuracy = AccuracyHigh
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.batch = append(w.batch, r)

	if len(w.batch) >= w.batchSize {
		return w.flushLocked()
	}

	return nil
}

// Flush writes any buffered records to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked writes buffered records to the database. Must be called with lock held.
func (w *Writer) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO records
		(woc_id, species, species_key, coord_x, coord_y, accuracy, status, year_of_record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range w.batch {
		_, err := stmt.Exec(r.WocID, r.Species, types.NormalizeSpeciesName(r.Species),
			r.CoordX, r.CoordY, string(r.Accuracy), r.Status, r.Year)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.WocID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.written += len(w.batch)
	w.batch = w.batch[:0]
	return nil
}

// Written returns the number of records flushed so far.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes any remaining records and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.db.Close()
		return err
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
