package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
)

// Reader reads records from the store.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens a records database for reading.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='records'").Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("database does not contain records table")
	}

	return &Reader{
		db:   db,
		path: path,
	}, nil
}

// Path returns the database file path.
func (r *Reader) Path() string {
	return r.path
}

// SpeciesNames returns the distinct species names with their record counts,
// ordered by name.
func (r *Reader) SpeciesNames(ctx context.Context) ([]SpeciesCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT MIN(species), species_key, COUNT(*)
		FROM records
		GROUP BY species_key
		ORDER BY species_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query species: %w", err)
	}
	defer rows.Close()

	var out []SpeciesCount
	for rows.Next() {
		var s SpeciesCount
		if err := rows.Scan(&s.Name, &s.Key, &s.Records); err != nil {
			return nil, fmt.Errorf("failed to scan species row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating species: %w", err)
	}

	return out, nil
}

// Locations returns the observation points of a species. The name is
// normalized, so "Astacus astacus" and "Astacus_astacus" are equivalent.
// Points are ordered by woc_id so repeated calls return the same sequence.
func (r *Reader) Locations(ctx context.Context, species string) ([]types.GeoPoint, error) {
	key := types.NormalizeSpeciesName(species)

	rows, err := r.db.QueryContext(ctx,
		"SELECT coord_y, coord_x FROM records WHERE species_key = ? ORDER BY woc_id", key)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations for %s: %w", key, err)
	}
	defer rows.Close()

	var points []types.GeoPoint
	for rows.Next() {
		var p types.GeoPoint
		if err := rows.Scan(&p.Lat, &p.Lng); err != nil {
			return nil, fmt.Errorf("failed to scan location row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locations: %w", err)
	}

	return points, nil
}

// Count returns the total number of records.
func (r *Reader) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Metadata reads metadata from the database.
func (r *Reader) Metadata(ctx context.Context) (Metadata, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	return metadataFromMap(values), nil
}

// Close closes the database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
