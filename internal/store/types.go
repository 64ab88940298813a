// Package store keeps species occurrence records in a local SQLite database.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
)

// Accuracy is the georeferencing confidence of a record.
type Accuracy string

const (
	AccuracyHigh   Accuracy = "High"
	AccuracyMedium Accuracy = "Medium"
	AccuracyLow    Accuracy = "Low"
)

// ParseAccuracy accepts High/Medium/Low in any case. Empty means High.
func ParseAccuracy(s string) (Accuracy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "high":
		return AccuracyHigh, nil
	case "medium":
		return AccuracyMedium, nil
	case "low":
		return AccuracyLow, nil
	default:
		return "", fmt.Errorf("invalid accuracy %q", s)
	}
}

// Record is a single georeferenced crayfish observation.
type Record struct {
	WocID    string   // World of Crayfish record id, unique
	Species  string   // Scientific name as entered
	CoordX   float64  // Longitude
	CoordY   float64  // Latitude
	Accuracy Accuracy // High, Medium or Low
	Status   string   // Native, Alien, ...
	Year     int      // Year of record
}

// Point returns the record location.
func (r Record) Point() types.GeoPoint {
	return types.GeoPoint{Lat: r.CoordY, Lng: r.CoordX}
}

// Validate checks the fields required by the records table.
func (r Record) Validate() error {
	if n := len(r.WocID); n < 5 || n > 255 {
		return fmt.Errorf("woc_id %q must be 5-255 characters", r.WocID)
	}
	if strings.TrimSpace(r.Species) == "" {
		return fmt.Errorf("record %s: missing species name", r.WocID)
	}
	if !r.Point().Valid() {
		return fmt.Errorf("record %s: invalid coordinates %s", r.WocID, r.Point())
	}
	if _, err := ParseAccuracy(string(r.Accuracy)); err != nil {
		return fmt.Errorf("record %s: %w", r.WocID, err)
	}
	return nil
}

// Metadata describes where the records came from.
type Metadata struct {
	Source      string    // File or URL the records were imported from
	Description string    // Human-readable description
	ImportedAt  time.Time // Time of the last import
	Version     string    // Version string
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	if m.Source != "" {
		result["source"] = m.Source
	}
	if m.Description != "" {
		result["description"] = m.Description
	}
	if !m.ImportedAt.IsZero() {
		result["imported_at"] = m.ImportedAt.UTC().Format(time.RFC3339)
	}
	if m.Version != "" {
		result["version"] = m.Version
	}

	return result
}

func metadataFromMap(values map[string]string) Metadata {
	meta := Metadata{
		Source:      values["source"],
		Description: values["description"],
		Version:     values["version"],
	}
	if v, ok := values["imported_at"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			meta.ImportedAt = t
		}
	}
	return meta
}

// SpeciesCount is a species name with its number of records.
type SpeciesCount struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Records int    `json:"records"`
}

func (s SpeciesCount) String() string {
	return s.Name + " (" + strconv.Itoa(s.Records) + ")"
}
