package types

import (
	"time"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/paulmach/orb"
)

// FeatureType represents the type of hydrographic context feature
type FeatureType string

const (
	FeatureTypeWater   FeatureType = "water"
	FeatureTypeRiver   FeatureType = "river"
	FeatureTypeUnknown FeatureType = "unknown"
)

// Feature represents a geographic feature extracted from OSM
type Feature struct {
	ID         string                 // OSM element ID (e.g., "way/12345")
	Type       FeatureType            // Feature category
	Geometry   orb.Geometry           // Geometry (LineString, Polygon, MultiPolygon)
	Properties map[string]interface{} // OSM tags and additional properties
	Name       string                 // Feature name (if available)
}

// FeatureCollection groups hydrography features by type
type FeatureCollection struct {
	Water  []Feature // Lakes, ponds, reservoirs
	Rivers []Feature // Rivers, streams, canals
}

// HydrographyData is the freshwater context fetched for one map extent.
type HydrographyData struct {
	FetchedAt time.Time
	Source    string
	Features  FeatureCollection
	Bounds    BoundingBox

	// OverpassResult stores the raw Overpass API response for debugging purposes.
	// It is nil unless WithRawResponseStorage(true) was set on the data source.
	OverpassResult *overpass.Result
}

// Count returns the total number of features
func (fc FeatureCollection) Count() int {
	return len(fc.Water) + len(fc.Rivers)
}

// All returns water bodies followed by rivers.
func (fc FeatureCollection) All() []Feature {
	out := make([]Feature, 0, fc.Count())
	out = append(out, fc.Water...)
	out = append(out, fc.Rivers...)
	return out
}
