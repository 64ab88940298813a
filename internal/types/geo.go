package types

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeoPoint is a single species observation in WGS84 degrees.
type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Valid reports whether the point has finite coordinates inside the WGS84 range.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Point returns the point in orb's [lng, lat] order.
func (p GeoPoint) Point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// String returns a human-readable representation of the point
func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", p.Lat, p.Lng)
}

// BoundingBox represents a geographic bounding box in WGS84 (EPSG:4326)
type BoundingBox struct {
	MinLon float64 // Western edge (degrees)
	MinLat float64 // Southern edge (degrees)
	MaxLon float64 // Eastern edge (degrees)
	MaxLat float64 // Northern edge (degrees)
}

// BoundingBoxFromBound converts an orb.Bound ([lng, lat] corners).
func BoundingBoxFromBound(b orb.Bound) BoundingBox {
	return BoundingBox{
		MinLon: b.Min.Lon(),
		MinLat: b.Min.Lat(),
		MaxLon: b.Max.Lon(),
		MaxLat: b.Max.Lat(),
	}
}

// Bound converts the box back to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// Array returns [minLon, minLat, maxLon, maxLat], the GeoJSON bbox order.
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// String returns a human-readable representation of the bounding box
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Width returns the width of the bounding box in degrees
func (b BoundingBox) Width() float64 {
	return b.MaxLon - b.MinLon
}

// Height returns the height of the bounding box in degrees
func (b BoundingBox) Height() float64 {
	return b.MaxLat - b.MinLat
}

// Contains reports whether the point lies inside or on the edge of the box.
func (b BoundingBox) Contains(p orb.Point) bool {
	return p.Lon() >= b.MinLon && p.Lon() <= b.MaxLon &&
		p.Lat() >= b.MinLat && p.Lat() <= b.MaxLat
}

// ExpandByFraction grows the box on every side by frac of its width/height.
func (b BoundingBox) ExpandByFraction(frac float64) BoundingBox {
	if frac <= 0 {
		return b
	}
	dx := b.Width() * frac
	dy := b.Height() * frac
	return BoundingBox{
		MinLon: b.MinLon - dx,
		MinLat: b.MinLat - dy,
		MaxLon: b.MaxLon + dx,
		MaxLat: b.MaxLat + dy,
	}
}
