// Package density bins species observations into a hexagonal H3 grid.
package density

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"
)

const (
	// DefaultResolution is the H3 resolution used by the portal map.
	// Resolution 3 cells average roughly 12,000 km².
	DefaultResolution = 3

	// MaxResolution is the finest resolution H3 supports.
	MaxResolution = 15
)

// Bin is one populated grid cell.
type Bin struct {
	Cell     h3.Cell
	Count    int
	Boundary orb.Ring // closed, counter-clockwise, [lng, lat] vertices
}

// CellID returns the canonical hex string of the cell index.
func (b Bin) CellID() string {
	return b.Cell.String()
}

// Bucket returns the display bucket for the bin's count.
func (b Bin) Bucket() Bucket {
	return ClassifyDensity(b.Count)
}

// ValidResolution reports whether res is a valid H3 resolution.
func ValidResolution(res int) bool {
	return res >= 0 && res <= MaxResolution
}

// CellFor maps a point to its H3 cell at the given resolution.
func CellFor(p types.GeoPoint, resolution int) (h3.Cell, error) {
	if !ValidResolution(resolution) {
		return 0, fmt.Errorf("invalid resolution %d (want 0-%d)", resolution, MaxResolution)
	}
	if !p.Valid() {
		return 0, fmt.Errorf("invalid coordinates %s", p)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), resolution)
	if err != nil {
		return 0, fmt.Errorf("failed to index %s: %w", p, err)
	}
	return cell, nil
}

// ComputeDensityGrid counts points per H3 cell.
//
// Points with NaN, infinite or out-of-range coordinates are skipped; the sum
// of all bin counts equals the number of valid points. Bins are returned
// sorted by cell index. The only error is an invalid resolution.
func ComputeDensityGrid(points []types.GeoPoint, resolution int) ([]Bin, error) {
	if !ValidResolution(resolution) {
		return nil, fmt.Errorf("invalid resolution %d (want 0-%d)", resolution, MaxResolution)
	}

	counts := make(map[h3.Cell]int)
	for _, p := range points {
		if !p.Valid() {
			continue
		}
		cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), resolution)
		if err != nil {
			continue
		}
		counts[cell]++
	}

	cells := make([]h3.Cell, 0, len(counts))
	for c := range counts {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })

	bins := make([]Bin, 0, len(cells))
	for _, c := range cells {
		ring, err := CellBoundary(c)
		if err != nil {
			// A cell produced by LatLngToCell always has a boundary.
			return nil, err
		}
		bins = append(bins, Bin{Cell: c, Count: counts[c], Boundary: ring})
	}

	return bins, nil
}

// CellBoundary returns the cell outline as a closed [lng, lat] ring.
//
// h3-go reports vertices as LatLng structs with named fields, so the order
// is taken from the field names rather than from array positions. Cells that
// straddle the antimeridian are unwrapped to longitudes beyond ±180 so the
// ring stays contiguous.
func CellBoundary(c h3.Cell) (orb.Ring, error) {
	boundary, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("failed to get boundary for cell %s: %w", c, err)
	}
	if len(boundary) == 0 {
		return nil, fmt.Errorf("empty boundary for cell %s", c)
	}

	ring := make(orb.Ring, 0, len(boundary)+1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, v := range boundary {
		ring = append(ring, orb.Point{v.Lng, v.Lat})
		minLng = math.Min(minLng, v.Lng)
		maxLng = math.Max(maxLng, v.Lng)
	}

	if maxLng-minLng > 180 {
		for i := range ring {
			if ring[i][0] < 0 {
				ring[i][0] += 360
			}
		}
	}

	ring = append(ring, ring[0])
	if ring.Orientation() != orb.CCW {
		ring.Reverse()
	}
	return ring, nil
}

// Total returns the sum of all bin counts.
func Total(bins []Bin) int {
	n := 0
	for _, b := range bins {
		n += b.Count
	}
	return n
}

// Fingerprint derives a cache key from the point sequence and resolution.
// Identical sequences always produce the same key.
func Fingerprint(points []types.GeoPoint, resolution int) string {
	h := fnv.New64a()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(resolution))
	h.Write(buf[:])
	for _, p := range points {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Lat))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Lng))
		h.Write(buf[:])
	}

	return fmt.Sprintf("r%d-n%d-%016x", resolution, len(points), h.Sum64())
}
