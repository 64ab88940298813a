package density

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/require"
	"github.com/uber/h3-go/v4"
)

var samplePoints = []types.GeoPoint{
	{Lat: 46.56, Lng: 22.22},
	{Lat: 46.56, Lng: 22.22},
	{Lat: 46.56, Lng: 22.22},
	{Lat: 45.76, Lng: 21.23},
	{Lat: 47.16, Lng: 27.58},
	{Lat: 52.37, Lng: 9.73},
	{Lat: -33.87, Lng: 151.21},
}

func TestComputeDensityGrid_Partition(t *testing.T) {
	bins, err := ComputeDensityGrid(samplePoints, DefaultResolution)
	require.NoError(t, err)
	require.NotEmpty(t, bins)

	if got := Total(bins); got != len(samplePoints) {
		t.Fatalf("sum of counts = %d, want %d", got, len(samplePoints))
	}

	seen := make(map[h3.Cell]bool)
	for _, b := range bins {
		if b.Count < 1 {
			t.Errorf("bin %s has count %d", b.CellID(), b.Count)
		}
		if seen[b.Cell] {
			t.Errorf("cell %s appears twice", b.CellID())
		}
		seen[b.Cell] = true
		if b.Cell.Resolution() != DefaultResolution {
			t.Errorf("cell %s has resolution %d", b.CellID(), b.Cell.Resolution())
		}
	}
}

func TestComputeDensityGrid_SameCellAggregates(t *testing.T) {
	cell, err := CellFor(samplePoints[0], DefaultResolution)
	require.NoError(t, err)

	bins, err := ComputeDensityGrid(samplePoints, DefaultResolution)
	require.NoError(t, err)

	for _, b := range bins {
		if b.Cell == cell {
			if b.Count < 3 {
				t.Fatalf("expected at least 3 observations in %s, got %d", cell, b.Count)
			}
			return
		}
	}
	t.Fatalf("cell %s missing from grid", cell)
}

func TestComputeDensityGrid_SortedAndDeterministic(t *testing.T) {
	a, err := ComputeDensityGrid(samplePoints, DefaultResolution)
	require.NoError(t, err)
	b, err := ComputeDensityGrid(samplePoints, DefaultResolution)
	require.NoError(t, err)

	require.Equal(t, a, b)
	for i := 1; i < len(a); i++ {
		if a[i-1].Cell >= a[i].Cell {
			t.Fatalf("bins not sorted at %d: %s >= %s", i, a[i-1].CellID(), a[i].CellID())
		}
	}
}

func TestComputeDensityGrid_Empty(t *testing.T) {
	bins, err := ComputeDensityGrid(nil, DefaultResolution)
	require.NoError(t, err)
	require.Empty(t, bins)
}

func TestComputeDensityGrid_SkipsInvalidPoints(t *testing.T) {
	points := []types.GeoPoint{
		{Lat: 46.56, Lng: 22.22},
		{Lat: math.NaN(), Lng: 22.22},
		{Lat: 46.56, Lng: math.Inf(-1)},
		{Lat: 95, Lng: 10},
		{Lat: 10, Lng: 200},
	}

	bins, err := ComputeDensityGrid(points, DefaultResolution)
	require.NoError(t, err)
	require.Len(t, bins, 1)
	require.Equal(t, 1, bins[0].Count)
}

func TestComputeDensityGrid_InvalidResolution(t *testing.T) {
	for _, res := range []int{-1, 16, 99} {
		if _, err := ComputeDensityGrid(samplePoints, res); err == nil {
			t.Errorf("expected error for resolution %d", res)
		}
	}
}

func TestBinBoundary_LngLatOrder(t *testing.T) {
	p := types.GeoPoint{Lat: 46.56, Lng: 22.22}
	bins, err := ComputeDensityGrid([]types.GeoPoint{p}, DefaultResolution)
	require.NoError(t, err)
	require.Len(t, bins, 1)

	ring := bins[0].Boundary
	require.GreaterOrEqual(t, len(ring), 7)
	if ring[0] != ring[len(ring)-1] {
		t.Fatalf("ring is not closed: first %v last %v", ring[0], ring[len(ring)-1])
	}
	if ring.Orientation() != orb.CCW {
		t.Fatalf("ring is not counter-clockwise")
	}

	center, err := h3.CellToLatLng(bins[0].Cell)
	require.NoError(t, err)
	if !planar.RingContains(ring, orb.Point{center.Lng, center.Lat}) {
		t.Fatalf("cell center %v not inside boundary %v", center, ring)
	}
	if planar.RingContains(ring, orb.Point{center.Lat, center.Lng}) {
		t.Fatalf("boundary contains the swapped center; vertices are [lat, lng]")
	}

	for _, v := range ring {
		if v.Lon() < 15 || v.Lon() > 30 || v.Lat() < 40 || v.Lat() > 52 {
			t.Fatalf("vertex %v is not near the observation", v)
		}
	}
}

func TestCellBoundary_Antimeridian(t *testing.T) {
	cell, err := CellFor(types.GeoPoint{Lat: 0, Lng: 179.9}, 1)
	require.NoError(t, err)

	ring, err := CellBoundary(cell)
	require.NoError(t, err)

	b := ring.Bound()
	if b.Max.Lon()-b.Min.Lon() > 180 {
		t.Fatalf("ring wraps around the globe: %v", b)
	}
}

func TestCellFor_InvalidInput(t *testing.T) {
	if _, err := CellFor(types.GeoPoint{Lat: 46, Lng: 22}, 16); err == nil {
		t.Error("expected error for resolution 16")
	}
	if _, err := CellFor(types.GeoPoint{Lat: math.NaN(), Lng: 22}, 3); err == nil {
		t.Error("expected error for NaN latitude")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(samplePoints, DefaultResolution)
	b := Fingerprint(append([]types.GeoPoint(nil), samplePoints...), DefaultResolution)
	if a != b {
		t.Fatalf("identical inputs produced different keys: %s vs %s", a, b)
	}

	if c := Fingerprint(samplePoints, 4); c == a {
		t.Fatal("resolution must be part of the key")
	}
	if d := Fingerprint(samplePoints[:3], DefaultResolution); d == a {
		t.Fatal("different point sets produced the same key")
	}
}

func TestComputeDensityGrid_TwelvePointsOneCell(t *testing.T) {
	points := make([]types.GeoPoint, 12)
	for i := range points {
		points[i] = types.GeoPoint{Lat: 46.56, Lng: 22.22}
	}

	bins, err := ComputeDensityGrid(points, DefaultResolution)
	require.NoError(t, err)
	require.Len(t, bins, 1)
	require.Equal(t, 12, bins[0].Count)
	require.Equal(t, "#ff9933", bins[0].Bucket().FillColor)
}
