package viewport

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func TestMercatorConversion(t *testing.T) {
	testPoints := [][2]float64{
		{0, 0},
		{22.22, 46.56},
		{-122.42, 37.78},
		{151.21, -33.87},
	}

	for _, point := range testPoints {
		lon, lat := point[0], point[1]
		x, y := lonLatToMercator(lon, lat)
		lon2, lat2 := mercatorToLonLat(x, y)

		if math.Abs(lon-lon2) > 1e-6 || math.Abs(lat-lat2) > 1e-6 {
			t.Errorf("Round-trip conversion failed: (%.6f, %.6f) != (%.6f, %.6f)", lon, lat, lon2, lat2)
		}
	}
}

func TestToPixelMatchesMaptile(t *testing.T) {
	p := orb.Point{22.22, 46.56}
	for _, z := range []int{3, 7, 12} {
		px, py := toPixel(p.Lon(), p.Lat(), float64(z))
		tile := maptile.At(p, maptile.Zoom(z))

		if uint32(px/tileSize) != tile.X || uint32(py/tileSize) != tile.Y {
			t.Errorf("zoom %d: pixel (%.1f, %.1f) not in tile %v", z, px, py, tile)
		}
	}
}

func TestFitContainsPaddedBound(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{21.0, 45.5}, Max: orb.Point{25.0, 47.5}}
	const width, height = 800, 600

	v := Fit(bound, width, height, DefaultPadding, DefaultMaxZoom)
	if v.Zoom <= 0 || v.Zoom >= DefaultMaxZoom {
		t.Fatalf("unexpected zoom %d", v.Zoom)
	}

	check := func(zoom int) bool {
		p := NewProjector(View{Center: v.Center, Zoom: zoom}, width, height)
		for _, corner := range []orb.Point{bound.Min, bound.Max, {bound.Min.Lon(), bound.Max.Lat()}, {bound.Max.Lon(), bound.Min.Lat()}} {
			x, y := p.Project(corner)
			if x < DefaultPadding-0.5 || x > width-DefaultPadding+0.5 || y < DefaultPadding-0.5 || y > height-DefaultPadding+0.5 {
				return false
			}
		}
		return true
	}

	if !check(v.Zoom) {
		t.Fatalf("bound does not fit at zoom %d", v.Zoom)
	}
	if check(v.Zoom + 1) {
		t.Fatalf("zoom %d is not the highest fitting zoom", v.Zoom)
	}
}

func TestFitCenter(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{10, -10}, Max: orb.Point{20, 10}}
	v := FitDefault(bound)

	if math.Abs(v.Center.Lon()-15) > 1e-9 || math.Abs(v.Center.Lat()) > 1e-9 {
		t.Fatalf("unexpected center %v", v.Center)
	}
}

func TestFitDegenerate(t *testing.T) {
	p := orb.Point{22.5, 46.7}
	v := Fit(orb.Bound{Min: p, Max: p}, 800, 600, DefaultPadding, 12)
	if v.Zoom != 12 {
		t.Errorf("point bound should use max zoom, got %d", v.Zoom)
	}

	v = Fit(orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}, 100, 100, 20, 18)
	if v.Zoom != 0 {
		t.Errorf("world bound on a small canvas should use zoom 0, got %d", v.Zoom)
	}

	v = Fit(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}, 30, 30, 20, 18)
	if v.Zoom != 0 {
		t.Errorf("padding larger than canvas should use zoom 0, got %d", v.Zoom)
	}
}

func TestProjectorRoundTrip(t *testing.T) {
	p := NewProjector(View{Center: orb.Point{22.5, 46.7}, Zoom: 6}, 640, 480)

	x, y := p.Project(orb.Point{22.5, 46.7})
	if math.Abs(x-320) > 1e-6 || math.Abs(y-240) > 1e-6 {
		t.Fatalf("center projects to (%.3f, %.3f), want (320, 240)", x, y)
	}

	back := p.Unproject(100, 50)
	x2, y2 := p.Project(back)
	if math.Abs(x2-100) > 1e-6 || math.Abs(y2-50) > 1e-6 {
		t.Fatalf("round trip gave (%.3f, %.3f)", x2, y2)
	}

	b := p.Bound()
	if !b.Contains(orb.Point{22.5, 46.7}) {
		t.Fatalf("visible bound %v does not contain center", b)
	}
}
