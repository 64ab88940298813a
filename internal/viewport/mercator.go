package viewport

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	earthRadius = orb.EarthRadius // meters
	tileSize    = 256.0           // pixels

	// MaxLatitude is the latitude limit of Web Mercator.
	MaxLatitude = 85.0511287798
)

// lonLatToMercator converts WGS84 coordinates to Web Mercator (EPSG:3857)
func lonLatToMercator(lon, lat float64) (float64, float64) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p[0], p[1]
}

// mercatorToLonLat converts Web Mercator (EPSG:3857) to WGS84
func mercatorToLonLat(x, y float64) (float64, float64) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p[0], p[1]
}

// worldSize is the width of the whole world in pixels at a zoom level.
func worldSize(zoom float64) float64 {
	return tileSize * math.Pow(2, zoom)
}

// toPixel projects WGS84 to global pixel coordinates at a zoom level.
// The origin is the north-west corner of the world, y grows southwards.
func toPixel(lon, lat, zoom float64) (float64, float64) {
	x, y := lonLatToMercator(lon, lat)
	size := worldSize(zoom)
	circumference := 2 * math.Pi * earthRadius

	px := (x/circumference + 0.5) * size
	py := (0.5 - y/circumference) * size
	return px, py
}

// fromPixel is the inverse of toPixel.
func fromPixel(px, py, zoom float64) (float64, float64) {
	size := worldSize(zoom)
	circumference := 2 * math.Pi * earthRadius

	x := (px/size - 0.5) * circumference
	y := (0.5 - py/size) * circumference
	return mercatorToLonLat(x, y)
}
