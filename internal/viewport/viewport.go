// Package viewport computes the Web Mercator view that fits a bounding box
// into a canvas, the way Leaflet's fitBounds does.
package viewport

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// DefaultPadding is the margin in pixels kept around a fitted region.
	DefaultPadding = 20

	// DefaultMaxZoom caps the zoom for tiny or point-sized regions.
	DefaultMaxZoom = 18

	DefaultWidth  = 1024
	DefaultHeight = 768
)

// View is a map center and integer zoom level.
type View struct {
	Center orb.Point `json:"center"` // [lng, lat]
	Zoom   int       `json:"zoom"`
}

// Fit returns the highest zoom at which bound, padded by padding pixels on
// every side, fits in a width x height canvas, and the center of bound.
// The zoom is clamped to [0, maxZoom]. Degenerate bounds (a single point)
// get maxZoom.
func Fit(bound orb.Bound, width, height, padding, maxZoom int) View {
	if maxZoom < 0 {
		maxZoom = 0
	}

	minX, minY := toPixel(bound.Min.Lon(), bound.Max.Lat(), 0)
	maxX, maxY := toPixel(bound.Max.Lon(), bound.Min.Lat(), 0)
	center := fromPixelPoint((minX+maxX)/2, (minY+maxY)/2, 0)

	availW := float64(width - 2*padding)
	availH := float64(height - 2*padding)
	if availW <= 0 || availH <= 0 {
		return View{Center: center, Zoom: 0}
	}

	w := maxX - minX
	h := maxY - minY
	if w <= 0 && h <= 0 {
		return View{Center: center, Zoom: maxZoom}
	}

	scale := math.Inf(1)
	if w > 0 {
		scale = availW / w
	}
	if h > 0 {
		scale = math.Min(scale, availH/h)
	}

	zoom := int(math.Floor(math.Log2(scale)))
	if zoom < 0 {
		zoom = 0
	}
	if zoom > maxZoom {
		zoom = maxZoom
	}
	return View{Center: center, Zoom: zoom}
}

// FitDefault fits bound into the default canvas with the default padding.
func FitDefault(bound orb.Bound) View {
	return Fit(bound, DefaultWidth, DefaultHeight, DefaultPadding, DefaultMaxZoom)
}

func fromPixelPoint(px, py, zoom float64) orb.Point {
	lon, lat := fromPixel(px, py, zoom)
	return orb.Point{lon, lat}
}

// Projector maps WGS84 points onto a canvas showing a View.
type Projector struct {
	view          View
	width, height int
	originX       float64
	originY       float64
}

// NewProjector creates a projector for a canvas of the given size.
func NewProjector(v View, width, height int) Projector {
	cx, cy := toPixel(v.Center.Lon(), v.Center.Lat(), float64(v.Zoom))
	return Projector{
		view:    v,
		width:   width,
		height:  height,
		originX: cx - float64(width)/2,
		originY: cy - float64(height)/2,
	}
}

// Project returns canvas pixel coordinates for a [lng, lat] point.
func (p Projector) Project(pt orb.Point) (float64, float64) {
	x, y := toPixel(pt.Lon(), pt.Lat(), float64(p.view.Zoom))
	return x - p.originX, y - p.originY
}

// Unproject is the inverse of Project.
func (p Projector) Unproject(x, y float64) orb.Point {
	return fromPixelPoint(x+p.originX, y+p.originY, float64(p.view.Zoom))
}

// Bound returns the geographic extent visible on the canvas.
func (p Projector) Bound() orb.Bound {
	nw := p.Unproject(0, 0)
	se := p.Unproject(float64(p.width), float64(p.height))
	return orb.Bound{
		Min: orb.Point{nw.Lon(), se.Lat()},
		Max: orb.Point{se.Lon(), nw.Lat()},
	}
}

// Size returns the canvas dimensions.
func (p Projector) Size() (int, int) {
	return p.width, p.height
}
