// Package raster draws PNG previews of species maps: density hexagons and
// distribution overlays on a Web Mercator canvas.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/crayfishmap/internal/density"
	"github.com/MeKo-Tech/crayfishmap/internal/region"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/MeKo-Tech/crayfishmap/internal/viewport"
	"github.com/aquilax/go-perlin"
	"github.com/disintegration/gift"
	"github.com/paulmach/orb"
	"golang.org/x/image/vector"
)

var (
	paperColor = color.NRGBA{R: 0xf8, G: 0xf4, B: 0xea, A: 0xff}
	waterColor = color.NRGBA{R: 0xa8, G: 0xc8, B: 0xe8, A: 0xff}
	riverColor = color.NRGBA{R: 0x4a, G: 0x80, B: 0xb5, A: 0xff}
)

// overlayOrder paints the widest overlays first so AOO stays on top.
var overlayOrder = []types.RegionKind{types.RegionEOO, types.RegionBasins, types.RegionAOO}

// Options controls the preview canvas.
type Options struct {
	Width  int
	Height int

	// BlurSigma softens overlay fills; 0 keeps hard edges.
	BlurSigma float32

	// GrainStrength is the relative brightness variation of the paper (0..1).
	GrainStrength float64
	// GrainScale is the noise wavelength in pixels.
	GrainScale float64
	Seed       int64
}

// DefaultOptions returns the options used for exported previews.
func DefaultOptions() Options {
	return Options{
		Width:         viewport.DefaultWidth,
		Height:        viewport.DefaultHeight,
		BlurSigma:     1.2,
		GrainStrength: 0.05,
		GrainScale:    48,
		Seed:          1,
	}
}

// Scene is what gets drawn on a preview.
type Scene struct {
	Bins        []density.Bin
	Regions     region.Set
	Hydrography *types.FeatureCollection
}

// Renderer maps lon/lat onto a canvas showing a fixed view.
type Renderer struct {
	proj   viewport.Projector
	opts   Options
	width  int
	height int
}

// NewRenderer creates a renderer for the given view.
func NewRenderer(v viewport.View, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = viewport.DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = viewport.DefaultHeight
	}
	if opts.GrainScale <= 0 {
		opts.GrainScale = 48
	}
	return &Renderer{
		proj:   viewport.NewProjector(v, opts.Width, opts.Height),
		opts:   opts,
		width:  opts.Width,
		height: opts.Height,
	}
}

// Render draws the scene: paper, hydrography, density, then overlays.
func (r *Renderer) Render(scene Scene) *image.NRGBA {
	canvas := r.paper()

	if scene.Hydrography != nil {
		r.drawHydrography(canvas, *scene.Hydrography)
	}
	r.drawDensity(canvas, scene.Bins)

	for _, kind := range overlayOrder {
		if g := scene.Regions.Get(kind); g != nil {
			r.drawRegion(canvas, g, region.StyleFor(kind))
		}
	}

	return canvas
}

func (r *Renderer) paper() *image.NRGBA {
	canvas := image.NewNRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(paperColor), image.Point{}, draw.Src)

	if r.opts.GrainStrength <= 0 {
		return canvas
	}

	p := perlin.NewPerlin(2.0, 2.0, 3, r.opts.Seed)
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			n := p.Noise2D(float64(x)/r.opts.GrainScale, float64(y)/r.opts.GrainScale)
			f := 1 + r.opts.GrainStrength*n
			i := canvas.PixOffset(x, y)
			canvas.Pix[i] = scaleChannel(canvas.Pix[i], f)
			canvas.Pix[i+1] = scaleChannel(canvas.Pix[i+1], f)
			canvas.Pix[i+2] = scaleChannel(canvas.Pix[i+2], f)
		}
	}
	return canvas
}

func scaleChannel(v uint8, f float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(float64(v)*f))))
}

func (r *Renderer) drawHydrography(dst *image.NRGBA, fc types.FeatureCollection) {
	if len(fc.Water) > 0 {
		ras := vector.NewRasterizer(r.width, r.height)
		for i := range fc.Water {
			r.addGeometry(ras, fc.Water[i].Geometry)
		}
		composite(dst, r.rasterize(ras), waterColor, 1)
	}

	if len(fc.Rivers) > 0 {
		lines := r.newMask()
		for i := range fc.Rivers {
			r.strokeGeometry(lines, fc.Rivers[i].Geometry, 1.5)
		}
		composite(dst, lines, riverColor, 1)
	}
}

// drawDensity fills the hexagons one bucket at a time, then outlines them.
func (r *Renderer) drawDensity(dst *image.NRGBA, bins []density.Bin) {
	if len(bins) == 0 {
		return
	}

	byBucket := make(map[density.Bucket][]density.Bin)
	var order []density.Bucket
	for _, b := range bins {
		bucket := b.Bucket()
		if _, ok := byBucket[bucket]; !ok {
			order = append(order, bucket)
		}
		byBucket[bucket] = append(byBucket[bucket], b)
	}

	for _, bucket := range order {
		style := bucket.Style()
		ras := vector.NewRasterizer(r.width, r.height)
		for _, b := range byBucket[bucket] {
			r.addRing(ras, b.Boundary, false)
		}
		composite(dst, r.rasterize(ras), parseHexColor(style.FillColor), style.FillOpacity)
	}

	style := density.Baseline.Style()
	outline := r.newMask()
	for _, b := range bins {
		r.strokeLine(outline, orb.LineString(b.Boundary), style.Weight)
	}
	composite(dst, outline, parseHexColor(style.Color), style.Opacity)
}

func (r *Renderer) drawRegion(dst *image.NRGBA, g orb.Geometry, style types.PathStyle) {
	if style.FillColor != "" && style.FillOpacity > 0 {
		ras := vector.NewRasterizer(r.width, r.height)
		r.addGeometry(ras, g)
		fill := r.soften(r.rasterize(ras))
		composite(dst, fill, parseHexColor(style.FillColor), style.FillOpacity)
	}

	outline := r.newMask()
	r.strokeGeometry(outline, g, style.Weight)
	composite(dst, outline, parseHexColor(style.Color), style.Opacity)
}

func (r *Renderer) newMask() *image.Alpha {
	return image.NewAlpha(image.Rect(0, 0, r.width, r.height))
}

func (r *Renderer) rasterize(ras *vector.Rasterizer) *image.Alpha {
	mask := r.newMask()
	ras.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

func (r *Renderer) soften(mask *image.Alpha) *image.Alpha {
	if r.opts.BlurSigma <= 0 {
		return mask
	}
	g := gift.New(gift.GaussianBlur(r.opts.BlurSigma))
	dst := image.NewAlpha(g.Bounds(mask.Bounds()))
	g.Draw(dst, mask)
	return dst
}

// composite paints c through mask with the given opacity.
func composite(dst *image.NRGBA, mask *image.Alpha, c color.NRGBA, opacity float64) {
	c.A = uint8(math.Round(math.Max(0, math.Min(1, opacity)) * float64(c.A)))
	if c.A == 0 {
		return
	}
	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func (r *Renderer) addGeometry(ras *vector.Rasterizer, g orb.Geometry) {
	switch g := g.(type) {
	case orb.Polygon:
		r.addPolygon(ras, g)
	case orb.MultiPolygon:
		for _, p := range g {
			r.addPolygon(ras, p)
		}
	case orb.Ring:
		r.addRing(ras, g, false)
	case orb.Collection:
		for _, sub := range g {
			r.addGeometry(ras, sub)
		}
	}
}

// addPolygon adds the outer ring and the holes wound the opposite way, so the
// rasterizer's signed coverage cancels inside holes.
func (r *Renderer) addPolygon(ras *vector.Rasterizer, poly orb.Polygon) {
	if len(poly) == 0 {
		return
	}
	outer := poly[0].Orientation()
	r.addRing(ras, poly[0], false)
	for _, hole := range poly[1:] {
		r.addRing(ras, hole, hole.Orientation() == outer)
	}
}

func (r *Renderer) addRing(ras *vector.Rasterizer, ring orb.Ring, reverse bool) {
	if len(ring) < 3 {
		return
	}
	for i := range ring {
		pt := ring[i]
		if reverse {
			pt = ring[len(ring)-1-i]
		}
		x, y := r.proj.Project(pt)
		if i == 0 {
			ras.MoveTo(float32(x), float32(y))
		} else {
			ras.LineTo(float32(x), float32(y))
		}
	}
	ras.ClosePath()
}

func (r *Renderer) strokeGeometry(mask *image.Alpha, g orb.Geometry, width float64) {
	switch g := g.(type) {
	case orb.Point:
		x, y := r.proj.Project(g)
		r.drawDisc(mask, x, y, math.Max(width, 2))
	case orb.MultiPoint:
		for _, p := range g {
			r.strokeGeometry(mask, p, width)
		}
	case orb.LineString:
		r.strokeLine(mask, g, width)
	case orb.MultiLineString:
		for _, ls := range g {
			r.strokeLine(mask, ls, width)
		}
	case orb.Ring:
		r.strokeLine(mask, orb.LineString(g), width)
	case orb.Polygon:
		for _, ring := range g {
			r.strokeLine(mask, orb.LineString(ring), width)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			r.strokeGeometry(mask, p, width)
		}
	case orb.Collection:
		for _, sub := range g {
			r.strokeGeometry(mask, sub, width)
		}
	}
}

// strokeLine stamps discs along each segment.
func (r *Renderer) strokeLine(mask *image.Alpha, ls orb.LineString, width float64) {
	if len(ls) < 2 {
		return
	}
	if width <= 0 {
		width = 1
	}
	radius := width / 2
	step := 0.75

	for i := 0; i < len(ls)-1; i++ {
		x0, y0 := r.proj.Project(ls[i])
		x1, y1 := r.proj.Project(ls[i+1])

		dx := x1 - x0
		dy := y1 - y0
		segLen := math.Hypot(dx, dy)
		if segLen == 0 {
			r.drawDisc(mask, x0, y0, radius)
			continue
		}
		// Segments far off canvas are not worth stamping.
		if math.Max(x0, x1) < -width || math.Min(x0, x1) > float64(r.width)+width ||
			math.Max(y0, y1) < -width || math.Min(y0, y1) > float64(r.height)+width {
			continue
		}

		steps := int(math.Ceil(segLen / step))
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			r.drawDisc(mask, x0+dx*t, y0+dy*t, radius)
		}
	}
}

func (r *Renderer) drawDisc(mask *image.Alpha, cx, cy, radius float64) {
	minX := max(int(math.Floor(cx-radius)), 0)
	maxX := min(int(math.Ceil(cx+radius)), r.width-1)
	minY := max(int(math.Floor(cy-radius)), 0)
	maxY := min(int(math.Ceil(cy+radius)), r.height-1)

	r2 := radius * radius
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			if dx*dx+dy*dy <= r2 {
				mask.Pix[mask.PixOffset(x, y)] = 255
			}
		}
	}
}

// namedColors are the CSS names used by the map styles.
var namedColors = map[string]color.NRGBA{
	"white": {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	"black": {A: 0xff},
}

// parseHexColor parses #rgb, #rrggbb, #rrggbbaa and the names in
// namedColors. Anything else is black.
func parseHexColor(s string) color.NRGBA {
	black := color.NRGBA{A: 0xff}
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c
	}
	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return black
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return black
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return black
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// WritePNG writes img to path, creating the parent directory.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := EncodePNG(f, img); err != nil {
		f.Close() // nolint:errcheck
		return err
	}
	return f.Close()
}
