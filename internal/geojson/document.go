package geojson

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MeKo-Tech/crayfishmap/internal/density"
	"github.com/MeKo-Tech/crayfishmap/internal/region"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/MeKo-Tech/crayfishmap/internal/viewport"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LegendEntry describes one density bucket for the map legend.
type LegendEntry struct {
	Severity  int    `json:"severity"`
	MinCount  int    `json:"minCount"`
	FillColor string `json:"fillColor"`
}

// MapDocument is everything the browser map needs for one species.
type MapDocument struct {
	Species     string                                `json:"species"`
	Resolution  int                                   `json:"resolution"`
	Points      int                                   `json:"points"`
	Density     *geojson.FeatureCollection            `json:"density"`
	Overlays    map[types.RegionKind]*geojson.Feature `json:"overlays"`
	FitBounds   *[4]float64                           `json:"fitBounds"`
	FitRegion   types.RegionKind                      `json:"fitRegion,omitempty"`
	View        *viewport.View                        `json:"view,omitempty"`
	Legend      []LegendEntry                         `json:"legend"`
	GeneratedAt time.Time                             `json:"generatedAt"`
}

// DocumentInput gathers the already computed parts of a map document.
type DocumentInput struct {
	Species     string
	Resolution  int
	Points      int
	Bins        []density.Bin
	Regions     region.Set
	FitPriority []types.RegionKind
	Width       int
	Height      int
	Padding     int
	MaxZoom     int
	Now         time.Time

	// FitToDensity lets the viewport fall back to the density grid extent
	// when no overlay is present.
	FitToDensity bool
}

// BuildMapDocument assembles a MapDocument. Without an overlay to fit to
// (and without FitToDensity) the document carries no bounds and the client
// keeps its current view.
func BuildMapDocument(in DocumentInput) *MapDocument {
	doc := &MapDocument{
		Species:     in.Species,
		Resolution:  in.Resolution,
		Points:      in.Points,
		Density:     DensityToGeoJSON(in.Bins),
		Overlays:    make(map[types.RegionKind]*geojson.Feature),
		Legend:      Legend(),
		GeneratedAt: in.Now.UTC(),
	}

	for _, kind := range types.AllRegionKinds {
		if f := RegionToGeoJSON(kind, in.Regions.Get(kind)); f != nil {
			doc.Overlays[kind] = f
		}
	}

	bound, kind, ok := in.Regions.FitBounds(in.FitPriority)
	if !ok && in.FitToDensity {
		bound, ok = DensityBound(in.Bins)
		kind = types.RegionKind(LayerDensity)
	}
	if ok {
		arr := types.BoundingBoxFromBound(bound).Array()
		doc.FitBounds = &arr
		doc.FitRegion = kind

		if in.Width > 0 && in.Height > 0 {
			v := viewport.Fit(bound, in.Width, in.Height, in.Padding, in.MaxZoom)
			doc.View = &v
		}
	}

	return doc
}

// DensityBound returns the extent of the density hexagons.
func DensityBound(bins []density.Bin) (orb.Bound, bool) {
	geoms := make([]orb.Geometry, 0, len(bins))
	for _, b := range bins {
		geoms = append(geoms, b.Boundary)
	}
	if len(geoms) == 0 {
		return orb.Bound{}, false
	}

	bound := geoms[0].Bound()
	for _, g := range geoms[1:] {
		bound = bound.Union(g.Bound())
	}
	return bound, !bound.IsEmpty()
}

// Legend returns the density buckets from baseline to most severe.
func Legend() []LegendEntry {
	buckets := density.Buckets()
	out := make([]LegendEntry, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, LegendEntry{
			Severity:  b.Severity,
			MinCount:  b.Threshold + 1,
			FillColor: b.FillColor,
		})
	}
	return out
}

// FeatureCollection flattens the document into a single collection, density
// hexagons first and overlays after, each tagged with its layer.
func (d *MapDocument) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if d.Density != nil {
		fc.Features = append(fc.Features, d.Density.Features...)
	}
	for _, kind := range types.AllRegionKinds {
		if f, ok := d.Overlays[kind]; ok {
			fc.Append(f)
		}
	}
	if d.FitBounds != nil {
		fc.BBox = geojson.BBox(d.FitBounds[:])
	}
	return fc
}

// Bytes returns the indented JSON encoding of the document.
func (d *MapDocument) Bytes() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map document: %w", err)
	}
	return data, nil
}

// LayerCounts returns the number of features per layer.
func (d *MapDocument) LayerCounts() map[LayerType]int {
	counts := map[LayerType]int{LayerDensity: 0}
	if d.Density != nil {
		counts[LayerDensity] = len(d.Density.Features)
	}
	for kind := range d.Overlays {
		counts[RegionLayer(kind)] = 1
	}
	return counts
}
