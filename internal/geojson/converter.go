package geojson

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/crayfishmap/internal/density"
	"github.com/MeKo-Tech/crayfishmap/internal/region"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LayerType represents the different map layers we render
type LayerType string

const (
	LayerDensity LayerType = "density"
	LayerAOO     LayerType = "aoo"
	LayerEOO     LayerType = "eoo"
	LayerBasins  LayerType = "basins"
	LayerWater   LayerType = "water"
	LayerRivers  LayerType = "rivers"
)

// RegionLayer maps an overlay kind to its layer.
func RegionLayer(kind types.RegionKind) LayerType {
	return LayerType(kind)
}

// DensityToGeoJSON converts density bins to Polygon features carrying the
// count, the cell index, the bucket severity and the hexagon style.
func DensityToGeoJSON(bins []density.Bin) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, b := range bins {
		if len(b.Boundary) == 0 {
			continue
		}

		bucket := b.Bucket()
		f := geojson.NewFeature(orb.Polygon{b.Boundary})
		for key, value := range bucket.Style().Properties() {
			f.Properties[key] = value
		}
		f.Properties["layer"] = string(LayerDensity)
		f.Properties["cell"] = b.CellID()
		f.Properties["density"] = b.Count
		f.Properties["bucket"] = bucket.Severity

		fc.Append(f)
	}

	return fc
}

// RegionToGeoJSON wraps a normalized overlay in a styled feature.
// It returns nil when the region is absent.
func RegionToGeoJSON(kind types.RegionKind, g orb.Geometry) *geojson.Feature {
	if g == nil {
		return nil
	}

	f := geojson.NewFeature(g)
	for key, value := range region.StyleFor(kind).Properties() {
		f.Properties[key] = value
	}
	f.Properties["layer"] = string(RegionLayer(kind))
	f.Properties["name"] = kind.Label()
	return f
}

// ToGeoJSON converts hydrography features to a GeoJSON FeatureCollection
func ToGeoJSON(features []types.Feature) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()

	for _, f := range features {
		if f.Geometry == nil {
			continue
		}

		geoFeature := geojson.NewFeature(f.Geometry)
		if geoFeature.Properties == nil {
			geoFeature.Properties = make(map[string]interface{})
		}

		for key, value := range f.Properties {
			geoFeature.Properties[key] = value
		}

		geoFeature.Properties["osm_id"] = f.ID
		if f.Name != "" {
			geoFeature.Properties["name"] = f.Name
		}
		geoFeature.Properties["feature_type"] = string(f.Type)
		geoFeature.Properties["layer"] = string(layerForFeature(f.Type))

		fc.Append(geoFeature)
	}

	return fc, nil
}

// ToGeoJSONBytes converts hydrography features to indented GeoJSON bytes
func ToGeoJSONBytes(features []types.Feature) ([]byte, error) {
	fc, err := ToGeoJSON(features)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to GeoJSON: %w", err)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}

	return data, nil
}

func layerForFeature(t types.FeatureType) LayerType {
	if t == types.FeatureTypeRiver {
		return LayerRivers
	}
	return LayerWater
}

// GetLayerFeatures returns features for a hydrography layer
func GetLayerFeatures(fc types.FeatureCollection, layer LayerType) []types.Feature {
	switch layer {
	case LayerWater:
		return fc.Water
	case LayerRivers:
		return fc.Rivers
	default:
		return nil
	}
}

// LayerSummary returns a summary of hydrography features per layer
func LayerSummary(fc types.FeatureCollection) string {
	return fmt.Sprintf("Water: %d, Rivers: %d (Total: %d)",
		len(fc.Water), len(fc.Rivers), fc.Count())
}
