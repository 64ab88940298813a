package datasource

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/paulmach/orb"
)

// UnmarshalOverpassJSON decodes an Overpass API JSON response into an overpass.Result.
// Used for cached responses and offline fixtures.
func UnmarshalOverpassJSON(data []byte) (*overpass.Result, error) {
	var result overpass.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal overpass json: %w", err)
	}
	return &result, nil
}

// ExtractFeaturesFromOverpassResult converts an Overpass result to hydrography features.
// Ways that belong to a multipolygon relation are only emitted as part of
// the assembled relation.
func ExtractFeaturesFromOverpassResult(result *overpass.Result) types.FeatureCollection {
	var features types.FeatureCollection
	if result == nil {
		return features
	}

	memberWayIDs := make(map[int64]bool)
	for _, rel := range result.Relations {
		if rel.Tags["type"] != "multipolygon" {
			continue
		}
		for _, member := range rel.Members {
			if member.Type == "way" && member.Way != nil {
				memberWayIDs[member.Way.ID] = true
			}
		}
	}

	for _, way := range result.Ways {
		if memberWayIDs[way.ID] {
			continue
		}

		feature := convertWayToFeature(way)
		if feature == nil {
			continue
		}

		switch feature.Type {
		case types.FeatureTypeWater:
			features.Water = append(features.Water, *feature)
		case types.FeatureTypeRiver:
			features.Rivers = append(features.Rivers, *feature)
		}
	}

	for _, rel := range result.Relations {
		var feature *types.Feature
		if rel.Tags["type"] == "multipolygon" {
			feature = convertMultipolygonRelationToFeature(rel)
		} else {
			feature = convertRiverRelationToFeature(rel)
		}
		if feature == nil {
			continue
		}

		switch feature.Type {
		case types.FeatureTypeWater:
			features.Water = append(features.Water, *feature)
		case types.FeatureTypeRiver:
			features.Rivers = append(features.Rivers, *feature)
		}
	}

	return features
}

func wayLine(way *overpass.Way) orb.LineString {
	points := make(orb.LineString, len(way.Geometry))
	for i, point := range way.Geometry {
		points[i] = orb.Point{point.Lon, point.Lat}
	}
	return points
}

func convertWayToFeature(way *overpass.Way) *types.Feature {
	if way == nil || len(way.Geometry) == 0 {
		return nil
	}

	featureType := categorizeByTags(way.Tags)
	if featureType == types.FeatureTypeUnknown {
		return nil
	}

	points := wayLine(way)

	var geometry orb.Geometry
	if featureType == types.FeatureTypeWater && len(points) > 2 && points[0] == points[len(points)-1] {
		geometry = orb.Polygon{orb.Ring(points)}
	} else {
		// Rivers are always lines, even when a canal loops back on itself.
		geometry = points
	}

	return &types.Feature{
		ID:         fmt.Sprintf("way/%d", way.ID),
		Type:       featureType,
		Geometry:   geometry,
		Properties: convertTags(way.Tags),
		Name:       way.Tags["name"],
	}
}

// convertRiverRelationToFeature joins the member ways of a waterway relation
// into a MultiLineString.
func convertRiverRelationToFeature(rel *overpass.Relation) *types.Feature {
	if rel == nil || categorizeByTags(rel.Tags) != types.FeatureTypeRiver {
		return nil
	}

	var lines orb.MultiLineString
	for _, member := range rel.Members {
		if member.Type != "way" || member.Way == nil || len(member.Way.Geometry) < 2 {
			continue
		}
		lines = append(lines, wayLine(member.Way))
	}
	if len(lines) == 0 {
		return nil
	}

	return &types.Feature{
		ID:         fmt.Sprintf("relation/%d", rel.ID),
		Type:       types.FeatureTypeRiver,
		Geometry:   lines,
		Properties: convertTags(rel.Tags),
		Name:       rel.Tags["name"],
	}
}

// convertMultipolygonRelationToFeature assembles a multipolygon relation from its member ways
func convertMultipolygonRelationToFeature(rel *overpass.Relation) *types.Feature {
	if rel == nil || categorizeByTags(rel.Tags) != types.FeatureTypeWater {
		return nil
	}

	var outerRings []orb.Ring
	var innerRings []orb.Ring

	for _, member := range rel.Members {
		if member.Type != "way" {
			continue
		}

		// Members without embedded geometry are skipped; the client does not
		// expose the ref id needed to look them up.
		way := member.Way
		if way == nil || len(way.Geometry) == 0 {
			continue
		}

		points := wayLine(way)
		if points[0] != points[len(points)-1] {
			points = append(points, points[0])
		}
		ring := orb.Ring(points)

		if member.Role == "inner" {
			innerRings = append(innerRings, ring)
		} else {
			outerRings = append(outerRings, ring)
		}
	}

	if len(outerRings) == 0 {
		return nil
	}

	var geometry orb.Geometry
	if len(outerRings) == 1 {
		rings := make([]orb.Ring, 0, 1+len(innerRings))
		rings = append(rings, outerRings[0])
		rings = append(rings, innerRings...)
		geometry = orb.Polygon(rings)
	} else {
		// TODO: assign inner rings to the outer ring that contains them.
		polygons := make(orb.MultiPolygon, len(outerRings))
		for i, outer := range outerRings {
			polygons[i] = orb.Polygon{outer}
		}
		geometry = polygons
	}

	return &types.Feature{
		ID:         fmt.Sprintf("relation/%d", rel.ID),
		Type:       types.FeatureTypeWater,
		Geometry:   geometry,
		Properties: convertTags(rel.Tags),
		Name:       rel.Tags["name"],
	}
}

func categorizeByTags(tags map[string]string) types.FeatureType {
	if isWater(tags) {
		return types.FeatureTypeWater
	}
	if isRiver(tags) {
		return types.FeatureTypeRiver
	}
	return types.FeatureTypeUnknown
}

func isWater(tags map[string]string) bool {
	return tags["natural"] == "water"
}

func isRiver(tags map[string]string) bool {
	switch tags["waterway"] {
	case "river", "canal", "stream":
		return true
	default:
		return false
	}
}

// convertTags converts OSM tags to generic properties map
func convertTags(tags map[string]string) map[string]interface{} {
	props := make(map[string]interface{}, len(tags))
	for k, v := range tags {
		props[k] = v
	}
	return props
}
