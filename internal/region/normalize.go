package region

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Normalize resolves a payload into a single geometry.
//
// Absent payloads and blank text yield nil. Structured payloads are returned
// unchanged. Text is tried as GeoJSON, then KML, then WKT; if none of them
// parse, the failure is logged and nil is returned. Geometries with NaN or
// infinite coordinates are dropped the same way. Normalize never panics on
// bad input and never returns an error.
func Normalize(p Payload, logger *slog.Logger) orb.Geometry {
	var g orb.Geometry
	switch p.kind {
	case PayloadStructured:
		g = p.geometry
	case PayloadText:
		g = parseText(p.text, logger)
	}
	if g == nil {
		return nil
	}

	if !finiteGeometry(g) {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("Region data has non-finite coordinates", "type", g.GeoJSONType())
		return nil
	}
	return g
}

func finitePoint(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) && !math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}

func finitePoints(pts []orb.Point) bool {
	for _, p := range pts {
		if !finitePoint(p) {
			return false
		}
	}
	return true
}

// finiteGeometry reports whether every vertex of g is a finite number.
func finiteGeometry(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Point:
		return finitePoint(v)
	case orb.MultiPoint:
		return finitePoints(v)
	case orb.LineString:
		return finitePoints(v)
	case orb.Ring:
		return finitePoints(v)
	case orb.MultiLineString:
		for _, ls := range v {
			if !finitePoints(ls) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range v {
			if !finitePoints(r) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, poly := range v {
			if !finiteGeometry(poly) {
				return false
			}
		}
	case orb.Collection:
		for _, c := range v {
			if !finiteGeometry(c) {
				return false
			}
		}
	case orb.Bound:
		return finitePoint(v.Min) && finitePoint(v.Max)
	}
	return true
}

func parseText(s string, logger *slog.Logger) orb.Geometry {
	if logger == nil {
		logger = slog.Default()
	}

	text := strings.TrimSpace(s)
	if text == "" {
		return nil
	}

	g, geoErr := decodeGeoJSON([]byte(text))
	if geoErr == nil {
		if g == nil {
			logger.Debug("Region GeoJSON contains no geometry")
		}
		return g
	}

	g, kmlErr := ParseKML([]byte(text))
	if kmlErr == nil {
		return g
	}

	g, wktErr := parseWKT(text)
	if wktErr == nil {
		return g
	}

	logger.Warn("Failed to parse region data",
		"geojson_error", geoErr,
		"kml_error", kmlErr,
		"wkt_error", wktErr,
		"length", len(text),
		"prefix", truncate(text, 32))
	return nil
}

func parseWKT(s string) (g orb.Geometry, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("wkt: %v", r)
		}
	}()
	return wkt.Unmarshal(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
