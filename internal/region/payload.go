// Package region normalizes the optional distribution overlays (AOO, EOO,
// drainage basins) into orb geometries and picks the extent a map fits to.
package region

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// PayloadKind tags the shape of a region payload as delivered by the data service.
type PayloadKind int

const (
	PayloadAbsent PayloadKind = iota
	PayloadStructured
	PayloadText
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadAbsent:
		return "absent"
	case PayloadStructured:
		return "structured"
	case PayloadText:
		return "text"
	default:
		return fmt.Sprintf("PayloadKind(%d)", int(k))
	}
}

// Payload is one of: absent, an already decoded geometry, or serialized text
// (GeoJSON, KML or WKT) that still has to be parsed.
type Payload struct {
	kind     PayloadKind
	geometry orb.Geometry
	text     string
}

// Absent returns the payload for a region the service does not have.
func Absent() Payload {
	return Payload{kind: PayloadAbsent}
}

// Structured wraps an already decoded geometry. A nil geometry is absent.
func Structured(g orb.Geometry) Payload {
	if g == nil {
		return Absent()
	}
	return Payload{kind: PayloadStructured, geometry: g}
}

// Text wraps serialized geometry data.
func Text(s string) Payload {
	return Payload{kind: PayloadText, text: s}
}

// Kind returns the payload tag.
func (p Payload) Kind() PayloadKind { return p.kind }

// IsAbsent reports whether there is nothing to render.
func (p Payload) IsAbsent() bool { return p.kind == PayloadAbsent }

// Geometry returns the structured geometry, or nil for other kinds.
func (p Payload) Geometry() orb.Geometry { return p.geometry }

// Raw returns the serialized text, or "" for other kinds.
func (p Payload) Raw() string { return p.text }

// PayloadFromJSON resolves a JSON value from the species data service:
// null or missing is absent, a JSON string is text, and an object is decoded
// as GeoJSON. Objects that are not GeoJSON are kept as text so Normalize can
// log the failure in the same place as every other parse error.
func PayloadFromJSON(raw json.RawMessage) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Absent()
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Text(string(trimmed))
		}
		return Text(s)
	}

	if g, err := decodeGeoJSON(trimmed); err == nil && g != nil {
		return Structured(g)
	}
	return Text(string(trimmed))
}

// decodeGeoJSON accepts a FeatureCollection, a single Feature or a bare
// geometry object and flattens it into one geometry.
func decodeGeoJSON(data []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case "":
		return nil, fmt.Errorf("geojson: missing type")
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		geoms := make([]orb.Geometry, 0, len(fc.Features))
		for _, f := range fc.Features {
			if f != nil && f.Geometry != nil {
				geoms = append(geoms, f.Geometry)
			}
		}
		return combine(geoms), nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return f.Geometry, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return g.Geometry(), nil
	}
}

// combine merges several geometries into one. Polygons collapse into a
// MultiPolygon; anything mixed becomes a Collection.
func combine(geoms []orb.Geometry) orb.Geometry {
	switch len(geoms) {
	case 0:
		return nil
	case 1:
		return geoms[0]
	}

	var mp orb.MultiPolygon
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		default:
			return orb.Collection(geoms)
		}
	}
	return mp
}

// Fingerprint derives a cache key from the payloads of every region kind.
// Absent and missing kinds hash alike; text and structured payloads hash
// their content, so any change to an overlay changes the key.
func Fingerprint(payloads map[types.RegionKind]Payload) string {
	h := fnv.New64a()
	for _, kind := range types.AllRegionKinds {
		p := payloads[kind]
		fmt.Fprintf(h, "%s:%d:", kind, p.kind)
		switch p.kind {
		case PayloadText:
			h.Write([]byte(p.text))
		case PayloadStructured:
			h.Write([]byte(wkt.MarshalString(p.geometry)))
		}
		h.Write([]byte{0})
	}
	return fmt.Sprintf("o%016x", h.Sum64())
}
