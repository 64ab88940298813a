package region

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type kmlPolygon struct {
	Outer string   `xml:"outerBoundaryIs>LinearRing>coordinates"`
	Inner []string `xml:"innerBoundaryIs>LinearRing>coordinates"`
}

type kmlGeometries struct {
	Points      []string        `xml:"Point>coordinates"`
	LineStrings []string        `xml:"LineString>coordinates"`
	Polygons    []kmlPolygon    `xml:"Polygon"`
	Multi       []kmlGeometries `xml:"MultiGeometry"`
}

type kmlPlacemark struct {
	Name string `xml:"name"`
	kmlGeometries
}

// kmlContainer matches <kml>, <Document> and <Folder>, which may nest freely.
type kmlContainer struct {
	Placemarks []kmlPlacemark `xml:"Placemark"`
	Documents  []kmlContainer `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
}

// ParseKML converts KML markup into a geometry. All placemarks are merged:
// polygons become a Polygon or MultiPolygon, anything else a Collection.
// KML coordinates are "lon,lat[,alt]"; altitude is ignored.
func ParseKML(data []byte) (orb.Geometry, error) {
	var doc kmlContainer
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("kml: %w", err)
	}

	var geoms []orb.Geometry
	collectContainer(doc, &geoms)
	if len(geoms) == 0 {
		return nil, errors.New("kml: no geometry found")
	}
	return combine(geoms), nil
}

func collectContainer(c kmlContainer, out *[]orb.Geometry) {
	for _, pm := range c.Placemarks {
		collectGeometries(pm.kmlGeometries, out)
	}
	for _, d := range c.Documents {
		collectContainer(d, out)
	}
	for _, f := range c.Folders {
		collectContainer(f, out)
	}
}

func collectGeometries(g kmlGeometries, out *[]orb.Geometry) {
	for _, s := range g.Points {
		if pts := parseKMLCoordinates(s); len(pts) > 0 {
			*out = append(*out, pts[0])
		}
	}
	for _, s := range g.LineStrings {
		if pts := parseKMLCoordinates(s); len(pts) >= 2 {
			*out = append(*out, orb.LineString(pts))
		}
	}
	for _, p := range g.Polygons {
		outer := closeRing(parseKMLCoordinates(p.Outer))
		if len(outer) < 4 {
			continue
		}
		poly := orb.Polygon{outer}
		for _, s := range p.Inner {
			if hole := closeRing(parseKMLCoordinates(s)); len(hole) >= 4 {
				poly = append(poly, hole)
			}
		}
		*out = append(*out, poly)
	}
	for _, m := range g.Multi {
		collectGeometries(m, out)
	}
}

// parseKMLCoordinates reads whitespace separated "lon,lat[,alt]" tuples.
// Malformed and non-finite tuples are skipped.
func parseKMLCoordinates(s string) []orb.Point {
	var pts []orb.Point
	for _, tuple := range strings.Fields(s) {
		vals := strings.Split(tuple, ",")
		if len(vals) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64)
		lat, err2 := strconv.ParseFloat(strings.TrimSpace(vals[1]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if p := (orb.Point{lon, lat}); finitePoint(p) {
			pts = append(pts, p)
		}
	}
	return pts
}

func closeRing(pts []orb.Point) orb.Ring {
	if len(pts) == 0 {
		return nil
	}
	ring := orb.Ring(pts)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}
