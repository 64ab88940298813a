package region

import (
	"log/slog"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/paulmach/orb"
)

// ComputeFitBounds returns the bound of the first region that is present,
// in the order given. Regions are not unioned. It reports false when every
// region is nil or has no vertices.
func ComputeFitBounds(regions []orb.Geometry) (orb.Bound, bool) {
	for _, g := range regions {
		if b, ok := boundOf(g); ok {
			return b, true
		}
	}
	return orb.Bound{}, false
}

func boundOf(g orb.Geometry) (orb.Bound, bool) {
	if g == nil {
		return orb.Bound{}, false
	}
	b := g.Bound()
	if b.IsEmpty() {
		return orb.Bound{}, false
	}
	return b, true
}

// Set holds the normalized overlays of one species. Any of them may be nil.
type Set struct {
	AOO    orb.Geometry
	EOO    orb.Geometry
	Basins orb.Geometry
}

// NormalizeSet normalizes the payload of every kind. Missing kinds are absent.
func NormalizeSet(payloads map[types.RegionKind]Payload, logger *slog.Logger) Set {
	if logger == nil {
		logger = slog.Default()
	}

	var s Set
	for _, kind := range types.AllRegionKinds {
		p, ok := payloads[kind]
		if !ok {
			continue
		}
		s.set(kind, Normalize(p, logger.With("region", string(kind))))
	}
	return s
}

// Get returns the geometry for a kind, or nil.
func (s Set) Get(kind types.RegionKind) orb.Geometry {
	switch kind {
	case types.RegionAOO:
		return s.AOO
	case types.RegionEOO:
		return s.EOO
	case types.RegionBasins:
		return s.Basins
	default:
		return nil
	}
}

func (s *Set) set(kind types.RegionKind, g orb.Geometry) {
	switch kind {
	case types.RegionAOO:
		s.AOO = g
	case types.RegionEOO:
		s.EOO = g
	case types.RegionBasins:
		s.Basins = g
	}
}

// Present lists the kinds that have a geometry, in catalog order.
func (s Set) Present() []types.RegionKind {
	var out []types.RegionKind
	for _, kind := range types.AllRegionKinds {
		if s.Get(kind) != nil {
			out = append(out, kind)
		}
	}
	return out
}

// FitBounds picks the viewport extent using the given priority. An empty
// priority uses types.DefaultFitPriority. The kind that supplied the bound is
// returned alongside it.
func (s Set) FitBounds(priority []types.RegionKind) (orb.Bound, types.RegionKind, bool) {
	if len(priority) == 0 {
		priority = types.DefaultFitPriority
	}
	for _, kind := range priority {
		if b, ok := boundOf(s.Get(kind)); ok {
			return b, kind, true
		}
	}
	return orb.Bound{}, "", false
}
