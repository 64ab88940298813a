package types

import (
	"fmt"
	"strings"
)

// RegionKind identifies one of the externally supplied distribution overlays.
type RegionKind string

const (
	RegionAOO    RegionKind = "aoo"    // Area of occupancy
	RegionEOO    RegionKind = "eoo"    // Extent of occurrence
	RegionBasins RegionKind = "basins" // Drainage basins
)

// AllRegionKinds lists the overlay kinds in catalog order.
var AllRegionKinds = []RegionKind{RegionAOO, RegionBasins, RegionEOO}

// DefaultFitPriority is the order in which overlays are consulted when
// choosing the region the viewport fits to.
var DefaultFitPriority = []RegionKind{RegionBasins, RegionAOO, RegionEOO}

// ParseRegionKind accepts the short kind names used by the data service
// ("AOO", "eoo", "basins", ...), case-insensitively.
func ParseRegionKind(s string) (RegionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aoo":
		return RegionAOO, nil
	case "eoo":
		return RegionEOO, nil
	case "basins", "basin":
		return RegionBasins, nil
	default:
		return "", fmt.Errorf("unknown region kind %q", s)
	}
}

// ParseFitPriority parses a comma separated priority list like "basins,aoo,eoo".
// Duplicates are ignored; an empty string yields DefaultFitPriority.
func ParseFitPriority(s string) ([]RegionKind, error) {
	if strings.TrimSpace(s) == "" {
		return append([]RegionKind(nil), DefaultFitPriority...), nil
	}

	seen := make(map[RegionKind]bool)
	var out []RegionKind
	for _, part := range strings.Split(s, ",") {
		kind, err := ParseRegionKind(part)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		out = append(out, kind)
	}
	return out, nil
}

// Label returns the display name used in layer controls.
func (k RegionKind) Label() string {
	switch k {
	case RegionAOO:
		return "AOO"
	case RegionEOO:
		return "EOO"
	case RegionBasins:
		return "Basins"
	default:
		return string(k)
	}
}
