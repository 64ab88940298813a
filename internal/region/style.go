package region

import "github.com/MeKo-Tech/crayfishmap/internal/types"

var styles = map[types.RegionKind]types.PathStyle{
	types.RegionAOO: {
		Color:       "#FFFF00",
		FillColor:   "#FFFF00",
		Weight:      2,
		Opacity:     1,
		FillOpacity: 0.2,
	},
	types.RegionEOO: {
		Color:       "#FF8C00",
		FillColor:   "#FF8C00",
		Weight:      2,
		Opacity:     1,
		FillOpacity: 0.1,
	},
	types.RegionBasins: {
		Color:       "#1E90FF",
		FillColor:   "#1E90FF",
		Weight:      2,
		Opacity:     1,
		FillOpacity: 0.15,
	},
}

// StyleFor returns the fixed display style of an overlay kind.
func StyleFor(kind types.RegionKind) types.PathStyle {
	if s, ok := styles[kind]; ok {
		return s
	}
	return types.PathStyle{Color: "#3388ff", Weight: 2, Opacity: 1, FillOpacity: 0.2}
}
