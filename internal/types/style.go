package types

// PathStyle is the display style handed to the map renderer for a vector layer.
// Field names follow Leaflet's path options so the JSON can be passed through.
type PathStyle struct {
	Color       string  `json:"color"`
	FillColor   string  `json:"fillColor,omitempty"`
	Weight      float64 `json:"weight"`
	Opacity     float64 `json:"opacity"`
	FillOpacity float64 `json:"fillOpacity"`
}

// Properties flattens the style into GeoJSON feature properties.
func (s PathStyle) Properties() map[string]interface{} {
	props := map[string]interface{}{
		"stroke":         s.Color,
		"stroke-width":   s.Weight,
		"stroke-opacity": s.Opacity,
		"fill-opacity":   s.FillOpacity,
	}
	if s.FillColor != "" {
		props["fill"] = s.FillColor
	}
	return props
}
