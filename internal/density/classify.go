package density

import "github.com/MeKo-Tech/crayfishmap/internal/types"

// Bucket is one step of the density color ramp.
type Bucket struct {
	Severity  int    // 0 for the baseline, increasing with density
	Threshold int    // counts strictly greater than this fall in the bucket
	FillColor string // CSS color
}

// ladder is ordered from the most to the least severe bucket.
var ladder = []Bucket{
	{Severity: 9, Threshold: 300, FillColor: "#7f0000"},
	{Severity: 8, Threshold: 250, FillColor: "#990000"},
	{Severity: 7, Threshold: 200, FillColor: "#b30000"},
	{Severity: 6, Threshold: 150, FillColor: "#cc0000"},
	{Severity: 5, Threshold: 100, FillColor: "#e60000"},
	{Severity: 4, Threshold: 50, FillColor: "#ff3300"},
	{Severity: 3, Threshold: 20, FillColor: "#ff6600"},
	{Severity: 2, Threshold: 10, FillColor: "#ff9933"},
	{Severity: 1, Threshold: 5, FillColor: "#ffcc80"},
}

// Baseline is the bucket for counts of 5 or fewer.
var Baseline = Bucket{Severity: 0, Threshold: -1, FillColor: "#f2fccaff"}

// ClassifyDensity maps a count to its bucket. A count exactly on a threshold
// belongs to the lower bucket. Negative counts fall into the baseline.
func ClassifyDensity(count int) Bucket {
	for _, b := range ladder {
		if count > b.Threshold {
			return b
		}
	}
	return Baseline
}

// Buckets returns all buckets ordered from baseline to most severe.
func Buckets() []Bucket {
	out := make([]Bucket, 0, len(ladder)+1)
	out = append(out, Baseline)
	for i := len(ladder) - 1; i >= 0; i-- {
		out = append(out, ladder[i])
	}
	return out
}

// Style returns the path style for a density hexagon in this bucket.
func (b Bucket) Style() types.PathStyle {
	return types.PathStyle{
		Color:       "white",
		FillColor:   b.FillColor,
		Weight:      1,
		Opacity:     1,
		FillOpacity: 0.7,
	}
}
