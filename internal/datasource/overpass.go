package datasource

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
)

const (
	// DefaultOverpassEndpoint is the public Overpass API instance.
	DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

	// HydrographyMargin is the fraction a species extent is grown by before
	// fetching rivers and lakes around it.
	HydrographyMargin = 0.1

	// DefaultMaxArea is the largest extent (in square degrees) we ask
	// Overpass for. Species ranges can span continents; such requests
	// would only time out.
	DefaultMaxArea = 36.0
)

// OverpassDataSource fetches freshwater context (rivers, lakes) from Overpass API
type OverpassDataSource struct {
	client           overpass.Client
	storeRawResponse bool
	maxArea          float64
}

// NewOverpassDataSource creates a new Overpass data source
func NewOverpassDataSource(endpoint string) *OverpassDataSource {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}

	// Create client (rate limited to 1 concurrent request)
	client := overpass.NewWithSettings(
		endpoint,
		1, // Only 1 parallel request (API etiquette)
		http.DefaultClient,
	)

	return &OverpassDataSource{
		client:  client,
		maxArea: DefaultMaxArea,
	}
}

// WithRawResponseStorage enables keeping the raw Overpass result on
// HydrographyData for debugging.
func (ds *OverpassDataSource) WithRawResponseStorage(enabled bool) *OverpassDataSource {
	ds.storeRawResponse = enabled
	return ds
}

// WithMaxArea sets the largest extent in square degrees that will be queried.
func (ds *OverpassDataSource) WithMaxArea(area float64) *OverpassDataSource {
	if area > 0 {
		ds.maxArea = area
	}
	return ds
}

// FetchHydrography fetches rivers, canals and lakes inside bounds.
func (ds *OverpassDataSource) FetchHydrography(ctx context.Context, bounds types.BoundingBox) (*types.HydrographyData, error) {
	if area := bounds.Width() * bounds.Height(); area > ds.maxArea {
		return nil, fmt.Errorf("extent of %.1f square degrees exceeds limit of %.1f", area, ds.maxArea)
	}

	query := buildHydrographyQuery(bounds)

	// The client has no context support; run the query in the background and
	// stop waiting when ctx is done.
	type queryResult struct {
		result overpass.Result
		err    error
	}
	done := make(chan queryResult, 1)
	go func() {
		result, err := ds.client.Query(query)
		done <- queryResult{result: result, err: err}
	}()

	var res queryResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", res.err)
	}

	data := &types.HydrographyData{
		Bounds:    bounds,
		Features:  ExtractFeaturesFromOverpassResult(&res.result),
		FetchedAt: time.Now(),
		Source:    "overpass-api",
	}
	if ds.storeRawResponse {
		data.OverpassResult = &res.result
	}

	return data, nil
}

// buildHydrographyQuery creates the Overpass QL query for freshwater features.
// Per-element bbox filters (south,west,north,east) return the complete
// geometry of ways that intersect the box instead of clipping them.
func buildHydrographyQuery(bounds types.BoundingBox) string {
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bounds.MinLat, bounds.MinLon, bounds.MaxLat, bounds.MaxLon)
	return fmt.Sprintf(`
[out:json][timeout:90];
(
  way["waterway"~"^(river|canal)$"](%s);
  way["natural"="water"]["water"~"^(lake|reservoir|river|oxbow)$"](%s);
  relation["natural"="water"]["type"="multipolygon"](%s);
  relation["waterway"="river"](%s);
);
out geom;
`, bbox, bbox, bbox, bbox)
}

// Close cleans up resources (no-op for current version)
func (ds *OverpassDataSource) Close() error {
	return nil
}
