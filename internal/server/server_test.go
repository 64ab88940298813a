package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/crayfishmap/internal/datasource"
	"github.com/MeKo-Tech/crayfishmap/internal/region"
	"github.com/MeKo-Tech/crayfishmap/internal/store"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	points map[string][]types.GeoPoint
	err    error
	calls  atomic.Int32
}

func (f *fakeStore) Locations(ctx context.Context, species string) ([]types.GeoPoint, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.points[types.NormalizeSpeciesName(species)], nil
}

func (f *fakeStore) SpeciesNames(ctx context.Context) ([]store.SpeciesCount, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []store.SpeciesCount
	for key, pts := range f.points {
		out = append(out, store.SpeciesCount{Name: strings.ReplaceAll(key, "_", " "), Key: key, Records: len(pts)})
	}
	return out, nil
}

type failingRegions struct{}

func (failingRegions) Regions(ctx context.Context, species string) (map[types.RegionKind]region.Payload, error) {
	return nil, errors.New("catalog unavailable")
}

type stubFetcher struct {
	calls atomic.Int32
}

func (f *stubFetcher) FetchHydrography(ctx context.Context, bounds types.BoundingBox) (*types.HydrographyData, error) {
	f.calls.Add(1)
	return &types.HydrographyData{
		Bounds: bounds,
		Features: types.FeatureCollection{
			Rivers: []types.Feature{{ID: "way/7", Type: types.FeatureTypeRiver, Name: "Mureș", Geometry: orb.LineString{{21, 46}, {24, 46.5}}}},
		},
	}, nil
}

const basinsGeoJSON = `{"type":"Polygon","coordinates":[[[21,45.5],[25,45.5],[25,47.5],[21,45.5]]]}`

func testPoints() []types.GeoPoint {
	pts := make([]types.GeoPoint, 0, 13)
	for i := 0; i < 12; i++ {
		pts = append(pts, types.GeoPoint{Lat: 46.5, Lng: 23.6})
	}
	return append(pts, types.GeoPoint{Lat: 46.0, Lng: 22.0})
}

func newTestServer(t *testing.T) (*Server, *fakeStore, string) {
	t.Helper()

	base := t.TempDir()
	maps := filepath.Join(base, "Astacus_astacus", "maps")
	require.NoError(t, os.MkdirAll(maps, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(maps, "Astacus_astacus_basins.geojson"), []byte(basinsGeoJSON), 0o644))

	st := &fakeStore{points: map[string][]types.GeoPoint{"Astacus_astacus": testPoints()}}
	srv := New(st, datasource.NewCatalog(base, nil), NewMemoryCache(16), DefaultConfig(), nil)
	return srv, st, base
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthzAndCORS(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	opt := httptest.NewRecorder()
	h.ServeHTTP(opt, httptest.NewRequest(http.MethodOptions, "/api/species", nil))
	assert.Equal(t, http.StatusNoContent, opt.Code)
}

func TestSpeciesAndLocations(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := get(t, h, "/api/species")
	require.Equal(t, http.StatusOK, rec.Code)
	var species []store.SpeciesCount
	decode(t, rec, &species)
	require.Len(t, species, 1)
	assert.Equal(t, "Astacus_astacus", species[0].Key)
	assert.Equal(t, 13, species[0].Records)

	rec = get(t, h, "/api/species/Astacus%20astacus/locations")
	require.Equal(t, http.StatusOK, rec.Code)
	var points []types.GeoPoint
	decode(t, rec, &points)
	assert.Len(t, points, 13)

	rec = get(t, h, "/api/species/Unknown_species/locations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestMapDocument(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := get(t, h, "/api/species/Astacus_astacus/map")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc struct {
		Points    int            `json:"points"`
		FitBounds [4]float64     `json:"fitBounds"`
		FitRegion string         `json:"fitRegion"`
		Overlays  map[string]any `json:"overlays"`
		Legend    []any          `json:"legend"`
	}
	decode(t, rec, &doc)
	assert.Equal(t, 13, doc.Points)
	assert.Equal(t, [4]float64{21, 45.5, 25, 47.5}, doc.FitBounds)
	assert.Equal(t, "basins", doc.FitRegion)
	assert.Contains(t, doc.Overlays, "basins")
	assert.Len(t, doc.Legend, 10)
}

func TestDensityEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := get(t, srv.Handler(), "/api/species/Astacus_astacus/density")
	require.Equal(t, http.StatusOK, rec.Code)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	decode(t, rec, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)

	total := 0.0
	for _, f := range fc.Features {
		total += f.Properties["density"].(float64)
	}
	assert.Equal(t, 13.0, total)
}

func TestRegionsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := get(t, srv.Handler(), "/api/species/Astacus_astacus/regions")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Overlays  map[string]json.RawMessage `json:"overlays"`
		FitBounds *[4]float64                `json:"fitBounds"`
		FitRegion string                     `json:"fitRegion"`
		Styles    map[string]types.PathStyle `json:"styles"`
	}
	decode(t, rec, &resp)
	require.Contains(t, resp.Overlays, "basins")
	assert.NotContains(t, resp.Overlays, "aoo")
	require.NotNil(t, resp.FitBounds)
	assert.Equal(t, "basins", resp.FitRegion)
	assert.Equal(t, "#1E90FF", resp.Styles["basins"].Color)
}

func TestMapIsCachedAndInvalidated(t *testing.T) {
	srv, st, base := newTestServer(t)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/api/species/Astacus_astacus/map").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/api/species/Astacus_astacus/density").Code)

	status := srv.Status()
	assert.EqualValues(t, 1, status.Builds)
	assert.EqualValues(t, 1, status.CacheHits)
	assert.EqualValues(t, 1, status.CacheMisses)
	assert.EqualValues(t, 2, st.calls.Load())

	// Replace the overlay and signal the change.
	aoo := `{"type":"Polygon","coordinates":[[[23,46],[24,46],[24,47],[23,46]]]}`
	require.NoError(t, os.WriteFile(filepath.Join(base, "Astacus_astacus", "maps", "Astacus_astacus_AOO.geojson"), []byte(aoo), 0o644))
	require.NoError(t, os.Remove(filepath.Join(base, "Astacus_astacus", "maps", "Astacus_astacus_basins.geojson")))
	srv.Invalidate("Astacus astacus")

	rec := get(t, h, "/api/species/Astacus_astacus/regions")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		FitRegion string `json:"fitRegion"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "aoo", resp.FitRegion)
	assert.EqualValues(t, 2, srv.Status().Builds)
	assert.EqualValues(t, 1, srv.Status().Invalidations)
}

// swappingRegions serves one basins payload that can change between reads.
// onRead runs once, after the payload of that read was taken.
type swappingRegions struct {
	mu      sync.Mutex
	current region.Payload
	onRead  func()
}

func (r *swappingRegions) set(p region.Payload) {
	r.mu.Lock()
	r.current = p
	r.mu.Unlock()
}

func (r *swappingRegions) Regions(ctx context.Context, species string) (map[types.RegionKind]region.Payload, error) {
	r.mu.Lock()
	p, hook := r.current, r.onRead
	r.onRead = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return map[types.RegionKind]region.Payload{types.RegionBasins: p}, nil
}

func overlayKinds(t *testing.T, data []byte) map[string]json.RawMessage {
	t.Helper()
	var doc struct {
		Overlays map[string]json.RawMessage `json:"overlays"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.Overlays
}

func TestMapCacheFollowsOverlayContent(t *testing.T) {
	base := t.TempDir()
	maps := filepath.Join(base, "Astacus_astacus", "maps")
	require.NoError(t, os.MkdirAll(maps, 0o755))

	st := &fakeStore{points: map[string][]types.GeoPoint{"Astacus_astacus": testPoints()}}
	cache := NewMemoryCache(16)
	cfg := DefaultConfig()
	cfg.CacheTTL = 0

	first := New(st, datasource.NewCatalog(base, nil), cache, cfg, nil)
	data, err := first.MapDocument(context.Background(), "Astacus astacus")
	require.NoError(t, err)
	assert.NotContains(t, overlayKinds(t, data), "basins")

	// The file appears without a watcher event, then the process restarts
	// against the same cache.
	require.NoError(t, os.WriteFile(filepath.Join(maps, "Astacus_astacus_basins.geojson"), []byte(basinsGeoJSON), 0o644))

	data, err = first.MapDocument(context.Background(), "Astacus astacus")
	require.NoError(t, err)
	assert.Contains(t, overlayKinds(t, data), "basins")

	restarted := New(st, datasource.NewCatalog(base, nil), cache, cfg, nil)
	data, err = restarted.MapDocument(context.Background(), "Astacus astacus")
	require.NoError(t, err)
	assert.Contains(t, overlayKinds(t, data), "basins")
	assert.EqualValues(t, 0, restarted.Status().Builds, "same content is served from the shared cache")
}

func TestMapInvalidatedDuringFetch(t *testing.T) {
	st := &fakeStore{points: map[string][]types.GeoPoint{"Astacus_astacus": testPoints()}}
	src := &swappingRegions{current: region.Absent()}
	srv := New(st, src, NewMemoryCache(16), DefaultConfig(), nil)

	src.onRead = func() {
		src.set(region.Text(basinsGeoJSON))
		srv.Invalidate("Astacus astacus")
	}

	data, err := srv.MapDocument(context.Background(), "Astacus astacus")
	require.NoError(t, err)
	assert.NotContains(t, overlayKinds(t, data), "basins")

	data, err = srv.MapDocument(context.Background(), "Astacus astacus")
	require.NoError(t, err)
	assert.Contains(t, overlayKinds(t, data), "basins")
	assert.EqualValues(t, 2, srv.Status().Builds)
}

func TestDegradedMapIsNotCached(t *testing.T) {
	st := &fakeStore{points: map[string][]types.GeoPoint{"Astacus_astacus": testPoints()}}
	srv := New(st, failingRegions{}, NewMemoryCache(16), DefaultConfig(), nil)

	for i := 0; i < 2; i++ {
		_, err := srv.MapDocument(context.Background(), "Astacus astacus")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, srv.Status().Builds)
	assert.EqualValues(t, 0, srv.Status().CacheHits)
}

func TestGeolocations(t *testing.T) {
	srv, _, base := newTestServer(t)
	h := srv.Handler()
	wkt := "POLYGON((23 46, 24 46, 24 47, 23 46))"
	require.NoError(t, os.WriteFile(filepath.Join(base, "Astacus_astacus", "maps", "Astacus_astacus_EOO.wkt"), []byte(wkt), 0o644))

	rec := get(t, h, "/api/species/Astacus%20astacus/geolocations")
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string]json.RawMessage
	decode(t, rec, &all)
	assert.JSONEq(t, basinsGeoJSON, string(all["basins"]))
	assert.JSONEq(t, "null", string(all["AOO"]))
	var eoo string
	require.NoError(t, json.Unmarshal(all["EOO"], &eoo))
	assert.Equal(t, wkt, eoo)

	rec = get(t, h, "/api/species/Astacus_astacus/geolocations/basins")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=Astacus_astacus_basins.geojson`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, basinsGeoJSON, rec.Body.String())

	rec = get(t, h, "/api/species/Astacus_astacus/geolocations/EOO?mode=inline")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, wkt, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/species/Astacus_astacus/geolocations/aoo").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/species/Astacus_astacus/geolocations/lakes").Code)

	rec = get(t, h, "/api/species/Procambarus_clarkii/geolocations")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Contains(t, body["error"], "not found")
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/species/Procambarus_clarkii/geolocations/eoo").Code)

	bare := New(&fakeStore{}, nil, nil, DefaultConfig(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, bare.Handler(), "/api/species/Astacus_astacus/geolocations").Code)
}

func TestMapWithoutOverlays(t *testing.T) {
	st := &fakeStore{points: map[string][]types.GeoPoint{"Faxonius_limosus": testPoints()}}
	srv := New(st, nil, nil, DefaultConfig(), nil)

	rec := get(t, srv.Handler(), "/api/species/Faxonius_limosus/map")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	decode(t, rec, &doc)
	assert.Nil(t, doc["fitBounds"])
}

func TestMapSourcesUnavailable(t *testing.T) {
	st := &fakeStore{err: errors.New("database is locked")}
	srv := New(st, failingRegions{}, nil, DefaultConfig(), nil)
	h := srv.Handler()

	rec := get(t, h, "/api/species/Astacus_astacus/map")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, h, "/api/species")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "failed to list species", body["error"])
}

func TestHydrography(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := get(t, srv.Handler(), "/api/species/Astacus_astacus/hydrography")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fetcher := &stubFetcher{}
	fq := datasource.NewFetchQueue(fetcher, datasource.FetchQueueConfig{})
	fq.Start()
	defer fq.Stop()
	srv.WithHydrography(fq)
	h := srv.Handler()

	for i := 0; i < 2; i++ {
		rec = get(t, h, "/api/species/Astacus_astacus/hydrography")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "Mureș")
	}
	assert.EqualValues(t, 1, fetcher.calls.Load())

	status := srv.Status()
	require.NotNil(t, status.Fetch)
	assert.EqualValues(t, 1, status.Fetch.TotalCompleted)

	rec = get(t, h, "/api/species/Astacus_astacus/hydrography?layer=water")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Mureș")

	rec = get(t, h, "/api/species/Astacus_astacus/hydrography?layer=roads")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Without overlays there is no extent to fetch.
	rec = get(t, h, "/api/species/Faxonius_limosus/hydrography")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	get(t, h, "/api/species/Astacus_astacus/map")

	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status Status
	decode(t, rec, &status)
	assert.EqualValues(t, 2, status.Requests)
	assert.Nil(t, status.Fetch)

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "crayfishmap_http_requests_total")
	assert.Contains(t, string(body), `route="GET /api/species/{name}/map"`)
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv.Handler(), "/tiles/z1_x0_y0.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
