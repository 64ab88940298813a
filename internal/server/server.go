// Package server exposes species maps over HTTP for the browser map.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/crayfishmap/internal/atlas"
	"github.com/MeKo-Tech/crayfishmap/internal/datasource"
	"github.com/MeKo-Tech/crayfishmap/internal/density"
	"github.com/MeKo-Tech/crayfishmap/internal/geojson"
	"github.com/MeKo-Tech/crayfishmap/internal/region"
	"github.com/MeKo-Tech/crayfishmap/internal/store"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"golang.org/x/sync/singleflight"
)

// SpeciesStore is the records store as seen by the server.
type SpeciesStore interface {
	atlas.PointSource
	SpeciesNames(ctx context.Context) ([]store.SpeciesCount, error)
}

// Config configures the HTTP API.
type Config struct {
	Atlas          atlas.Config
	CacheTTL       time.Duration
	CacheControl   string
	RequestTimeout time.Duration
}

// DefaultConfig returns the defaults used by the serve command.
func DefaultConfig() Config {
	return Config{
		Atlas:          atlas.DefaultConfig(),
		CacheTTL:       time.Hour,
		CacheControl:   "no-cache",
		RequestTimeout: 2 * time.Minute,
	}
}

// Server answers map requests. Assembled map documents are cached by the
// content fingerprints of the species' points and overlays plus a
// per-species generation that is bumped when its overlay files change.
type Server struct {
	store      SpeciesStore
	files      RegionFiles
	builder    *atlas.Builder
	cache      Cache
	fetchQueue *datasource.FetchQueue
	group      singleflight.Group
	cfg        Config
	logger     *slog.Logger
	started    time.Time

	genMu       sync.Mutex
	generations map[string]int64

	requests    atomic.Int64
	builds      atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	invalidated atomic.Int64
}

// Status is the JSON body of /api/status.
type Status struct {
	Uptime        string                       `json:"uptime"`
	Requests      int64                        `json:"requests"`
	Builds        int64                        `json:"builds"`
	CacheHits     int64                        `json:"cache_hits"`
	CacheMisses   int64                        `json:"cache_misses"`
	Invalidations int64                        `json:"invalidations"`
	Fetch         *datasource.FetchQueueStatus `json:"fetch,omitempty"`
}

// New creates a server. regions may be nil when no catalog is configured;
// when it also implements RegionFiles the geolocation routes serve its files.
// cache may be nil for a default in-memory cache.
func New(st SpeciesStore, regions atlas.RegionSource, cache Cache, cfg Config, logger *slog.Logger) *Server {
	if cache == nil {
		cache = NewMemoryCache(DefaultMemoryCacheEntries)
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-cache"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}

	var points atlas.PointSource
	if st != nil {
		points = st
	}

	var files RegionFiles
	if rf, ok := regions.(RegionFiles); ok {
		files = rf
	}

	return &Server{
		store:       st,
		files:       files,
		builder:     atlas.NewBuilder(points, regions, cfg.Atlas, logger),
		cache:       cache,
		cfg:         cfg,
		logger:      logger,
		started:     time.Now(),
		generations: make(map[string]int64),
	}
}

// WithHydrography enables the hydrography endpoint backed by fq.
func (s *Server) WithHydrography(fq *datasource.FetchQueue) *Server {
	s.fetchQueue = fq
	return s
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/species", s.handleSpecies)
	mux.HandleFunc("GET /api/species/{name}/locations", s.handleLocations)
	mux.HandleFunc("GET /api/species/{name}/density", s.handleDensity)
	mux.HandleFunc("GET /api/species/{name}/regions", s.handleRegions)
	mux.HandleFunc("GET /api/species/{name}/map", s.handleMap)
	mux.HandleFunc("GET /api/species/{name}/hydrography", s.handleHydrography)
	mux.HandleFunc("GET /api/species/{name}/geolocations", s.handleGeolocations)
	mux.HandleFunc("GET /api/species/{name}/geolocations/{kind}", s.handleGeolocationFile)
	mux.Handle("GET /metrics", metricsHandler())

	return withMetrics(withCORS(s.countRequests(mux)))
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Invalidate drops cached maps of a species. It is the catalog watcher
// callback.
func (s *Server) Invalidate(species string) {
	key := types.NormalizeSpeciesName(species)

	s.genMu.Lock()
	s.generations[key]++
	s.genMu.Unlock()

	s.invalidated.Add(1)
	invalidations.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.DeletePrefix(ctx, "map:"+key+":"); err != nil {
		s.log().Warn("Failed to evict cached maps", "species", key, "error", err)
	}
	s.log().Info("Invalidated cached maps", "species", key)
}

func (s *Server) generation(key string) int64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[key]
}

// Status returns the current counters.
func (s *Server) Status() Status {
	st := Status{
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Requests:      s.requests.Load(),
		Builds:        s.builds.Load(),
		CacheHits:     s.hits.Load(),
		CacheMisses:   s.misses.Load(),
		Invalidations: s.invalidated.Load(),
	}
	if s.fetchQueue != nil {
		fs := s.fetchQueue.Status()
		st.Fetch = &fs
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleSpecies(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.SpeciesCount{})
		return
	}

	names, err := s.store.SpeciesNames(r.Context())
	if err != nil {
		s.log().Error("Failed to list species", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list species")
		return
	}
	if names == nil {
		names = []store.SpeciesCount{}
	}
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	species := r.PathValue("name")
	if s.store == nil {
		writeJSON(w, http.StatusOK, []types.GeoPoint{})
		return
	}

	points, err := s.store.Locations(r.Context(), species)
	if err != nil {
		s.log().Error("Failed to load locations", "species", species, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}
	if points == nil {
		points = []types.GeoPoint{}
	}
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	data, ok := s.serveMap(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	_, _ = w.Write(data)
}

func (s *Server) handleDensity(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.serveDocument(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	writeJSON(w, http.StatusOK, doc.Density)
}

// regionsResponse is the body of the regions endpoint.
type regionsResponse struct {
	Overlays  map[types.RegionKind]json.RawMessage `json:"overlays"`
	FitBounds *[4]float64                          `json:"fitBounds"`
	FitRegion types.RegionKind                     `json:"fitRegion,omitempty"`
	Styles    map[types.RegionKind]types.PathStyle `json:"styles"`
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.serveDocument(w, r)
	if !ok {
		return
	}

	resp := regionsResponse{
		Overlays:  make(map[types.RegionKind]json.RawMessage, len(doc.Overlays)),
		FitBounds: doc.FitBounds,
		FitRegion: doc.FitRegion,
		Styles:    make(map[types.RegionKind]types.PathStyle, len(doc.Overlays)),
	}
	for kind, f := range doc.Overlays {
		data, err := f.MarshalJSON()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode overlay")
			return
		}
		resp.Overlays[kind] = data
		resp.Styles[kind] = region.StyleFor(kind)
	}

	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHydrography(w http.ResponseWriter, r *http.Request) {
	if s.fetchQueue == nil {
		writeError(w, http.StatusServiceUnavailable, "hydrography layer is disabled")
		return
	}

	layer := geojson.LayerType(r.URL.Query().Get("layer"))
	if layer != "" && layer != geojson.LayerWater && layer != geojson.LayerRivers {
		writeError(w, http.StatusBadRequest, "layer must be water or rivers")
		return
	}

	doc, ok := s.serveDocument(w, r)
	if !ok {
		return
	}
	if doc.FitBounds == nil {
		writeError(w, http.StatusNotFound, "species has no extent")
		return
	}

	fb := doc.FitBounds
	bounds := types.BoundingBox{MinLon: fb[0], MinLat: fb[1], MaxLon: fb[2], MaxLat: fb[3]}.
		ExpandByFraction(datasource.HydrographyMargin)
	key := "hydro:" + string(layer) + ":" + bounds.String()

	ctx := r.Context()
	if data, hit, err := s.cache.Get(ctx, key); err == nil && hit {
		s.recordCache("hydrography", true)
		writeRaw(w, s.cfg.CacheControl, data)
		return
	}
	s.recordCache("hydrography", false)

	v, err, _ := s.group.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
		defer cancel()

		result, err := s.fetchQueue.SubmitAndWait(fetchCtx, doc.Species, bounds)
		if err != nil {
			return nil, err
		}
		if result.Error != nil {
			return nil, result.Error
		}
		s.log().Debug("Fetched hydrography", "species", doc.Species, "layers", geojson.LayerSummary(result.Data.Features))

		features := result.Data.Features.All()
		if layer != "" {
			features = geojson.GetLayerFeatures(result.Data.Features, layer)
		}
		data, err := geojson.ToGeoJSONBytes(features)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(fetchCtx, key, data, s.cfg.CacheTTL); err != nil {
			s.log().Warn("Failed to cache hydrography", "error", err)
		}
		return data, nil
	})
	if err != nil {
		s.log().Error("Hydrography fetch failed", "species", doc.Species, "error", err)
		writeError(w, http.StatusBadGateway, "hydrography fetch failed")
		return
	}
	writeRaw(w, s.cfg.CacheControl, v.([]byte))
}

// serveDocument returns the decoded map document or writes an error.
func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request) (*geojson.MapDocument, bool) {
	data, ok := s.serveMap(w, r)
	if !ok {
		return nil, false
	}
	var doc geojson.MapDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log().Error("Failed to decode cached map", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to decode map")
		return nil, false
	}
	return &doc, true
}

func (s *Server) serveMap(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	species := r.PathValue("name")
	data, err := s.MapDocument(r.Context(), species)
	if errors.Is(err, atlas.ErrNoData) {
		writeError(w, http.StatusServiceUnavailable, "species data unavailable")
		return nil, false
	}
	if err != nil {
		s.log().Error("Failed to build map", "species", species, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build map")
		return nil, false
	}
	return data, true
}

// MapDocument returns the JSON map document of a species, from cache when
// the points and overlay contents are unchanged. Concurrent requests for the same
// content share one build.
func (s *Server) MapDocument(ctx context.Context, species string) ([]byte, error) {
	name := types.NormalizeSpeciesName(species)
	gen := s.generation(name)

	in, err := s.builder.Fetch(ctx, species)
	if err != nil {
		return nil, err
	}

	res := s.builder.Config().Resolution
	key := fmt.Sprintf("map:%s:g%d:%s:%s", name, gen,
		density.Fingerprint(in.Points, res), region.Fingerprint(in.Payloads))
	degraded := in.PointsErr != nil || in.RegionsErr != nil

	if data, hit, err := s.cache.Get(ctx, key); err != nil {
		s.log().Warn("Cache read failed", "key", key, "error", err)
	} else if hit {
		s.recordCache("map", true)
		return data, nil
	}
	s.recordCache("map", false)

	v, err, shared := s.group.Do(key, func() (any, error) {
		start := time.Now()
		result, err := s.builder.Assemble(species, in)
		if err != nil {
			return nil, err
		}
		data, err := result.Document.Bytes()
		if err != nil {
			return nil, err
		}
		s.builds.Add(1)
		mapBuildDuration.Observe(time.Since(start).Seconds())
		densityCells.Observe(float64(len(result.Bins)))

		// A map missing a failed source is served but not kept.
		if degraded {
			return data, nil
		}
		if err := s.cache.Set(context.WithoutCancel(ctx), key, data, s.cfg.CacheTTL); err != nil {
			s.log().Warn("Cache write failed", "key", key, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log().Debug("Shared map build", "species", name)
	}
	return v.([]byte), nil
}

func (s *Server) recordCache(layer string, hit bool) {
	if hit {
		s.hits.Add(1)
		cacheHits.WithLabelValues(layer).Inc()
		return
	}
	s.misses.Add(1)
	cacheMisses.WithLabelValues(layer).Inc()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to write response", "error", err)
	}
}

func writeRaw(w http.ResponseWriter, cacheControl string, data []byte) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", cacheControl)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
