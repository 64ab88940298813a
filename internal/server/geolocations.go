package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/crayfishmap/internal/datasource"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
)

// RegionFiles serves overlay files as they are stored in the catalog.
type RegionFiles interface {
	RawRegions(species string) (map[string]string, error)
	RegionFile(species string, kind types.RegionKind) ([]byte, string, error)
}

// geolocationKeys are the response keys of the geolocations endpoint.
var geolocationKeys = []string{"AOO", "basins", "EOO"}

// handleGeolocations returns every overlay file of a species. JSON files are
// embedded as-is, KML and WKT as strings, and missing kinds as null.
func (s *Server) handleGeolocations(w http.ResponseWriter, r *http.Request) {
	species := r.PathValue("name")
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, "overlay catalog not configured")
		return
	}

	raw, err := s.files.RawRegions(species)
	if err != nil {
		s.writeCatalogError(w, species, err)
		return
	}

	out := make(map[string]json.RawMessage, len(geolocationKeys))
	for _, key := range geolocationKeys {
		text, ok := raw[key]
		switch {
		case !ok || strings.TrimSpace(text) == "":
			out[key] = json.RawMessage("null")
		case json.Valid([]byte(text)):
			out[key] = json.RawMessage(text)
		default:
			quoted, err := json.Marshal(text)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to encode overlay")
				return
			}
			out[key] = quoted
		}
	}

	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	writeJSON(w, http.StatusOK, out)
}

// handleGeolocationFile returns one overlay file, as a download unless
// ?mode=inline is given.
func (s *Server) handleGeolocationFile(w http.ResponseWriter, r *http.Request) {
	species := r.PathValue("name")
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, "overlay catalog not configured")
		return
	}

	kind, err := types.ParseRegionKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("invalid geolocation type %q", r.PathValue("kind")))
		return
	}

	data, path, err := s.files.RegionFile(species, kind)
	if err != nil {
		s.writeCatalogError(w, species, err)
		return
	}

	w.Header().Set("Content-Type", regionContentType(path))
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	if r.URL.Query().Get("mode") != "inline" {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))
	}
	_, _ = w.Write(data)
}

func (s *Server) writeCatalogError(w http.ResponseWriter, species string, err error) {
	switch {
	case errors.Is(err, datasource.ErrSpeciesNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("species directory %q not found", species))
	case errors.Is(err, datasource.ErrRegionFileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log().Error("Failed to read overlay files", "species", species, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read overlay files")
	}
}

func regionContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".kml":
		return "application/vnd.google-earth.kml+xml"
	case ".wkt":
		return "text/plain; charset=utf-8"
	default:
		return "application/geo+json"
	}
}
