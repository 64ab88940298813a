package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/crayfishmap/internal/region"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
)

// MaxRegionFileSize limits how much of a region file is read.
const MaxRegionFileSize = 64 << 20

// regionExtensions are tried in order for every overlay file.
var regionExtensions = []string{".geojson", ".json", ".kml", ".wkt"}

// Catalog reads the distribution overlays of each species from the data
// directory. The layout is:
//
//	<base>/<Species>/maps/<Species>_AOO.geojson
//	<base>/<Species>/maps/<Species>_basins.geojson
//	<base>/<Species>/maps/<Species>_EOO.geojson
//
// where <Species> is the normalized species name.
type Catalog struct {
	baseDir string
	logger  *slog.Logger
}

// NewCatalog creates a catalog rooted at baseDir.
func NewCatalog(baseDir string, logger *slog.Logger) *Catalog {
	return &Catalog{baseDir: baseDir, logger: logger}
}

func (c *Catalog) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// BaseDir returns the catalog root.
func (c *Catalog) BaseDir() string {
	return c.baseDir
}

// fileSuffix is the file name suffix the data service uses for a kind.
func fileSuffix(kind types.RegionKind) string {
	switch kind {
	case types.RegionAOO:
		return "AOO"
	case types.RegionEOO:
		return "EOO"
	default:
		return string(kind)
	}
}

// ErrSpeciesNotFound is returned for a species without a catalog directory.
var ErrSpeciesNotFound = errors.New("species directory not found")

// ErrRegionFileNotFound is returned when a species has no file for a kind.
var ErrRegionFileNotFound = errors.New("region file not found")

// speciesName validates and normalizes a species name for use as a path
// element.
func speciesName(species string) (string, error) {
	name := types.NormalizeSpeciesName(species)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid species name %q", species)
	}
	return name, nil
}

// speciesDir returns the directory of a species or ErrSpeciesNotFound.
func (c *Catalog) speciesDir(species string) (string, error) {
	name, err := speciesName(species)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(c.baseDir, name)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", fmt.Errorf("%w: %s", ErrSpeciesNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	return dir, nil
}

// Regions returns the overlay payloads of a species. Kinds without a file
// are absent. An unknown species yields three absent payloads, not an error.
func (c *Catalog) Regions(ctx context.Context, species string) (map[types.RegionKind]region.Payload, error) {
	out := make(map[types.RegionKind]region.Payload, len(types.AllRegionKinds))
	for _, kind := range types.AllRegionKinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, path, err := c.readRegion(species, kind)
		if err != nil {
			return nil, err
		}
		if path == "" {
			out[kind] = region.Absent()
			continue
		}

		c.log().Debug("Loaded region file", "species", species, "kind", kind, "path", path, "bytes", len(text))
		out[kind] = region.Text(text)
	}
	return out, nil
}

// RawRegions returns the file contents per kind, keyed by the suffix used on
// disk (AOO, basins, EOO). Kinds without a file are left out.
func (c *Catalog) RawRegions(species string) (map[string]string, error) {
	if _, err := c.speciesDir(species); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(types.AllRegionKinds))
	for _, kind := range types.AllRegionKinds {
		text, path, err := c.readRegion(species, kind)
		if err != nil {
			return nil, err
		}
		if path != "" {
			out[fileSuffix(kind)] = text
		}
	}
	return out, nil
}

// RegionFile returns the content and path of one overlay file.
func (c *Catalog) RegionFile(species string, kind types.RegionKind) ([]byte, string, error) {
	if _, err := c.speciesDir(species); err != nil {
		return nil, "", err
	}

	text, path, err := c.readRegion(species, kind)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrRegionFileNotFound, kind)
	}
	return []byte(text), path, nil
}

// readRegion returns the content and path of the first existing file for a
// kind, or an empty path if there is none.
func (c *Catalog) readRegion(species string, kind types.RegionKind) (string, string, error) {
	name, err := speciesName(species)
	if err != nil {
		return "", "", err
	}

	base := filepath.Join(c.baseDir, name, "maps", name+"_"+fileSuffix(kind))
	for _, ext := range regionExtensions {
		path := base + ext
		data, err := readLimited(path, MaxRegionFileSize)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), path, nil
	}
	return "", "", nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file larger than %d bytes", limit)
	}
	return data, nil
}
