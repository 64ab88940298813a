package atlas

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/crayfishmap/internal/datasource"
	"github.com/MeKo-Tech/crayfishmap/internal/geojson"
	"github.com/MeKo-Tech/crayfishmap/internal/raster"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/MeKo-Tech/crayfishmap/internal/viewport"
	"github.com/paulmach/orb"
)

// Generator writes the map document and a PNG preview of a species to disk.
type Generator struct {
	builder     *Builder
	outputDir   string
	preview     raster.Options
	skipPreview bool
	hydrography datasource.HydrographyFetcher
	logger      *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithPreviewOptions sets the canvas used for previews.
func WithPreviewOptions(opts raster.Options) GeneratorOption {
	return func(g *Generator) { g.preview = opts }
}

// WithoutPreview disables PNG output.
func WithoutPreview() GeneratorOption {
	return func(g *Generator) { g.skipPreview = true }
}

// WithHydrography draws rivers and lakes from f under the preview.
func WithHydrography(f datasource.HydrographyFetcher) GeneratorOption {
	return func(g *Generator) { g.hydrography = f }
}

// NewGenerator creates a generator writing to outputDir.
func NewGenerator(b *Builder, outputDir string, logger *slog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		builder:   b,
		outputDir: outputDir,
		preview:   raster.DefaultOptions(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.preview.Width <= 0 {
		g.preview.Width = viewport.DefaultWidth
	}
	if g.preview.Height <= 0 {
		g.preview.Height = viewport.DefaultHeight
	}
	return g
}

func (g *Generator) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}

// DocumentPath returns where the document of a species is written.
func (g *Generator) DocumentPath(species string) string {
	return filepath.Join(g.outputDir, types.NormalizeSpeciesName(species)+".geojson")
}

// PreviewPath returns where the preview of a species is written.
func (g *Generator) PreviewPath(species string) string {
	return filepath.Join(g.outputDir, types.NormalizeSpeciesName(species)+".png")
}

// Generate builds the map of a species and writes <Species>.geojson and
// <Species>.png. Existing output is kept unless force is set.
// Returns the document path.
func (g *Generator) Generate(ctx context.Context, species string, force bool) (string, error) {
	docPath := g.DocumentPath(species)
	if !force {
		if _, err := os.Stat(docPath); err == nil {
			g.log().Info("Map already exists; skipping", "species", species, "path", docPath)
			return docPath, nil
		}
	}

	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	g.log().Info("Building map", "species", species)
	res, err := g.builder.Build(ctx, species)
	if err != nil {
		return "", fmt.Errorf("failed to build map for %s: %w", species, err)
	}

	data, err := res.Document.Bytes()
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(docPath, data); err != nil {
		return "", err
	}

	if !g.skipPreview {
		if err := g.writePreview(ctx, res); err != nil {
			return "", err
		}
	}

	g.log().Info("Wrote map",
		"species", species,
		"path", docPath,
		"cells", len(res.Bins),
		"overlays", len(res.Document.Overlays),
	)
	return docPath, nil
}

func (g *Generator) writePreview(ctx context.Context, res *Result) error {
	view := previewView(res, g.preview, g.builder.Config())
	renderer := raster.NewRenderer(view, g.preview)

	scene := raster.Scene{Bins: res.Bins, Regions: res.Regions}
	if g.hydrography != nil && res.Document.FitBounds != nil {
		fb := res.Document.FitBounds
		bounds := types.BoundingBox{MinLon: fb[0], MinLat: fb[1], MaxLon: fb[2], MaxLat: fb[3]}.
			ExpandByFraction(datasource.HydrographyMargin)
		hydro, err := g.hydrography.FetchHydrography(ctx, bounds)
		if err != nil {
			g.log().Warn("Skipping hydrography in preview", "species", res.Species, "error", err)
		} else {
			scene.Hydrography = &hydro.Features
		}
	}

	path := g.PreviewPath(res.Species)
	if err := raster.WritePNG(path, renderer.Render(scene)); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return nil
}

// previewView fits the preview to the document's fit bounds, then to the
// density grid, and shows the whole world when there is nothing to fit.
func previewView(res *Result, opts raster.Options, cfg Config) viewport.View {
	bound, ok := geojson.DensityBound(res.Bins)
	if fb := res.Document.FitBounds; fb != nil {
		bound = orb.Bound{Min: orb.Point{fb[0], fb[1]}, Max: orb.Point{fb[2], fb[3]}}
		ok = true
	}
	if !ok {
		bound = orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}
	}

	maxZoom := cfg.MaxZoom
	if maxZoom <= 0 {
		maxZoom = viewport.DefaultMaxZoom
	}
	return viewport.Fit(bound, opts.Width, opts.Height, cfg.Padding, maxZoom)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() // nolint:errcheck
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}
