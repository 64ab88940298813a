// Package atlas turns the records and overlays of one species into a map
// document. It holds no state between calls.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/crayfishmap/internal/density"
	"github.com/MeKo-Tech/crayfishmap/internal/geojson"
	"github.com/MeKo-Tech/crayfishmap/internal/region"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/MeKo-Tech/crayfishmap/internal/viewport"
	"golang.org/x/sync/errgroup"
)

// PointSource returns the observation points of a species.
type PointSource interface {
	Locations(ctx context.Context, species string) ([]types.GeoPoint, error)
}

// RegionSource returns the raw overlay payloads of a species.
type RegionSource interface {
	Regions(ctx context.Context, species string) (map[types.RegionKind]region.Payload, error)
}

// ErrNoData is returned when neither source could be read.
var ErrNoData = errors.New("no species data available")

// Config holds the map parameters that are fixed by the application.
type Config struct {
	Resolution   int
	FitPriority  []types.RegionKind
	Width        int
	Height       int
	Padding      int
	MaxZoom      int
	FitToDensity bool
}

// DefaultConfig returns the configuration used by the portal.
func DefaultConfig() Config {
	return Config{
		Resolution:  density.DefaultResolution,
		FitPriority: types.DefaultFitPriority,
		Width:       viewport.DefaultWidth,
		Height:      viewport.DefaultHeight,
		Padding:     viewport.DefaultPadding,
		MaxZoom:     viewport.DefaultMaxZoom,
	}
}

// Input is the raw data fetched for one species.
type Input struct {
	Points   []types.GeoPoint
	Payloads map[types.RegionKind]region.Payload

	// PointsErr and RegionsErr record sources that failed; the other
	// half is still usable.
	PointsErr  error
	RegionsErr error
}

// Result is an assembled species map.
type Result struct {
	Species  string
	Points   []types.GeoPoint
	Bins     []density.Bin
	Regions  region.Set
	Document *geojson.MapDocument
}

// Builder composes a point source and a region source into map documents.
type Builder struct {
	points  PointSource
	regions RegionSource
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewBuilder creates a builder. Either source may be nil. cfg is used as
// given; start from DefaultConfig, since resolution 0 is a valid H3 level.
func NewBuilder(points PointSource, regions RegionSource, cfg Config, logger *slog.Logger) *Builder {
	if len(cfg.FitPriority) == 0 {
		cfg.FitPriority = types.DefaultFitPriority
	}
	return &Builder{
		points:  points,
		regions: regions,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (b *Builder) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// Config returns the builder configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// Fetch reads points and overlays concurrently. A failing source is logged
// and recorded on the Input; Fetch only fails when both sources fail or
// ctx is done.
func (b *Builder) Fetch(ctx context.Context, species string) (Input, error) {
	var in Input

	eg, egCtx := errgroup.WithContext(ctx)

	if b.points != nil {
		eg.Go(func() error {
			points, err := b.points.Locations(egCtx, species)
			if err != nil {
				in.PointsErr = err
				b.log().Warn("Failed to load locations", "species", species, "error", err)
				return nil
			}
			in.Points = points
			return nil
		})
	}

	if b.regions != nil {
		eg.Go(func() error {
			payloads, err := b.regions.Regions(egCtx, species)
			if err != nil {
				in.RegionsErr = err
				b.log().Warn("Failed to load regions", "species", species, "error", err)
				return nil
			}
			in.Payloads = payloads
			return nil
		})
	}

	_ = eg.Wait() // goroutines never return an error

	if err := ctx.Err(); err != nil {
		return Input{}, err
	}
	if in.PointsErr != nil && in.RegionsErr != nil {
		return in, fmt.Errorf("%w for %s: %w", ErrNoData, species, errors.Join(in.PointsErr, in.RegionsErr))
	}
	return in, nil
}

// Assemble computes the density grid, normalizes the overlays and builds
// the map document. It fails only on an invalid resolution.
func (b *Builder) Assemble(species string, in Input) (*Result, error) {
	bins, err := density.ComputeDensityGrid(in.Points, b.cfg.Resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to compute density grid: %w", err)
	}

	regions := region.NormalizeSet(in.Payloads, b.log().With("species", species))

	doc := geojson.BuildMapDocument(geojson.DocumentInput{
		Species:      species,
		Resolution:   b.cfg.Resolution,
		Points:       density.Total(bins),
		Bins:         bins,
		Regions:      regions,
		FitPriority:  b.cfg.FitPriority,
		Width:        b.cfg.Width,
		Height:       b.cfg.Height,
		Padding:      b.cfg.Padding,
		MaxZoom:      b.cfg.MaxZoom,
		Now:          b.now(),
		FitToDensity: b.cfg.FitToDensity,
	})

	b.log().Debug("Assembled map document",
		"species", species,
		"points", len(in.Points),
		"cells", len(bins),
		"overlays", len(regions.Present()),
		"fit_region", doc.FitRegion,
	)

	return &Result{
		Species:  species,
		Points:   in.Points,
		Bins:     bins,
		Regions:  regions,
		Document: doc,
	}, nil
}

// Build fetches and assembles the map of a species.
func (b *Builder) Build(ctx context.Context, species string) (*Result, error) {
	in, err := b.Fetch(ctx, species)
	if err != nil {
		return nil, err
	}
	return b.Assemble(species, in)
}
