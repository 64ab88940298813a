package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/crayfishmap/internal/atlas"
	"github.com/MeKo-Tech/crayfishmap/internal/datasource"
	"github.com/MeKo-Tech/crayfishmap/internal/raster"
	"github.com/MeKo-Tech/crayfishmap/internal/store"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/MeKo-Tech/crayfishmap/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Precompute species map documents",
	Long: `Build the map document (<Species>.geojson) and a PNG preview (<Species>.png)
for every species in the records store, or for the species given with --species.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringSlice("species", nil, "Species to export (default: all species in the store)")
	exportCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	exportCmd.Flags().Bool("progress", true, "Show progress bar")
	exportCmd.Flags().Bool("allow-failures", false, "Exit successfully even if some species fail")
	exportCmd.Flags().Bool("force", false, "Rebuild maps that already exist")
	exportCmd.Flags().Bool("preview", true, "Write a PNG preview next to each document")
	exportCmd.Flags().Int("preview-width", 1024, "Preview width in pixels")
	exportCmd.Flags().Int("preview-height", 768, "Preview height in pixels")
	exportCmd.Flags().Int64("seed", 1, "Seed of the paper grain")
	exportCmd.Flags().Bool("hydrography", false, "Draw rivers and lakes from Overpass under the preview")
	exportCmd.Flags().String("overpass-endpoint", datasource.DefaultOverpassEndpoint, "Overpass API endpoint")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"export.species", "species"},
		{"export.workers", "workers"},
		{"export.progress", "progress"},
		{"export.allow_failures", "allow-failures"},
		{"export.force", "force"},
		{"export.preview", "preview"},
		{"export.preview_width", "preview-width"},
		{"export.preview_height", "preview-height"},
		{"export.seed", "seed"},
		{"export.hydrography", "hydrography"},
		{"export.overpass_endpoint", "overpass-endpoint"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, exportCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	dbPath := viper.GetString("db")
	dataDir := viper.GetString("data-dir")
	outputDir := viper.GetString("output-dir")
	workers := viper.GetInt("export.workers")
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	atlasCfg, err := atlasConfig()
	if err != nil {
		return err
	}

	reader, err := store.OpenReader(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open records store: %w", err)
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	species, err := exportSpecies(ctx, reader, viper.GetStringSlice("export.species"))
	if err != nil {
		return err
	}
	if len(species) == 0 {
		logger.Warn("No species to export", "db", dbPath)
		return nil
	}

	builder := atlas.NewBuilder(reader, datasource.NewCatalog(dataDir, logger), atlasCfg, logger)
	gen := atlas.NewGenerator(builder, outputDir, logger, generatorOptions()...)

	logger.Info("Starting export",
		"species", len(species),
		"workers", workers,
		"output_dir", outputDir,
		"resolution", atlasCfg.Resolution,
	)

	failed, err := runExportPool(ctx, gen, species, workers, viper.GetBool("export.force"), viper.GetBool("export.progress"))
	if err != nil {
		return err
	}
	if failed > 0 {
		if viper.GetBool("export.allow_failures") {
			logger.Warn("Some maps failed to export, but continuing due to --allow-failures flag", "failed_count", failed)
			return nil
		}
		return fmt.Errorf("%d maps failed to export", failed)
	}
	return nil
}

func generatorOptions() []atlas.GeneratorOption {
	if !viper.GetBool("export.preview") {
		return []atlas.GeneratorOption{atlas.WithoutPreview()}
	}

	preview := raster.DefaultOptions()
	preview.Width = viper.GetInt("export.preview_width")
	preview.Height = viper.GetInt("export.preview_height")
	preview.Seed = viper.GetInt64("export.seed")
	opts := []atlas.GeneratorOption{atlas.WithPreviewOptions(preview)}

	if viper.GetBool("export.hydrography") {
		ds := datasource.NewOverpassDataSource(viper.GetString("export.overpass_endpoint"))
		opts = append(opts, atlas.WithHydrography(ds))
	}
	return opts
}

// runExportPool generates every species and returns the number of failures.
func runExportPool(ctx context.Context, gen worker.Generator, species []string, workers int, force, showProgress bool) (int, error) {
	tasks := make([]worker.Task, 0, len(species))
	for _, name := range species {
		tasks = append(tasks, worker.Task{Species: name, Force: force})
	}

	progress := worker.NewProgress(len(tasks), showProgress)
	pool := worker.New(worker.Config{
		Workers:    workers,
		Generator:  gen,
		OnProgress: progress.Callback(),
	})

	results := pool.Run(ctx, tasks)
	progress.Done()

	failed := worker.Failed(results)
	for _, r := range failed {
		logger.Error("Map export failed", "species", r.Task.Species, "error", r.Err)
	}
	logger.Info(progress.Summary())

	if err := ctx.Err(); err != nil {
		return len(failed), fmt.Errorf("export interrupted: %w", err)
	}
	return len(failed), nil
}

// speciesLister is the part of the records store export needs.
type speciesLister interface {
	SpeciesNames(ctx context.Context) ([]store.SpeciesCount, error)
}

// exportSpecies returns the requested species, or every species in the
// store when none were given. Names are de-duplicated by normalized key.
func exportSpecies(ctx context.Context, st speciesLister, requested []string) ([]string, error) {
	var names []string
	if len(requested) > 0 {
		names = requested
	} else {
		counts, err := st.SpeciesNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list species: %w", err)
		}
		for _, c := range counts {
			names = append(names, c.Name)
		}
	}

	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := types.NormalizeSpeciesName(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out, nil
}
