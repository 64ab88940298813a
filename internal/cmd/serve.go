package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/crayfishmap/internal/datasource"
	"github.com/MeKo-Tech/crayfishmap/internal/server"
	"github.com/MeKo-Tech/crayfishmap/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve species maps over HTTP",
	Long: `Serve the JSON/GeoJSON API consumed by the atlas map.

Map documents are built on request and cached until the species' records or
overlay files change.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("cache", "memory", "Map cache backend (memory, valkey)")
	serveCmd.Flags().Int("cache-entries", server.DefaultMemoryCacheEntries, "Max entries of the in-memory cache")
	serveCmd.Flags().String("valkey-addr", "127.0.0.1:6379", "Valkey address for --cache=valkey")
	serveCmd.Flags().Duration("cache-ttl", time.Hour, "Lifetime of cached maps (0 keeps them until invalidated)")
	serveCmd.Flags().String("cache-control", "no-cache", "Cache-Control header for API responses")
	serveCmd.Flags().Duration("request-timeout", 2*time.Minute, "Timeout for upstream hydrography fetches")
	serveCmd.Flags().Bool("watch", true, "Invalidate cached maps when overlay files change")
	serveCmd.Flags().Duration("watch-debounce", datasource.DefaultDebounce, "Quiet period before a catalog change is applied")
	serveCmd.Flags().Bool("hydrography", false, "Enable the Overpass hydrography layer")
	serveCmd.Flags().String("overpass-endpoint", datasource.DefaultOverpassEndpoint, "Overpass API endpoint")
	serveCmd.Flags().Int("fetch-workers", 1, "Concurrent Overpass fetches")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.cache", "cache")
	mustBind("serve.cache_entries", "cache-entries")
	mustBind("serve.valkey_addr", "valkey-addr")
	mustBind("serve.cache_ttl", "cache-ttl")
	mustBind("serve.cache_control", "cache-control")
	mustBind("serve.request_timeout", "request-timeout")
	mustBind("serve.watch", "watch")
	mustBind("serve.watch_debounce", "watch-debounce")
	mustBind("serve.hydrography", "hydrography")
	mustBind("serve.overpass_endpoint", "overpass-endpoint")
	mustBind("serve.fetch_workers", "fetch-workers")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	dbPath := viper.GetString("db")
	dataDir := viper.GetString("data-dir")

	atlasCfg, err := atlasConfig()
	if err != nil {
		return err
	}

	reader, err := store.OpenReader(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open records store: %w", err)
	}
	defer reader.Close()

	if meta, err := reader.Metadata(context.Background()); err == nil {
		count, _ := reader.Count(context.Background())
		logger.Info("Opened records store",
			"db", dbPath,
			"records", count,
			"source", meta.Source,
			"imported_at", meta.ImportedAt,
		)
	}

	cache, err := newCache(viper.GetString("serve.cache"))
	if err != nil {
		return err
	}
	defer cache.Close()

	catalog := datasource.NewCatalog(dataDir, logger)
	srv := server.New(reader, catalog, cache, server.Config{
		Atlas:          atlasCfg,
		CacheTTL:       viper.GetDuration("serve.cache_ttl"),
		CacheControl:   viper.GetString("serve.cache_control"),
		RequestTimeout: viper.GetDuration("serve.request_timeout"),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("serve.hydrography") {
		ds := datasource.NewOverpassDataSource(viper.GetString("serve.overpass_endpoint"))
		fq := datasource.NewFetchQueue(ds, datasource.FetchQueueConfig{
			Workers: viper.GetInt("serve.fetch_workers"),
			Logger:  logger,
		})
		fq.Start()
		defer fq.Stop()
		srv.WithHydrography(fq)
	}

	if viper.GetBool("serve.watch") {
		w, err := datasource.NewWatcher(dataDir, viper.GetDuration("serve.watch_debounce"), srv.Invalidate, logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			logger.Warn("Catalog watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	logger.Info("API server listening",
		"addr", addr,
		"db", dbPath,
		"data_dir", dataDir,
		"cache", viper.GetString("serve.cache"),
		"resolution", atlasCfg.Resolution,
		"hydrography", viper.GetBool("serve.hydrography"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func newCache(kind string) (server.Cache, error) {
	switch kind {
	case "", "memory":
		return server.NewMemoryCache(viper.GetInt("serve.cache_entries")), nil
	case "valkey":
		c, err := server.NewValkeyCache(viper.GetString("serve.valkey_addr"), "crayfishmap:")
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", kind)
	}
}
