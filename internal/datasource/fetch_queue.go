package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/crayfishmap/internal/types"
)

// HydrographyFetcher fetches freshwater context for an extent.
type HydrographyFetcher interface {
	FetchHydrography(ctx context.Context, bounds types.BoundingBox) (*types.HydrographyData, error)
}

// FetchJob represents a hydrography fetch request.
type FetchJob struct {
	Key        string // species key or other label used in logs and status
	Bounds     types.BoundingBox
	ResultChan chan FetchResult
}

// FetchResult contains the result of a fetch operation.
type FetchResult struct {
	Data     *types.HydrographyData
	DataSize int64 // Size of the fetched data in bytes (estimated)
	Error    error
}

// FetchQueueStatus contains current status of the fetch queue.
type FetchQueueStatus struct {
	// ActiveFetches is the number of currently in-flight fetch operations
	ActiveFetches int `json:"active_fetches"`
	// QueuedFetches is the number of jobs waiting in the queue
	QueuedFetches int `json:"queued_fetches"`
	// TotalCompleted is the total number of completed fetches since start
	TotalCompleted int64 `json:"total_completed"`
	// TotalFailed is the total number of failed fetches since start
	TotalFailed int64 `json:"total_failed"`
	// TotalBytes is the total bytes fetched since start
	TotalBytes int64 `json:"total_bytes"`
	// CurrentKeys lists the jobs currently being fetched
	CurrentKeys []string `json:"current_keys"`
}

// FetchQueueConfig configures the fetch queue behavior.
type FetchQueueConfig struct {
	// Workers is the number of concurrent fetch workers (default: 1)
	Workers int
	// QueueSize is the maximum number of pending fetch jobs (default: 32)
	QueueSize int
	// DataSizeWarningThreshold warns when fetched data exceeds this size in bytes (default: 10MB)
	DataSizeWarningThreshold int64
	// Logger for fetch operations
	Logger *slog.Logger
}

// DefaultFetchQueueConfig returns sensible defaults.
func DefaultFetchQueueConfig() FetchQueueConfig {
	return FetchQueueConfig{
		Workers:                  1,
		QueueSize:                32,
		DataSizeWarningThreshold: 10 * 1024 * 1024, // 10MB
		Logger:                   slog.Default(),
	}
}

// FetchQueue serializes hydrography requests to Overpass behind a small
// pool of workers and tracks their progress.
type FetchQueue struct {
	ds        HydrographyFetcher
	jobs      chan FetchJob
	cfg       FetchQueueConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	activeFetches  atomic.Int32
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalBytes     atomic.Int64
	currentKeys    sync.Map // key -> start time
}

// NewFetchQueue creates a new fetch queue with the given fetcher and config.
func NewFetchQueue(ds HydrographyFetcher, cfg FetchQueueConfig) *FetchQueue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 32
	}
	if cfg.DataSizeWarningThreshold <= 0 {
		cfg.DataSizeWarningThreshold = 10 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FetchQueue{
		ds:     ds,
		jobs:   make(chan FetchJob, cfg.QueueSize),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing fetch jobs with the configured number of workers.
func (fq *FetchQueue) Start() {
	fq.startOnce.Do(func() {
		fq.cfg.Logger.Info("Starting fetch queue workers", "workers", fq.cfg.Workers)
		for i := 0; i < fq.cfg.Workers; i++ {
			fq.wg.Add(1)
			go fq.worker(i)
		}
	})
}

// Stop cancels in-flight work and waits for the workers to exit.
func (fq *FetchQueue) Stop() {
	fq.stopOnce.Do(func() {
		fq.cancel()
		fq.wg.Wait()
	})
}

// Submit adds a fetch job to the queue and returns immediately.
// The result will be sent to the job's ResultChan when complete.
func (fq *FetchQueue) Submit(job FetchJob) error {
	if fq.ctx.Err() != nil {
		return fmt.Errorf("fetch queue is shutting down")
	}
	select {
	case fq.jobs <- job:
		return nil
	default:
		return fmt.Errorf("fetch queue is full")
	}
}

// SubmitAndWait submits a fetch job and blocks until the result is available.
func (fq *FetchQueue) SubmitAndWait(ctx context.Context, key string, bounds types.BoundingBox) (FetchResult, error) {
	resultChan := make(chan FetchResult, 1)
	job := FetchJob{
		Key:        key,
		Bounds:     bounds,
		ResultChan: resultChan,
	}

	select {
	case fq.jobs <- job:
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	case <-fq.ctx.Done():
		return FetchResult{}, fmt.Errorf("fetch queue is shutting down")
	}

	select {
	case result := <-resultChan:
		return result, nil
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	case <-fq.ctx.Done():
		return FetchResult{}, fmt.Errorf("fetch queue is shutting down")
	}
}

// Status returns the current status of the fetch queue.
func (fq *FetchQueue) Status() FetchQueueStatus {
	var keys []string
	fq.currentKeys.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)

	return FetchQueueStatus{
		ActiveFetches:  int(fq.activeFetches.Load()),
		QueuedFetches:  len(fq.jobs),
		TotalCompleted: fq.totalCompleted.Load(),
		TotalFailed:    fq.totalFailed.Load(),
		TotalBytes:     fq.totalBytes.Load(),
		CurrentKeys:    keys,
	}
}

func (fq *FetchQueue) worker(id int) {
	defer fq.wg.Done()
	log := fq.cfg.Logger.With("worker_id", id)
	log.Debug("Fetch worker started")

	for {
		select {
		case <-fq.ctx.Done():
			log.Debug("Fetch worker stopping")
			return
		case job := <-fq.jobs:
			result := fq.doFetch(fq.ctx, job.Key, job.Bounds)
			if job.ResultChan != nil {
				select {
				case job.ResultChan <- result:
				default:
					log.Warn("Result channel full", "key", job.Key)
				}
			}
		}
	}
}

func (fq *FetchQueue) doFetch(ctx context.Context, key string, bounds types.BoundingBox) FetchResult {
	fq.activeFetches.Add(1)
	fq.currentKeys.Store(key, time.Now())
	defer func() {
		fq.activeFetches.Add(-1)
		fq.currentKeys.Delete(key)
	}()

	start := time.Now()
	log := fq.cfg.Logger.With("key", key, "bounds", bounds.String())
	log.Info("Fetching hydrography from Overpass API")

	data, err := fq.ds.FetchHydrography(ctx, bounds)
	elapsed := time.Since(start)

	if err != nil {
		fq.totalFailed.Add(1)
		log.Error("Fetch failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return FetchResult{Error: err}
	}

	dataSize := estimateDataSize(data)
	fq.totalCompleted.Add(1)
	fq.totalBytes.Add(dataSize)

	log.Info("Fetch completed",
		"duration_ms", elapsed.Milliseconds(),
		"data_size_bytes", dataSize,
		"water_features", len(data.Features.Water),
		"river_features", len(data.Features.Rivers),
	)

	if dataSize > fq.cfg.DataSizeWarningThreshold {
		log.Warn("Hydrography data exceeds size threshold",
			"threshold_mb", fq.cfg.DataSizeWarningThreshold/(1024*1024),
			"actual_mb", fmt.Sprintf("%.2f", float64(dataSize)/(1024*1024)),
		)
	}

	return FetchResult{Data: data, DataSize: dataSize}
}

// estimateDataSize approximates the memory size of fetched data from the
// number of features.
func estimateDataSize(data *types.HydrographyData) int64 {
	if data == nil {
		return 0
	}

	const avgCoordsPerFeature = 50
	const bytesPerCoord = 16
	const metadataPerFeature = 200
	const bytesPerFeature = avgCoordsPerFeature*bytesPerCoord + metadataPerFeature

	size := int64(data.Features.Count() * bytesPerFeature)
	if data.OverpassResult != nil {
		size += 1024 * 1024
	}
	return size
}
