package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a species must stay quiet before a change is reported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to the overlay files of the catalog.
// Rapid writes to the same species are coalesced into a single callback.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	baseDir     string
	debounce    time.Duration
	pending     map[string]time.Time
	onChange    func(species string)
	logger      *slog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	eventsTotal int
}

// NewWatcher creates a watcher for the catalog rooted at baseDir.
// onChange is called with the species directory name after changes settle.
func NewWatcher(baseDir string, debounce time.Duration, onChange func(species string), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		watcher:  fw,
		baseDir:  filepath.Clean(baseDir),
		debounce: debounce,
		pending:  make(map[string]time.Time),
		onChange: onChange,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func (w *Watcher) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Start adds the catalog directories and begins processing events in the background.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	entries, err := os.ReadDir(w.baseDir)
	if err == nil {
		err = w.watcher.Add(w.baseDir)
	}
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.baseDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addSpeciesDir(filepath.Join(w.baseDir, e.Name()))
		}
	}

	w.log().Info("Watching species catalog", "dir", w.baseDir, "debounce", w.debounce)
	go w.run(ctx)
	return nil
}

// addSpeciesDir watches a species directory and its maps subdirectory.
func (w *Watcher) addSpeciesDir(dir string) {
	for _, d := range []string{dir, filepath.Join(dir, "maps")} {
		if _, err := os.Stat(d); err != nil {
			continue
		}
		if err := w.watcher.Add(d); err != nil {
			w.log().Warn("Failed to watch directory", "dir", d, "error", err)
		}
	}
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.log().Error("Error closing file watcher", "error", err)
	}
}

// Events returns the number of relevant filesystem events seen so far.
func (w *Watcher) Events() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eventsTotal
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log().Error("File watcher error", "error", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.baseDir, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	species := parts[0]
	if strings.HasPrefix(species, ".") {
		return
	}

	// New species or maps directories have to be added explicitly.
	if event.Op&fsnotify.Create != 0 && len(parts) <= 2 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addSpeciesDir(filepath.Join(w.baseDir, species))
		}
	}

	w.log().Debug("Catalog change", "op", event.Op.String(), "path", event.Name, "species", species)

	w.mu.Lock()
	w.pending[species] = time.Now()
	w.eventsTotal++
	w.mu.Unlock()
}

// flush reports every species whose last event is older than the debounce window.
func (w *Watcher) flush() {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for species, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, species)
			delete(w.pending, species)
		}
	}
	w.mu.Unlock()

	for _, species := range ready {
		w.log().Info("Species overlays changed", "species", species)
		if w.onChange != nil {
			w.onChange(species)
		}
	}
}
