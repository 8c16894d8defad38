package emotion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads an Analyzer's model whenever the artifact changes on disk.
// It watches the containing directory so atomic rename-over saves are seen.
type Watcher struct {
	analyzer *Analyzer
	debounce time.Duration
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	pending  time.Time
	lastHash string
}

// NewWatcher creates a Watcher for the analyzer's artifact path.
func NewWatcher(a *Analyzer, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		analyzer: a,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// SetDebounce overrides the quiet period before a change is applied.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Start begins watching. It returns an error if the directory cannot be
// watched; a missing artifact file is fine.
func (w *Watcher) Start(_ context.Context) error {
	path := w.analyzer.Path()
	if path == "" {
		return fmt.Errorf("emotion watcher: analyzer has no artifact path")
	}
	w.lastHash, _ = hashFile(path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("emotion watcher: create fsnotify: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("emotion watcher: watch %s: %w", dir, err)
	}
	w.fsWatcher = fsw

	w.wg.Add(1)
	go w.loop(path)
	return nil
}

// Stop terminates the watcher. It is safe to call more than once.
func (w *Watcher) Stop(_ context.Context) error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop(path string) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("emotion watcher error", "err", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.apply(path)
			}
		}
	}
}

func (w *Watcher) apply(path string) {
	hash, err := hashFile(path)
	if err != nil {
		w.logger.Warn("emotion watcher: artifact unreadable, keeping current model", "path", path, "err", err)
		return
	}
	if hash == w.lastHash {
		return
	}
	if err := w.analyzer.Reload(); err != nil {
		w.logger.Error("emotion watcher: reload failed, keeping current model", "path", path, "err", err)
		return
	}
	w.lastHash = hash
	w.logger.Info("emotion model reloaded", "path", path, "hash", hash[:8])
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
