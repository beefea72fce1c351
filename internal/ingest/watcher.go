package ingest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ppiankov/claimledger/internal/logging"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before it is handled
const DefaultDebounce = 300 * time.Millisecond

// HandleFunc processes one settled draft file
type HandleFunc func(ctx context.Context, path string) error

// Watcher hands draft files dropped into a directory to a handler
// Bursts of writes to one file are coalesced into a single call.
type Watcher struct {
	dir      string
	handle   HandleFunc
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher creates a watcher for dir; debounce <= 0 uses DefaultDebounce
func NewWatcher(dir string, debounce time.Duration, handle HandleFunc, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		handle:   handle,
		debounce: debounce,
		logger:   logging.OrNop(logger).Named("watch"),
		pending:  make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled
// Handler errors are logged and never stop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for drafts", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !IsDraftFile(ev.Name) {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case now := <-ticker.C:
			for _, path := range w.settled(now) {
				if err := w.handle(ctx, path); err != nil {
					w.logger.Warn("draft file rejected", zap.String("file", path), zap.Error(err))
				}
			}
		}
	}
}

// settled removes and returns the files that have been quiet for the debounce period
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}
