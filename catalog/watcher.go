package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a catalog into a Store when its local source files change.
// A failed reload is logged and the previous catalog stays in place.
type Watcher struct {
	store    *Store
	source   Source
	loadOpts []Option
	debounce time.Duration
	onReload func(*Catalog, error)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	paths    map[string]struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher) error

// WatchLogger sets a custom logger.
// Default is slog.Default().
func WatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// WatchDebounce sets how long the watcher waits for writes to settle.
// Default is 250ms.
func WatchDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) error {
		if d <= 0 {
			return fmt.Errorf("debounce must be positive, got %s", d)
		}
		w.debounce = d
		return nil
	}
}

// WatchHook registers a function called after every reload attempt.
// The catalog is nil when err is non-nil or the content was unchanged.
func WatchHook(fn func(*Catalog, error)) WatchOption {
	return func(w *Watcher) error {
		w.onReload = fn
		return nil
	}
}

// WatchLoadOptions sets the options passed to Load on each reload.
func WatchLoadOptions(opts ...Option) WatchOption {
	return func(w *Watcher) error {
		w.loadOpts = opts
		return nil
	}
}

// NewWatcher creates a watcher for the local files named by src.
// Remote locations are not watched.
func NewWatcher(store *Store, src Source, opts ...WatchOption) (*Watcher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if src.CSV == "" || src.Embeddings == "" {
		return nil, ErrSourceRequired
	}

	w := &Watcher{
		store:    store,
		source:   src,
		debounce: defaultDebounce,
		logger:   slog.Default(),
		paths:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "catalog-watcher")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch directories rather than files so atomic renames are seen.
	dirs := make(map[string]struct{})
	for _, loc := range []string{src.CSV, src.Embeddings} {
		if IsRemote(loc) {
			continue
		}
		abs, err := filepath.Abs(loc)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.paths[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.watcher = fw
	return w, nil
}

// Run processes file events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.isSource(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("source changed", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "err", err)
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) isSource(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	_, ok := w.paths[abs]
	return ok
}

func (w *Watcher) reload(ctx context.Context) {
	next, err := Load(ctx, w.source, w.loadOpts...)
	if err != nil {
		w.logger.Error("catalog reload failed, keeping previous catalog", "err", err)
		w.notify(nil, err)
		return
	}

	if prev, err := w.store.Current(); err == nil && prev.Fingerprint() == next.Fingerprint() {
		w.logger.Debug("catalog sources unchanged", "fingerprint", next.Fingerprint())
		w.notify(nil, nil)
		return
	}

	w.store.Replace(next)
	w.logger.Info("catalog reloaded", "records", next.RecordCount(), "embeddings", next.Len(),
		"fingerprint", next.Fingerprint())
	w.notify(next, nil)
}

func (w *Watcher) notify(c *Catalog, err error) {
	if w.onReload != nil {
		w.onReload(c, err)
	}
}
