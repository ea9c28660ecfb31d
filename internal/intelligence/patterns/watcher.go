package patterns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
)

// ErrEmptyReload is returned when a reload yields no usable pattern; the
// previous library stays in service.
var ErrEmptyReload = fmt.Errorf("patterns: reload produced an empty library")

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads catalogs from disk when they change and publishes the result
// through a Holder.
type Watcher struct {
	holder   *Holder
	paths    []string
	loadOpts []LoadOption
	debounce time.Duration
	logger   logging.Logger
	onReload func(*Library, []LoadError)
	extra    func() ([]Source, error)

	mu sync.Mutex // serialises reloads
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload. Editors often emit
// several events per save.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithLoadOptions forwards options to every Load.
func WithLoadOptions(opts ...LoadOption) WatcherOption {
	return func(w *Watcher) { w.loadOpts = append(w.loadOpts, opts...) }
}

// OnReload registers a callback invoked after every successful swap.
func OnReload(fn func(*Library, []LoadError)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// WithExtraSources adds catalogs that are not on disk, such as object store
// catalogs, to every reload.
func WithExtraSources(fn func() ([]Source, error)) WatcherOption {
	return func(w *Watcher) { w.extra = fn }
}

// NewWatcher watches paths (files or directories) and publishes into holder.
func NewWatcher(holder *Holder, paths []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		holder:   holder,
		paths:    append([]string(nil), paths...),
		debounce: defaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = logging.OrNop(w.logger).Named("pattern-watcher")
	return w
}

// Reload loads the configured paths once and swaps the result in.
func (w *Watcher) Reload() (*Library, []LoadError, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sources, err := FromPaths(w.paths...)
	if err != nil {
		return nil, nil, err
	}
	if w.extra != nil {
		more, err := w.extra()
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, more...)
	}
	lib, errs := Load(sources, w.loadOpts...)
	if lib.Len() == 0 {
		w.logger.Warn("pattern reload rejected, keeping previous library",
			logging.Int("rejected", len(errs)),
			logging.Int("current_patterns", w.holder.Library().Len()))
		return nil, errs, ErrEmptyReload
	}
	prev := w.holder.Swap(lib)
	w.logger.Info("pattern library swapped",
		logging.Int("previous", prev.Len()),
		logging.Int("current", lib.Len()),
		logging.Int("rejected", len(errs)))
	if w.onReload != nil {
		w.onReload(lib, errs)
	}
	return lib, errs, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("patterns: create watcher: %w", err)
	}
	defer fw.Close()

	for _, p := range w.paths {
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("patterns: watch %s: %w", p, err)
		}
	}
	w.logger.Info("watching pattern catalogs", logging.Strings("paths", w.paths))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, isCatalog := FormatFromPath(ev.Name); !isCatalog {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if _, _, err := w.Reload(); err != nil {
				w.logger.Warn("pattern reload failed", logging.Err(err))
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("pattern watcher error", logging.Err(err))
		}
	}
}

//Personal.AI order the ending
