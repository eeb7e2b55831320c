// Package watch re-runs the pipeline when files it depends on change.
//
// The watcher observes the directories holding every watched file recorded by
// the pipeline plus a fixed set of extra paths (the configuration file and
// the target directories). Events are debounced so an editor saving several
// files produces a single rebuild. Each rebuild refreshes the watched set,
// since new includes add new dependencies.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/pkg/types"
)

// DefaultDebounce is the quiet period before a rebuild starts.
const DefaultDebounce = 300 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Files returns the current watched set. It is called at start and after
	// every rebuild.
	Files func(ctx context.Context) ([]string, error)
	// Extra paths are always watched. A directory matches any C/C++ file
	// created or changed directly inside it.
	Extra []string
	// Rebuild is called with the sorted paths that changed.
	Rebuild  func(ctx context.Context, changed []string) error
	Debounce time.Duration
	Logger   *zap.Logger
}

// Stats counts watcher activity.
type Stats struct {
	Events      int
	Rebuilds    int
	Errors      int
	LastChanged []string
}

// Watcher is an fsnotify-backed rebuild loop.
type Watcher struct {
	opts    Options
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	files     map[string]bool
	extraDirs map[string]bool
	dirs      map[string]bool
	pending   map[string]bool
	lastEvent time.Time
	stats     Stats
	running   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher. Start begins watching.
func New(opts Options) (*Watcher, error) {
	if opts.Files == nil || opts.Rebuild == nil {
		return nil, errors.New("watch: Files and Rebuild are required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		opts:      opts,
		logger:    logger,
		watcher:   fw,
		files:     make(map[string]bool),
		extraDirs: make(map[string]bool),
		dirs:      make(map[string]bool),
		pending:   make(map[string]bool),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start registers the initial watch set and runs the event loop in a
// goroutine until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, p := range w.opts.Extra {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			w.logger.Warn("watch: extra path not found", zap.String("path", abs), zap.Error(err))
			continue
		}
		if info.IsDir() {
			w.extraDirs[abs] = true
			w.addDir(abs)
		} else {
			w.files[abs] = true
			w.addDir(filepath.Dir(abs))
		}
	}
	if err := w.refresh(ctx); err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the fsnotify handle.
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
		w.logger.Error("watch: close failed", zap.Error(err))
	}
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.LastChanged = append([]string(nil), s.LastChanged...)
	return s
}

// WatchedDirs lists the directories registered with fsnotify.
func (w *Watcher) WatchedDirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.opts.Debounce / 4
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
			w.logger.Error("watch: fsnotify error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.relevant(path) {
		return
	}
	w.logger.Debug("watch: change", zap.String("path", path), zap.String("op", event.Op.String()))
	w.stats.Events++
	w.pending[path] = true
	w.lastEvent = time.Now()
}

// relevant reports whether path is watched. Callers hold mu.
func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	if !w.extraDirs[filepath.Dir(path)] {
		return false
	}
	return types.IsSource(path) || types.IsHeader(path)
}

// flush runs a rebuild once events have settled for the debounce period.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 || time.Since(w.lastEvent) < w.opts.Debounce {
		w.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()
	sort.Strings(changed)

	w.logger.Info("watch: rebuilding", zap.Strings("changed", changed))
	err := w.opts.Rebuild(ctx, changed)

	w.mu.Lock()
	w.stats.Rebuilds++
	w.stats.LastChanged = changed
	if err != nil {
		w.stats.Errors++
	}
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("watch: rebuild failed", zap.Error(err))
	}
	if err := w.refresh(ctx); err != nil {
		w.logger.Warn("watch: refreshing watched files failed", zap.Error(err))
	}
}

// refresh reloads the watched set and registers any new directories.
func (w *Watcher) refresh(ctx context.Context) error {
	files, err := w.opts.Files(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		w.mu.Lock()
		w.files[abs] = true
		w.mu.Unlock()
		w.addDir(filepath.Dir(abs))
	}
	return nil
}

func (w *Watcher) addDir(dir string) {
	w.mu.Lock()
	seen := w.dirs[dir]
	w.mu.Unlock()
	if seen {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("watch: cannot watch directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.dirs[dir] = true
	w.mu.Unlock()
	w.logger.Debug("watch: watching directory", zap.String("dir", dir))
}
