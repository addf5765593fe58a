package catalog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher re-imports catalog files when they change on disk.
type Watcher struct {
	roots       []string
	extensions  []string
	onChange    func(path string)
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must stay quiet before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots (recursively). onChange is called
// once per burst of writes to a file whose extension is in extensions.
func NewWatcher(roots, extensions []string, onChange func(path string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		roots:       roots,
		extensions:  extensions,
		onChange:    onChange,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WatchImporter returns a watcher that feeds changed files to im.
func WatchImporter(ctx context.Context, im *Importer, roots []string, opts ...WatcherOption) *Watcher {
	w := NewWatcher(roots, im.Extensions(), nil, opts...)
	w.onChange = func(path string) {
		stats, err := im.ImportFile(ctx, path)
		if err != nil {
			w.logger.Warn("Catalog re-import failed", zap.String("path", path), zap.Error(err))
			return
		}
		w.logger.Info("Catalog re-imported",
			zap.String("path", path),
			zap.Int("businesses", stats.Businesses))
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	for _, root := range w.roots {
		if err := w.addTreeLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.logger.Debug("Catalog watcher started", zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions))
	events, errs := watcher.Events, watcher.Errors
	w.mu.Unlock()

	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Debug("Catalog watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			w.cancelDebounce(path)
		}
		return
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		w.mu.Lock()
		if w.watcher != nil {
			if err := w.addTreeLocked(path); err != nil {
				w.logger.Debug("Catalog watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
		}
		w.mu.Unlock()
		w.syncDirectory(path)
		return
	}
	if matchExtension(path, w.extensions) {
		w.schedule(path)
	}
}

func (w *Watcher) addTreeLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// syncDirectory schedules every catalog file already present in dir.
func (w *Watcher) syncDirectory(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.schedule(path)
		}
		return nil
	})
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		onChange := w.onChange
		w.mu.Unlock()
		if onChange != nil {
			onChange(path)
		}
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// Directories returns a copy of the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops the watcher and drops pending re-imports.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
