package sources

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 20 * time.Millisecond

var ErrWatcherClosed = errors.New("file watcher closed")

// Sink receives source activity. The registry implements it.
type Sink interface {
	OnSourceChanged(sourceID string, ts time.Time) int
	OnSourceRemoved(sourceID string) int
}

// FileSource is a source whose file writes count as heartbeats.
type FileSource struct {
	ID   string
	Path string
}

type pendingEvent struct {
	timer   *time.Timer
	removed bool
	ts      time.Time
}

// FileWatcher turns filesystem notifications on tracked files into source
// heartbeats. Parent directories are watched so that files replaced by
// rename keep being tracked.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	sink     Sink
	logger   *zap.Logger
	now      func() time.Time
	debounce time.Duration

	mu      sync.Mutex
	paths   map[string]string // clean path -> source ID
	dirs    map[string]int    // watched dir -> tracked file count
	pending map[string]*pendingEvent
	closed  bool
}

type FileWatcherOption func(*FileWatcher)

func WithDebounce(d time.Duration) FileWatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithFileWatcherLogger(logger *zap.Logger) FileWatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithFileWatcherNow(now func() time.Time) FileWatcherOption {
	return func(w *FileWatcher) {
		if now != nil {
			w.now = now
		}
	}
}

func NewFileWatcher(sink Sink, opts ...FileWatcherOption) (*FileWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &FileWatcher{
		watcher:  fw,
		sink:     sink,
		logger:   zap.NewNop(),
		now:      time.Now,
		debounce: DefaultDebounce,
		paths:    make(map[string]string),
		dirs:     make(map[string]int),
		pending:  make(map[string]*pendingEvent),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("filewatcher")
	return w, nil
}

// Watch starts tracking src.Path. The file itself need not exist yet.
func (w *FileWatcher) Watch(src FileSource) error {
	path := filepath.Clean(src.Path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if id, ok := w.paths[path]; ok {
		return fmt.Errorf("watch %q for %q: already tracked for %q", path, src.ID, id)
	}
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch dir %q: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.paths[path] = src.ID
	w.logger.Debug("tracking file source", zap.String("source", src.ID), zap.String("path", path))
	return nil
}

// Unwatch stops tracking every path registered for sourceID.
func (w *FileWatcher) Unwatch(sourceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, id := range w.paths {
		if id != sourceID {
			continue
		}
		delete(w.paths, path)
		if p, ok := w.pending[path]; ok {
			p.timer.Stop()
			delete(w.pending, path)
		}
		dir := filepath.Dir(path)
		w.dirs[dir]--
		if w.dirs[dir] <= 0 {
			delete(w.dirs, dir)
			if !w.closed {
				_ = w.watcher.Remove(dir)
			}
		}
	}
}

// Run forwards notifications until ctx is cancelled, then closes the watcher.
func (w *FileWatcher) Run(ctx context.Context) error {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (w *FileWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *FileWatcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	var removed bool
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		removed = true
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create), ev.Has(fsnotify.Chmod):
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, ok := w.paths[path]; !ok {
		return
	}

	// The last event within the debounce window wins, so a remove followed
	// by a create (atomic replace) is a heartbeat.
	p, ok := w.pending[path]
	if !ok {
		p = &pendingEvent{}
		p.timer = time.AfterFunc(w.debounce, func() { w.flush(path) })
		w.pending[path] = p
	} else {
		p.timer.Reset(w.debounce)
	}
	p.removed = removed
	p.ts = w.now()
}

func (w *FileWatcher) flush(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	p, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	id, tracked := w.paths[path]
	w.mu.Unlock()

	if !tracked || w.sink == nil {
		return
	}
	if p.removed {
		n := w.sink.OnSourceRemoved(id)
		w.logger.Info("file source removed", zap.String("source", id), zap.String("path", path), zap.Int("entries", n))
		return
	}
	w.sink.OnSourceChanged(id, p.ts)
}
