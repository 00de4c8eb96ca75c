package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pingsantohq/watchdog/internal/watchdog"
)

var (
	ErrDuplicateWatchdog = errors.New("watchdog already registered")
	ErrNilWatchdog       = errors.New("nil watchdog")
)

// ChangeType distinguishes registry membership events.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
)

// Change represents a watchdog joining or leaving the registry.
type Change struct {
	Type     ChangeType
	Watchdog *watchdog.Watchdog
}

// OnChangeFunc is called after the registry membership changes.
type OnChangeFunc func(Change)

// Registry is a concurrent-safe ordered set of watchdogs.
type Registry struct {
	mu        sync.RWMutex
	watchdogs []*watchdog.Watchdog
	byID      map[string]*watchdog.Watchdog

	subMu  sync.Mutex
	subs   map[uint64]OnChangeFunc
	nextID uint64
}

func New() *Registry {
	return &Registry{
		byID: make(map[string]*watchdog.Watchdog),
		subs: make(map[uint64]OnChangeFunc),
	}
}

func (r *Registry) Add(w *watchdog.Watchdog) error {
	if w == nil {
		return ErrNilWatchdog
	}
	r.mu.Lock()
	if _, exists := r.byID[w.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("add watchdog %q: %w", w.ID(), ErrDuplicateWatchdog)
	}
	r.byID[w.ID()] = w
	r.watchdogs = append(r.watchdogs, w)
	r.mu.Unlock()

	r.notify(Change{Type: ChangeAdded, Watchdog: w})
	return nil
}

// Remove unregisters the watchdog with the given ID. No-op if not found.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	w, exists := r.byID[id]
	if exists {
		delete(r.byID, id)
		for i, candidate := range r.watchdogs {
			if candidate == w {
				r.watchdogs = append(r.watchdogs[:i], r.watchdogs[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if exists {
		r.notify(Change{Type: ChangeRemoved, Watchdog: w})
	}
	return exists
}

func (r *Registry) Get(id string) (*watchdog.Watchdog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byID[id]
	return w, ok
}

// ByName returns the first watchdog registered under name.
func (r *Registry) ByName(name string) (*watchdog.Watchdog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.watchdogs {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// All returns the registered watchdogs in registration order.
func (r *Registry) All() []*watchdog.Watchdog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*watchdog.Watchdog(nil), r.watchdogs...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchdogs)
}

// Active reports whether there is anything to evaluate.
func (r *Registry) Active() bool {
	return r.Len() > 0
}

// UpdateAll runs one evaluation pass on every watchdog and returns how many
// of them changed status.
func (r *Registry) UpdateAll() int {
	changed := 0
	for _, w := range r.All() {
		if w.UpdateStatus() {
			changed++
		}
	}
	return changed
}

// OnSourceChanged forwards a heartbeat to every watchdog and returns the
// number of watchdogs that watch the source.
func (r *Registry) OnSourceChanged(sourceID string, ts time.Time) int {
	matched := 0
	for _, w := range r.All() {
		if w.OnSourceChanged(sourceID, ts) {
			matched++
		}
	}
	return matched
}

// OnSourceRemoved drops the source from every watchdog that watches it.
func (r *Registry) OnSourceRemoved(sourceID string) int {
	removed := 0
	for _, w := range r.All() {
		if w.OnSourceRemoved(sourceID) {
			removed++
		}
	}
	return removed
}

// Subscribe registers fn for membership changes. The returned function unregisters it.
func (r *Registry) Subscribe(fn OnChangeFunc) func() {
	if fn == nil {
		return func() {}
	}
	r.subMu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) notify(change Change) {
	r.subMu.Lock()
	subs := make([]OnChangeFunc, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}
