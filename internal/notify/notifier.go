package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pingsantohq/watchdog/internal/events"
	"github.com/pingsantohq/watchdog/internal/registry"
	"github.com/pingsantohq/watchdog/internal/watchdog"
	"github.com/pingsantohq/watchdog/pkg/types"
)

// SnapshotSink receives the full state of a watchdog after every change.
// Implementations must not block.
type SnapshotSink interface {
	PublishSnapshot(snap types.WatchdogSnapshot)
	Forget(watchdogID string)
}

// TransitionFunc is called for every entry status flip.
type TransitionFunc func(watchdogID string, upToDate bool)

type entryState int

const (
	stateUnknown entryState = iota
	stateStale
	stateUpToDate
)

type tracked struct {
	cancel func()
	states map[string]entryState
}

// Notifier turns watchdog modified signals into events and snapshot
// deliveries. Each signal is handled by pulling a fresh snapshot and
// diffing it against the state seen at the previous signal.
type Notifier struct {
	recorder    events.Recorder
	sinks       []SnapshotSink
	transitions []TransitionFunc
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	tracked map[string]*tracked
}

type Option func(*Notifier)

func WithSinks(sinks ...SnapshotSink) Option {
	return func(n *Notifier) {
		n.sinks = append(n.sinks, sinks...)
	}
}

func WithTransitionFunc(fn TransitionFunc) Option {
	return func(n *Notifier) {
		if fn != nil {
			n.transitions = append(n.transitions, fn)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

func New(recorder events.Recorder, opts ...Option) *Notifier {
	if recorder == nil {
		recorder = events.NoopRecorder{}
	}
	n := &Notifier{
		recorder: recorder,
		logger:   zap.NewNop(),
		now:      time.Now,
		tracked:  make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.Named("notifier")
	return n
}

// Watch attaches every watchdog in reg, now and as they are added, and
// detaches them on removal. The returned function stops watching.
func (n *Notifier) Watch(reg *registry.Registry) func() {
	cancel := reg.Subscribe(func(change registry.Change) {
		switch change.Type {
		case registry.ChangeAdded:
			n.Attach(change.Watchdog)
		case registry.ChangeRemoved:
			n.Detach(change.Watchdog.ID())
		}
	})
	for _, w := range reg.All() {
		n.Attach(w)
	}
	return func() {
		cancel()
		for _, w := range reg.All() {
			n.Detach(w.ID())
		}
	}
}

// Attach subscribes to w and publishes its current snapshot. Entries
// present at attach time have no known status until their first flip.
func (n *Notifier) Attach(w *watchdog.Watchdog) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.tracked[w.ID()]; ok {
		return
	}

	snap := w.Snapshot()
	t := &tracked{states: make(map[string]entryState, len(snap.Entries))}
	for _, e := range snap.Entries {
		t.states[e.SourceID] = stateUnknown
	}
	n.tracked[w.ID()] = t
	t.cancel = w.Subscribe(n.handle)

	for _, sink := range n.sinks {
		sink.PublishSnapshot(snap)
	}
	n.logger.Debug("watchdog attached", zap.String("watchdog", w.ID()), zap.Int("entries", len(snap.Entries)))
}

func (n *Notifier) Detach(watchdogID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.tracked[watchdogID]
	if !ok {
		return
	}
	t.cancel()
	delete(n.tracked, watchdogID)
	for _, sink := range n.sinks {
		sink.Forget(watchdogID)
	}
	n.logger.Debug("watchdog detached", zap.String("watchdog", watchdogID))
}

func (n *Notifier) handle(w *watchdog.Watchdog) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.tracked[w.ID()]
	if !ok {
		return
	}

	snap := w.Snapshot()
	ts := n.now().UTC()
	next := make(map[string]entryState, len(snap.Entries))
	flips, stale := 0, 0

	for _, e := range snap.Entries {
		prev, known := t.states[e.SourceID]
		if !known {
			n.recorder.Record(entryEvent(types.EventEntryAdded, ts, snap, e))
			prev = stateUnknown
		}
		if !e.UpToDate {
			stale++
		}
		// A cleared flag within tolerance means the entry has not been
		// evaluated since it was added; keep what was known before.
		cur := prev
		switch {
		case e.UpToDate:
			cur = stateUpToDate
		case e.ElapsedSec > e.Tolerance:
			cur = stateStale
		}
		switch {
		case prev == cur, prev == stateUnknown && cur == stateUpToDate:
		case cur == stateStale:
			n.recorder.Record(entryEvent(types.EventEntryStale, ts, snap, e))
			n.transition(snap.ID, false)
			flips++
		case cur == stateUpToDate:
			n.recorder.Record(entryEvent(types.EventEntryRecovered, ts, snap, e))
			n.transition(snap.ID, true)
			flips++
		}
		next[e.SourceID] = cur
	}

	for sourceID := range t.states {
		if _, ok := next[sourceID]; !ok {
			n.recorder.Record(types.Event{
				Type:       types.EventEntryRemoved,
				Timestamp:  ts,
				WatchdogID: snap.ID,
				SourceID:   sourceID,
			})
		}
	}
	t.states = next

	if flips > 0 {
		n.recorder.Record(types.Event{
			Type:       types.EventStatusChanged,
			Timestamp:  ts,
			WatchdogID: snap.ID,
			Labels:     map[string]string{"watchdog_name": snap.Name},
			Details: map[string]any{
				"entries": len(snap.Entries),
				"stale":   stale,
				"flipped": flips,
			},
		})
	}

	for _, sink := range n.sinks {
		sink.PublishSnapshot(snap)
	}
}

func (n *Notifier) transition(watchdogID string, upToDate bool) {
	for _, fn := range n.transitions {
		fn(watchdogID, upToDate)
	}
}

func entryEvent(typ types.EventType, ts time.Time, snap types.WatchdogSnapshot, e types.EntryStatus) types.Event {
	return types.Event{
		Type:       typ,
		Timestamp:  ts,
		WatchdogID: snap.ID,
		SourceID:   e.SourceID,
		Labels: map[string]string{
			"label":         e.Label,
			"source_name":   e.SourceName,
			"watchdog_name": snap.Name,
		},
		Details: map[string]any{
			"index":         e.Index,
			"elapsed_sec":   e.ElapsedSec,
			"tolerance_sec": e.Tolerance,
			"play_sound":    e.PlaySound,
		},
	}
}
