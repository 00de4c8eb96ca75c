package persist

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pingsantohq/watchdog/internal/watchdog"
	"github.com/pingsantohq/watchdog/pkg/types"
)

const DefaultSaveDelay = 500 * time.Millisecond

// Lister enumerates the watchdogs to persist. The registry implements it.
type Lister interface {
	All() []*watchdog.Watchdog
}

// SaveObserver is told the outcome of every save attempt.
type SaveObserver func(at time.Time, err error)

// Snapshotter writes the registry to a Store a short delay after the last
// change. Saves are skipped when the encoded records did not change, so
// status flips do not rewrite the store.
type Snapshotter struct {
	store    Store
	source   Lister
	delay    time.Duration
	now      func() time.Time
	logger   *zap.Logger
	observer SaveObserver

	mu      sync.Mutex
	timer   *time.Timer
	last    []Record
	saved   bool
	stopped bool

	saveMu sync.Mutex
}

type SnapshotterOption func(*Snapshotter)

func WithSaveDelay(d time.Duration) SnapshotterOption {
	return func(s *Snapshotter) {
		if d > 0 {
			s.delay = d
		}
	}
}

func WithSaveObserver(fn SaveObserver) SnapshotterOption {
	return func(s *Snapshotter) {
		s.observer = fn
	}
}

func WithSnapshotterLogger(logger *zap.Logger) SnapshotterOption {
	return func(s *Snapshotter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSnapshotterNow(now func() time.Time) SnapshotterOption {
	return func(s *Snapshotter) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSnapshotter(store Store, source Lister, opts ...SnapshotterOption) *Snapshotter {
	s := &Snapshotter{
		store:  store,
		source: source,
		delay:  DefaultSaveDelay,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("snapshotter")
	return s
}

// MarkSaved records the state already in the store so that an unchanged
// registry is not written back right after a restore.
func (s *Snapshotter) MarkSaved(records []Record) {
	s.saveMu.Lock()
	s.last = append([]Record(nil), records...)
	s.saved = true
	s.saveMu.Unlock()
}

// Trigger schedules a save after the configured delay, restarting the delay
// when a save is already pending.
func (s *Snapshotter) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.delay)
		return
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Warn("save watchdog state failed", zap.Error(err))
		}
	})
}

// PublishSnapshot lets the snapshotter sit behind the notifier: every
// watchdog change schedules a save.
func (s *Snapshotter) PublishSnapshot(types.WatchdogSnapshot) { s.Trigger() }

func (s *Snapshotter) Forget(string) { s.Trigger() }

// Flush encodes every watchdog and saves the result if it differs from the
// last successful save. Watchdogs that cannot be encoded are logged and left
// out so the rest are still saved.
func (s *Snapshotter) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	var watchdogs []*watchdog.Watchdog
	if s.source != nil {
		watchdogs = s.source.All()
	}
	records := make([]Record, 0, len(watchdogs))
	for _, w := range watchdogs {
		rec, err := Encode(w)
		if err != nil {
			s.logger.Warn("watchdog not saved", zap.String("watchdog", w.ID()), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	if s.saved && reflect.DeepEqual(normalize(records), normalize(s.last)) {
		return nil
	}
	if err := s.store.Save(ctx, records); err != nil {
		err = fmt.Errorf("save %d watchdogs: %w", len(records), err)
		s.observe(err)
		return err
	}
	s.last = records
	s.saved = true
	s.observe(nil)
	s.logger.Debug("watchdog state saved", zap.Int("watchdogs", len(records)))
	return nil
}

// Stop cancels any pending save and writes the final state.
func (s *Snapshotter) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}

func (s *Snapshotter) observe(err error) {
	if s.observer != nil {
		s.observer(s.now(), err)
	}
}

func normalize(records []Record) []Record {
	if len(records) == 0 {
		return nil
	}
	return records
}
