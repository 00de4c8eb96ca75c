package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pingsantohq/watchdog/internal/alarm"
	"github.com/pingsantohq/watchdog/internal/config"
	"github.com/pingsantohq/watchdog/internal/events"
	"github.com/pingsantohq/watchdog/internal/health"
	"github.com/pingsantohq/watchdog/internal/metrics"
	"github.com/pingsantohq/watchdog/internal/notify"
	"github.com/pingsantohq/watchdog/internal/persist"
	"github.com/pingsantohq/watchdog/internal/registry"
	"github.com/pingsantohq/watchdog/internal/scheduler"
	"github.com/pingsantohq/watchdog/internal/sources"
	"github.com/pingsantohq/watchdog/internal/watchdog"
	"github.com/pingsantohq/watchdog/pkg/types"
)

const stopTimeout = 5 * time.Second

type Option func(*runtimeConfig)

type runtimeConfig struct {
	logger        *zap.Logger
	now           func() time.Time
	period        time.Duration
	schedulerOpts []scheduler.Option
	historySize   int
	metrics       *metrics.Collector
	sinks         []notify.SnapshotSink
	store         persist.Store
	saveDelay     time.Duration
	player        alarm.Player
	alarmInterval time.Duration
	fileDebounce  time.Duration
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *runtimeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *runtimeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func WithPeriod(d time.Duration) Option {
	return func(c *runtimeConfig) {
		if d > 0 {
			c.period = d
		}
	}
}

func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(c *runtimeConfig) {
		c.schedulerOpts = append(c.schedulerOpts, opts...)
	}
}

func WithEventHistory(size int) Option {
	return func(c *runtimeConfig) {
		c.historySize = size
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *runtimeConfig) {
		c.metrics = m
	}
}

// WithSinks adds snapshot consumers such as the stream hub.
func WithSinks(sinks ...notify.SnapshotSink) Option {
	return func(c *runtimeConfig) {
		c.sinks = append(c.sinks, sinks...)
	}
}

// WithStore persists watchdogs, saving delay after the last change.
func WithStore(store persist.Store, delay time.Duration) Option {
	return func(c *runtimeConfig) {
		c.store = store
		c.saveDelay = delay
	}
}

func WithAlarm(player alarm.Player, minInterval time.Duration) Option {
	return func(c *runtimeConfig) {
		c.player = player
		c.alarmInterval = minInterval
	}
}

func WithFileDebounce(d time.Duration) Option {
	return func(c *runtimeConfig) {
		c.fileDebounce = d
	}
}

// Runtime wires the watchdog registry to its evaluation timer and to every
// consumer of watchdog changes.
type Runtime struct {
	logger *zap.Logger
	now    func() time.Time

	registry    *registry.Registry
	catalog     *sources.Catalog
	scheduler   *scheduler.Scheduler
	notifier    *notify.Notifier
	history     *events.Ring
	recorder    events.Recorder
	metrics     *metrics.Collector
	checker     *health.Checker
	store       persist.Store
	snapshotter *persist.Snapshotter
	alarm       *alarm.Alarm

	fileDebounce time.Duration
	filesMu      sync.Mutex
	files        *sources.FileWatcher
}

func New(opts ...Option) *Runtime {
	cfg := runtimeConfig{
		logger: zap.NewNop(),
		now:    time.Now,
		period: scheduler.DefaultPeriod,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.NewCollector()
	}

	r := &Runtime{
		logger:       cfg.logger,
		now:          cfg.now,
		registry:     registry.New(),
		catalog:      sources.NewCatalog(),
		history:      events.NewRing(cfg.historySize),
		metrics:      cfg.metrics,
		store:        cfg.store,
		fileDebounce: cfg.fileDebounce,
	}
	r.checker = health.NewChecker(r.metrics, cfg.period, r.registry.Active)

	schedOpts := append([]scheduler.Option{
		scheduler.WithPeriod(cfg.period),
		scheduler.WithNow(cfg.now),
		scheduler.WithLogger(cfg.logger),
		scheduler.WithPassObserver(r.metrics.ObservePass),
		scheduler.WithPassObserver(r.checker.ObservePass),
		scheduler.WithIdleObserver(r.checker.ObserveIdle),
	}, cfg.schedulerOpts...)
	r.scheduler = scheduler.New(r.registry, schedOpts...)

	logged := events.NewMulti(r.history, events.NewLogRecorder(cfg.logger))
	recorder := events.Recorder(logged)
	if cfg.player != nil {
		r.alarm = alarm.New(cfg.player,
			alarm.WithMinInterval(cfg.alarmInterval),
			alarm.WithRecorder(logged),
			alarm.WithLogger(cfg.logger),
			alarm.WithNow(cfg.now))
		recorder = events.NewMulti(logged, r.alarm)
	}

	r.recorder = recorder

	sinks := append([]notify.SnapshotSink{r.metrics}, cfg.sinks...)
	if r.store != nil {
		r.snapshotter = persist.NewSnapshotter(r.store, r.registry,
			persist.WithSaveDelay(cfg.saveDelay),
			persist.WithSaveObserver(r.checker.ObserveStateSave),
			persist.WithSnapshotterLogger(cfg.logger),
			persist.WithSnapshotterNow(cfg.now))
		sinks = append(sinks, r.snapshotter)
	}

	r.notifier = notify.New(recorder,
		notify.WithSinks(sinks...),
		notify.WithTransitionFunc(r.metrics.ObserveTransition),
		notify.WithLogger(cfg.logger),
		notify.WithNow(cfg.now))
	r.notifier.Watch(r.registry)
	return r
}

func (r *Runtime) Registry() *registry.Registry { return r.registry }
func (r *Runtime) Catalog() *sources.Catalog    { return r.catalog }
func (r *Runtime) Events() *events.Ring         { return r.history }
func (r *Runtime) Metrics() *metrics.Collector  { return r.metrics }
func (r *Runtime) Health() *health.Checker      { return r.checker }

// WatchdogOptions are the options every watchdog of this runtime is built with.
func (r *Runtime) WatchdogOptions() []watchdog.Option {
	return []watchdog.Option{watchdog.WithNow(r.now), watchdog.WithLogger(r.logger)}
}

// Restore loads persisted watchdogs into the registry. Watchdogs whose name
// is already registered are left alone.
func (r *Runtime) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	watchdogs, err := persist.Restore(ctx, r.store, r.catalog.Resolve, r.WatchdogOptions()...)
	if err != nil && watchdogs == nil {
		return err
	}
	if err != nil {
		r.logger.Warn("restored watchdogs with skipped entries", zap.Error(err))
	}

	var (
		errs  []error
		saved []persist.Record
	)
	for _, w := range watchdogs {
		if err := r.registry.Add(w); err != nil {
			errs = append(errs, err)
			continue
		}
		if rec, err := persist.Encode(w); err == nil {
			saved = append(saved, rec)
		}
	}
	if r.snapshotter != nil {
		r.snapshotter.MarkSaved(saved)
	}
	r.logger.Info("watchdog state restored", zap.Int("watchdogs", len(saved)))
	return errors.Join(errs...)
}

// Seed registers configured sources and creates configured watchdogs that
// are not already present by name.
func (r *Runtime) Seed(srcs []config.SourceConfig, wds []config.WatchdogConfig) error {
	for _, sc := range srcs {
		r.catalog.Ensure(sc.ID, sc.Name)
		if sc.Path == "" {
			continue
		}
		if err := r.WatchFile(sources.FileSource{ID: sc.ID, Path: sc.Path}); err != nil {
			return err
		}
	}

	for _, wc := range wds {
		if _, exists := r.registry.ByName(wc.Name); exists {
			continue
		}
		w := watchdog.New(append([]watchdog.Option{watchdog.WithName(wc.Name)}, r.WatchdogOptions()...)...)
		for _, ec := range wc.Entries {
			src, ok := r.catalog.Lookup(ec.Source)
			if !ok {
				return fmt.Errorf("seed watchdog %q: source %q not declared", wc.Name, ec.Source)
			}
			opts := []watchdog.EntryOption{watchdog.WithTolerance(ec.Tolerance), watchdog.WithPlaySound(ec.PlaySound)}
			if ec.Label != nil {
				opts = append(opts, watchdog.WithLabel(*ec.Label))
			}
			if _, err := w.Add(src, opts...); err != nil {
				return fmt.Errorf("seed watchdog %q: %w", wc.Name, err)
			}
		}
		if err := r.registry.Add(w); err != nil {
			return fmt.Errorf("seed watchdog %q: %w", wc.Name, err)
		}
	}
	return nil
}

// WatchFile turns writes to a file into heartbeats for its source.
func (r *Runtime) WatchFile(src sources.FileSource) error {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()
	if r.files == nil {
		fw, err := sources.NewFileWatcher(r,
			sources.WithDebounce(r.fileDebounce),
			sources.WithFileWatcherLogger(r.logger),
			sources.WithFileWatcherNow(r.now))
		if err != nil {
			return err
		}
		r.files = fw
	}
	return r.files.Watch(src)
}

// OnSourceChanged forwards a heartbeat to every watchdog and counts it.
func (r *Runtime) OnSourceChanged(sourceID string, ts time.Time) int {
	matched := r.registry.OnSourceChanged(sourceID, ts)
	r.metrics.ObserveHeartbeat(matched > 0)
	return matched
}

func (r *Runtime) OnSourceRemoved(sourceID string) int {
	r.filesMu.Lock()
	if r.files != nil {
		r.files.Unwatch(sourceID)
	}
	r.filesMu.Unlock()

	removed := r.registry.OnSourceRemoved(sourceID)
	r.recorder.Record(types.Event{
		Type:      types.EventSourceRemoved,
		Timestamp: r.now().UTC(),
		SourceID:  sourceID,
		Details:   map[string]any{"watchdogs": removed},
	})
	return removed
}

// Start runs the evaluation timer and background consumers until ctx is
// cancelled. The returned function waits for them and writes the final
// state.
func (r *Runtime) Start(ctx context.Context) func() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.scheduler.Start(ctx)
	}()

	if r.alarm != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.alarm.Run(ctx)
		}()
	}

	r.filesMu.Lock()
	files := r.files
	r.filesMu.Unlock()
	if files != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := files.Run(ctx); err != nil {
				r.logger.Warn("file watcher stopped", zap.Error(err))
			}
		}()
	}

	return func() {
		wg.Wait()
		r.stop()
	}
}

func (r *Runtime) stop() {
	if r.snapshotter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := r.snapshotter.Stop(ctx); err != nil {
		r.logger.Error("final state save failed", zap.Error(err))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("close state store failed", zap.Error(err))
	}
}
