package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultPeriod = 200 * time.Millisecond

// Evaluator is the set of watchdogs driven by the scheduler.
type Evaluator interface {
	Active() bool
	UpdateAll() int
}

// PassObserver is told about every completed evaluation pass.
type PassObserver func(at time.Time, took time.Duration, changed int)

// IdleObserver is told about every tick skipped because nothing is active.
type IdleObserver func(at time.Time)

type Scheduler struct {
	target    Evaluator
	period    time.Duration
	now       func() time.Time
	logger    *zap.Logger
	observers []PassObserver
	idle      []IdleObserver

	mu       sync.Mutex
	lastPass time.Time
	passes   uint64
	running  bool
}

type Option func(*Scheduler)

func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithPassObserver(fn PassObserver) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

func WithIdleObserver(fn IdleObserver) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.idle = append(s.idle, fn)
		}
	}
}

func New(target Evaluator, opts ...Option) *Scheduler {
	s := &Scheduler{
		target: target,
		period: DefaultPeriod,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	return s
}

func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Start runs evaluation passes every period until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	if !s.target.Active() {
		s.setRunning(false)
		for _, fn := range s.idle {
			fn(now)
		}
		return
	}
	s.setRunning(true)

	changed := s.target.UpdateAll()
	took := s.now().Sub(now)

	s.mu.Lock()
	s.lastPass = now
	s.passes++
	s.mu.Unlock()

	for _, fn := range s.observers {
		fn(now, took, changed)
	}
}

// setRunning logs start/stop edges; the timer keeps ticking but passes are
// skipped while there is nothing to watch.
func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	changed := s.running != running
	s.running = running
	s.mu.Unlock()

	if !changed {
		return
	}
	if running {
		s.logger.Info("evaluation started", zap.Duration("period", s.period))
	} else {
		s.logger.Info("evaluation paused: no watchdogs registered")
	}
}

// LastPass returns the time of the most recent evaluation pass.
func (s *Scheduler) LastPass() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPass
}

func (s *Scheduler) Passes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}
