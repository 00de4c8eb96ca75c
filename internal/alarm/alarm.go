package alarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/watchdog/internal/events"
	"github.com/pingsantohq/watchdog/pkg/types"
)

const (
	DefaultMinInterval = 5 * time.Second
	DefaultPlayTimeout = 10 * time.Second
	queueSize          = 16
)

// Player makes an entry's staleness audible.
type Player interface {
	Play(ctx context.Context, event types.Event) error
}

// BellPlayer writes the terminal bell.
type BellPlayer struct {
	W io.Writer
}

func (b BellPlayer) Play(ctx context.Context, event types.Event) error {
	if b.W == nil {
		return errors.New("bell player: nil writer")
	}
	_, err := b.W.Write([]byte{'\a'})
	return err
}

// CommandPlayer runs an external command, such as a sound player.
type CommandPlayer struct {
	Command []string
	Timeout time.Duration
}

func (c CommandPlayer) Play(ctx context.Context, event types.Event) error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.New("command player: empty command")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultPlayTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Env = append(cmd.Environ(),
		"WATCHDOG_ID="+event.WatchdogID,
		"WATCHDOG_SOURCE="+event.SourceID,
		"WATCHDOG_LABEL="+event.Labels["label"],
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("run %q: %w (output %q)", c.Command[0], err, out)
	}
	return nil
}

// Alarm is an events.Recorder that plays a sound when an entry with
// play_sound set goes stale. Alarms per source are limited to one per
// MinInterval; playback happens on the Run goroutine.
type Alarm struct {
	player      Player
	minInterval time.Duration
	downstream  events.Recorder
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	queue chan types.Event
}

type Option func(*Alarm)

func WithMinInterval(d time.Duration) Option {
	return func(a *Alarm) {
		if d > 0 {
			a.minInterval = d
		}
	}
}

// WithRecorder receives an Alarm event for every played alarm.
func WithRecorder(rec events.Recorder) Option {
	return func(a *Alarm) {
		if rec != nil {
			a.downstream = rec
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Alarm) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(a *Alarm) {
		if now != nil {
			a.now = now
		}
	}
}

func New(player Player, opts ...Option) *Alarm {
	a := &Alarm{
		player:      player,
		minInterval: DefaultMinInterval,
		downstream:  events.NoopRecorder{},
		logger:      zap.NewNop(),
		now:         time.Now,
		limiters:    make(map[string]*rate.Limiter),
		queue:       make(chan types.Event, queueSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("alarm")
	return a
}

func (a *Alarm) Record(event types.Event) {
	if event.Type != types.EventEntryStale {
		return
	}
	if play, _ := event.Details["play_sound"].(bool); !play {
		return
	}
	if !a.allow(event.WatchdogID + "/" + event.SourceID) {
		a.logger.Debug("alarm suppressed", zap.String("source", event.SourceID))
		return
	}
	select {
	case a.queue <- event:
	default:
		a.logger.Warn("alarm queue full, dropping", zap.String("source", event.SourceID))
	}
}

func (a *Alarm) allow(key string) bool {
	a.mu.Lock()
	lim, ok := a.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(a.minInterval), 1)
		a.limiters[key] = lim
	}
	a.mu.Unlock()
	return lim.AllowN(a.now(), 1)
}

// Run plays queued alarms until ctx is cancelled.
func (a *Alarm) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-a.queue:
			a.play(ctx, event)
		}
	}
}

func (a *Alarm) play(ctx context.Context, event types.Event) {
	if a.player == nil {
		return
	}
	err := a.player.Play(ctx, event)
	details := map[string]any{"trigger": string(event.Type)}
	if err != nil {
		details["error"] = err.Error()
		a.logger.Warn("play alarm failed", zap.String("source", event.SourceID), zap.Error(err))
	}
	a.downstream.Record(types.Event{
		Type:       types.EventAlarm,
		Timestamp:  a.now().UTC(),
		WatchdogID: event.WatchdogID,
		SourceID:   event.SourceID,
		Labels:     event.Labels,
		Details:    details,
	})
}
