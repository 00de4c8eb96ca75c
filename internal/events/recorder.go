package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pingsantohq/watchdog/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes every event as a structured log line.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogRecorder{logger: logger.Named("events")}
}

func (r LogRecorder) Record(event types.Event) {
	fields := []zap.Field{
		zap.String("type", string(event.Type)),
		zap.Time("ts", event.Timestamp),
	}
	if event.WatchdogID != "" {
		fields = append(fields, zap.String("watchdog", event.WatchdogID))
	}
	if event.SourceID != "" {
		fields = append(fields, zap.String("source", event.SourceID))
	}
	for k, v := range event.Labels {
		fields = append(fields, zap.String(k, v))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	switch event.Type {
	case types.EventEntryStale, types.EventAlarm:
		r.logger.Warn("watchdog event", fields...)
	default:
		r.logger.Info("watchdog event", fields...)
	}
}

const DefaultRingSize = 256

// Ring keeps the most recent events in memory.
type Ring struct {
	mu     sync.Mutex
	buf    []types.Event
	next   int
	filled bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]types.Event, size)}
}

func (r *Ring) Record(event types.Event) {
	r.mu.Lock()
	r.buf[r.next] = event
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()
}

// Recent returns up to limit events, oldest first. A non-positive limit
// returns everything retained.
func (r *Ring) Recent(limit int) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.Event
	if r.filled {
		out = make([]types.Event, 0, len(r.buf))
		out = append(out, r.buf[r.next:]...)
		out = append(out, r.buf[:r.next]...)
	} else {
		out = append([]types.Event(nil), r.buf[:r.next]...)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
