package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/watchdog/internal/events"
	"github.com/pingsantohq/watchdog/internal/registry"
	"github.com/pingsantohq/watchdog/internal/watchdog"
	"github.com/pingsantohq/watchdog/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []types.WatchdogSnapshot
	forgotten []string
}

func (s *recordingSink) PublishSnapshot(snap types.WatchdogSnapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *recordingSink) Forget(id string) {
	s.mu.Lock()
	s.forgotten = append(s.forgotten, id)
	s.mu.Unlock()
}

func eventTypes(ring *events.Ring) []types.EventType {
	var out []types.EventType
	for _, e := range ring.Recent(0) {
		out = append(out, e.Type)
	}
	return out
}

func setup(t *testing.T) (*fakeClock, *watchdog.Watchdog, *events.Ring, *recordingSink, *Notifier) {
	t.Helper()
	clock := newFakeClock()
	w := watchdog.New(watchdog.WithID("wd1"), watchdog.WithName("tools"), watchdog.WithNow(clock.Now))
	_, err := w.Add(watchdog.NewSource("stylus", "StylusToTracker"), watchdog.WithPlaySound(true))
	require.NoError(t, err)

	ring := events.NewRing(32)
	sink := &recordingSink{}
	n := New(ring, WithSinks(sink), WithNow(clock.Now))
	n.Attach(w)
	return clock, w, ring, sink, n
}

func TestFirstPassIsQuiet(t *testing.T) {
	_, w, ring, sink, _ := setup(t)

	assert.True(t, w.UpdateStatus())
	assert.Empty(t, ring.Recent(0))
	assert.Len(t, sink.snapshots, 2)
}

func TestStaleAndRecovered(t *testing.T) {
	clock := newFakeClock()
	w := watchdog.New(watchdog.WithID("wd1"), watchdog.WithName("tools"), watchdog.WithNow(clock.Now))
	_, err := w.Add(watchdog.NewSource("stylus", "StylusToTracker"), watchdog.WithPlaySound(true))
	require.NoError(t, err)

	ring := events.NewRing(32)
	var flips []bool
	n := New(ring, WithNow(clock.Now), WithTransitionFunc(func(id string, up bool) {
		assert.Equal(t, "wd1", id)
		flips = append(flips, up)
	}))
	n.Attach(w)

	w.UpdateStatus()
	clock.Advance(1500 * time.Millisecond)
	require.True(t, w.UpdateStatus())

	got := ring.Recent(0)
	require.Len(t, got, 2)
	assert.Equal(t, types.EventEntryStale, got[0].Type)
	assert.Equal(t, "stylus", got[0].SourceID)
	assert.Equal(t, "Stylu", got[0].Labels["label"])
	assert.Equal(t, "tools", got[0].Labels["watchdog_name"])
	assert.Equal(t, true, got[0].Details["play_sound"])
	assert.Equal(t, types.EventStatusChanged, got[1].Type)
	assert.Equal(t, 1, got[1].Details["stale"])

	w.OnSourceChanged("stylus", time.Time{})
	require.True(t, w.UpdateStatus())
	assert.Equal(t, []types.EventType{
		types.EventEntryStale, types.EventStatusChanged,
		types.EventEntryRecovered, types.EventStatusChanged,
	}, eventTypes(ring))
	assert.Equal(t, []bool{false, true}, flips)
}

func TestNeverEvaluatedEntryIsNotStale(t *testing.T) {
	_, w, ring, _, _ := setup(t)

	require.NoError(t, w.SetLabel(0, "STY"))
	assert.Empty(t, ring.Recent(0))
}

func TestStructuralEvents(t *testing.T) {
	_, w, ring, _, _ := setup(t)

	_, err := w.Add(watchdog.NewSource("probe", "Probe"))
	require.NoError(t, err)
	require.NoError(t, w.Remove(0))

	assert.Equal(t, []types.EventType{types.EventEntryAdded, types.EventEntryRemoved}, eventTypes(ring))
	assert.Equal(t, "stylus", ring.Recent(0)[1].SourceID)
}

func TestDetachForgets(t *testing.T) {
	_, w, ring, sink, n := setup(t)

	n.Detach("wd1")
	n.Detach("wd1")
	assert.Equal(t, []string{"wd1"}, sink.forgotten)

	w.UpdateStatus()
	assert.Empty(t, ring.Recent(0))
	assert.Len(t, sink.snapshots, 1)
}

func TestWatchRegistry(t *testing.T) {
	reg := registry.New()
	existing := watchdog.New(watchdog.WithID("a"))
	require.NoError(t, reg.Add(existing))

	sink := &recordingSink{}
	n := New(nil, WithSinks(sink))
	stop := n.Watch(reg)

	require.NoError(t, reg.Add(watchdog.New(watchdog.WithID("b"))))
	assert.Len(t, sink.snapshots, 2)

	reg.Remove("a")
	assert.Equal(t, []string{"a"}, sink.forgotten)

	stop()
	assert.Equal(t, []string{"a", "b"}, sink.forgotten)
	require.NoError(t, reg.Add(watchdog.New(watchdog.WithID("c"))))
	assert.Len(t, sink.snapshots, 2)
}
