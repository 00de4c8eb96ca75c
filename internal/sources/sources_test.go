package sources

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	changed []string
	stamps  []time.Time
	removed []string
}

func (s *recordingSink) OnSourceChanged(id string, ts time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = append(s.changed, id)
	s.stamps = append(s.stamps, ts)
	return 1
}

func (s *recordingSink) OnSourceRemoved(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return 1
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changed), len(s.removed)
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	a := c.Ensure("b-stylus", "StylusToTracker")
	again := c.Ensure("b-stylus", "Renamed")
	assert.Equal(t, a, again)
	assert.Equal(t, "StylusToTracker", again.Name())

	c.Ensure("a-probe", "Probe")
	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a-probe", all[0].ID())

	src, ok := c.Resolve("a-probe", "ignored")
	require.True(t, ok)
	assert.Equal(t, "Probe", src.Name())

	src, ok = c.Resolve("c-new", "Created")
	require.True(t, ok)
	assert.Equal(t, "Created", src.Name())
	_, ok = c.Resolve("", "x")
	assert.False(t, ok)

	assert.True(t, c.Remove("a-probe"))
	assert.False(t, c.Remove("a-probe"))
	_, ok = c.Lookup("a-probe")
	assert.False(t, ok)
}

func newTestWatcher(t *testing.T, sink Sink, opts ...FileWatcherOption) *FileWatcher {
	t.Helper()
	w, err := NewFileWatcher(sink, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestHandleEventDebounces(t *testing.T) {
	sink := &recordingSink{}
	stamp := time.Unix(1000, 0).UTC()
	w := newTestWatcher(t, sink, WithDebounce(10*time.Millisecond), WithFileWatcherNow(func() time.Time { return stamp }))

	dir := t.TempDir()
	path := filepath.Join(dir, "stylus.pose")
	require.NoError(t, w.Watch(FileSource{ID: "stylus", Path: path}))

	for i := 0; i < 5; i++ {
		w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
	}
	w.handleEvent(fsnotify.Event{Name: filepath.Join(dir, "other"), Op: fsnotify.Write})

	require.Eventually(t, func() bool {
		changed, _ := sink.counts()
		return changed == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	changed, removed := sink.counts()
	assert.Equal(t, 1, changed)
	assert.Zero(t, removed)
	assert.Equal(t, stamp, sink.stamps[0])
}

func TestHandleEventRemoveThenCreateIsHeartbeat(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWatcher(t, sink, WithDebounce(10*time.Millisecond))

	path := filepath.Join(t.TempDir(), "stylus.pose")
	require.NoError(t, w.Watch(FileSource{ID: "stylus", Path: path}))

	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Remove})
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})

	require.Eventually(t, func() bool {
		changed, _ := sink.counts()
		return changed == 1
	}, time.Second, 5*time.Millisecond)
	_, removed := sink.counts()
	assert.Zero(t, removed)
}

func TestHandleEventRemove(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWatcher(t, sink, WithDebounce(5*time.Millisecond))

	path := filepath.Join(t.TempDir(), "stylus.pose")
	require.NoError(t, w.Watch(FileSource{ID: "stylus", Path: path}))
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Remove})

	require.Eventually(t, func() bool {
		_, removed := sink.counts()
		return removed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"stylus"}, sink.removed)
}

func TestWatchRejectsDuplicatePath(t *testing.T) {
	w := newTestWatcher(t, &recordingSink{})
	path := filepath.Join(t.TempDir(), "a")
	require.NoError(t, w.Watch(FileSource{ID: "a", Path: path}))
	assert.Error(t, w.Watch(FileSource{ID: "b", Path: path}))

	w.Unwatch("a")
	assert.NoError(t, w.Watch(FileSource{ID: "b", Path: path}))
}

func TestRunDeliversFileWrites(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWatcher(t, sink, WithDebounce(5*time.Millisecond))

	path := filepath.Join(t.TempDir(), "stylus.pose")
	require.NoError(t, w.Watch(FileSource{ID: "stylus", Path: path}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("1 0 0"), 0o600))
	require.Eventually(t, func() bool {
		changed, _ := sink.counts()
		return changed >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, w.Watch(FileSource{ID: "x", Path: path + "x"}), ErrWatcherClosed)
}
