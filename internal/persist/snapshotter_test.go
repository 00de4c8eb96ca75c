package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/watchdog/internal/watchdog"
	"github.com/pingsantohq/watchdog/pkg/types"
)

type staticLister struct {
	mu        sync.Mutex
	watchdogs []*watchdog.Watchdog
}

func (l *staticLister) All() []*watchdog.Watchdog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*watchdog.Watchdog(nil), l.watchdogs...)
}

type countingStore struct {
	MemoryStore
	mu    sync.Mutex
	saves int
	fail  error
}

func (c *countingStore) Save(ctx context.Context, records []Record) error {
	c.mu.Lock()
	c.saves++
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	return c.MemoryStore.Save(ctx, records)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func TestSnapshotterFlushSkipsUnchanged(t *testing.T) {
	w := watchdog.New(watchdog.WithID("wd1"), testClock())
	_, err := w.Add(watchdog.NewSource("a", "Alpha"))
	require.NoError(t, err)

	store := &countingStore{}
	snap := NewSnapshotter(store, &staticLister{watchdogs: []*watchdog.Watchdog{w}})
	ctx := context.Background()

	require.NoError(t, snap.Flush(ctx))
	require.NoError(t, snap.Flush(ctx))
	assert.Equal(t, 1, store.count())

	require.NoError(t, w.SetLabel(0, "A"))
	require.NoError(t, snap.Flush(ctx))
	assert.Equal(t, 2, store.count())

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Labels)
}

func TestSnapshotterMarkSaved(t *testing.T) {
	store := &countingStore{}
	snap := NewSnapshotter(store, &staticLister{})
	snap.MarkSaved(nil)

	require.NoError(t, snap.Flush(context.Background()))
	assert.Zero(t, store.count())
}

func TestSnapshotterTriggerDebounces(t *testing.T) {
	w := watchdog.New(watchdog.WithID("wd1"), testClock())
	store := &countingStore{}
	snap := NewSnapshotter(store, &staticLister{watchdogs: []*watchdog.Watchdog{w}}, WithSaveDelay(20*time.Millisecond))

	for i := 0; i < 5; i++ {
		snap.Trigger()
	}
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, store.count())
}

func TestSnapshotterReportsFailures(t *testing.T) {
	store := &countingStore{fail: errors.New("disk full")}
	var (
		mu      sync.Mutex
		results []error
	)
	snap := NewSnapshotter(store, &staticLister{}, WithSaveObserver(func(_ time.Time, err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	}))

	err := snap.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	require.NoError(t, snap.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.Error(t, results[0])
	assert.NoError(t, results[1])
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, []Record{
		{ID: "wd1", Name: "one", SourceIDs: "a", Labels: "A", PlaySound: "true", Tolerances: "2"},
		{ID: "wd2", Name: "two", SourceIDs: "ghost"},
	}))

	watchdogs, err := Restore(ctx, store, catalogResolver(watchdog.NewSource("a", "Alpha")), testClock())
	require.Error(t, err)
	require.Len(t, watchdogs, 2)
	assert.Equal(t, 1, watchdogs[0].Count())
	assert.Zero(t, watchdogs[1].Count())
}

func TestSnapshotterAsSink(t *testing.T) {
	store := &countingStore{}
	snap := NewSnapshotter(store, &staticLister{}, WithSaveDelay(5*time.Millisecond))

	snap.PublishSnapshot(types.WatchdogSnapshot{ID: "wd1"})
	snap.Forget("wd1")
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSnapshotterSavesEncodableWatchdogs(t *testing.T) {
	good := watchdog.New(watchdog.WithID("good"), testClock())
	_, err := good.Add(watchdog.NewSource("a", "Alpha"))
	require.NoError(t, err)

	bad := watchdog.New(watchdog.WithID("bad"), testClock())
	_, err = bad.Add(watchdog.NewSource("b", "Beta"), watchdog.WithLabel("x;y"))
	require.NoError(t, err)

	store := &countingStore{}
	var (
		mu      sync.Mutex
		results []error
	)
	snap := NewSnapshotter(store, &staticLister{watchdogs: []*watchdog.Watchdog{good, bad}},
		WithSaveObserver(func(_ time.Time, err error) {
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}))

	require.NoError(t, snap.Flush(context.Background()))

	records, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.NoError(t, results[0])
}
