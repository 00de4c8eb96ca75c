package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/watchdog/internal/watchdog"
)

func TestAddGetRemove(t *testing.T) {
	r := New()
	assert.False(t, r.Active())

	w1 := watchdog.New(watchdog.WithID("w1"), watchdog.WithName("tools"))
	w2 := watchdog.New(watchdog.WithID("w2"), watchdog.WithName("sensors"))
	require.NoError(t, r.Add(w1))
	require.NoError(t, r.Add(w2))
	assert.True(t, r.Active())
	assert.Equal(t, 2, r.Len())

	err := r.Add(watchdog.New(watchdog.WithID("w1")))
	assert.ErrorIs(t, err, ErrDuplicateWatchdog)
	assert.ErrorIs(t, r.Add(nil), ErrNilWatchdog)

	got, ok := r.Get("w2")
	require.True(t, ok)
	assert.Same(t, w2, got)

	got, ok = r.ByName("tools")
	require.True(t, ok)
	assert.Same(t, w1, got)

	all := r.All()
	require.Len(t, all, 2)
	assert.Same(t, w1, all[0])
	assert.Same(t, w2, all[1])

	assert.True(t, r.Remove("w1"))
	assert.False(t, r.Remove("w1"))
	_, ok = r.Get("w1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestFanOut(t *testing.T) {
	now := time.Unix(0, 0).UTC()
	clock := func() time.Time { return now }

	r := New()
	w1 := watchdog.New(watchdog.WithNow(clock))
	w2 := watchdog.New(watchdog.WithNow(clock))
	require.NoError(t, r.Add(w1))
	require.NoError(t, r.Add(w2))

	_, _ = w1.Add(watchdog.NewSource("stylus", "Stylus"), watchdog.WithTolerance(time.Second))
	_, _ = w2.Add(watchdog.NewSource("stylus", "Stylus"), watchdog.WithTolerance(time.Second))
	_, _ = w2.Add(watchdog.NewSource("probe", "Probe"), watchdog.WithTolerance(time.Second))

	assert.Equal(t, 2, r.UpdateAll())
	assert.Equal(t, 0, r.UpdateAll())

	now = now.Add(2 * time.Second)
	assert.Equal(t, 2, r.OnSourceChanged("stylus", now))
	assert.Equal(t, 0, r.OnSourceChanged("unknown", now))

	// Only the probe entry of w2 goes stale.
	assert.Equal(t, 1, r.UpdateAll())
	up, _ := w1.UpToDate(0)
	assert.True(t, up)
	up, _ = w2.UpToDate(1)
	assert.False(t, up)

	assert.Equal(t, 2, r.OnSourceRemoved("stylus"))
	assert.Equal(t, 0, w1.Count())
	assert.Equal(t, 1, w2.Count())
}

func TestSubscribe(t *testing.T) {
	r := New()
	var changes []Change
	cancel := r.Subscribe(func(c Change) { changes = append(changes, c) })

	w := watchdog.New(watchdog.WithID("w"))
	require.NoError(t, r.Add(w))
	r.Remove("w")
	cancel()
	require.NoError(t, r.Add(w))

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeAdded, changes[0].Type)
	assert.Equal(t, ChangeRemoved, changes[1].Type)
	assert.Same(t, w, changes[1].Watchdog)
}
