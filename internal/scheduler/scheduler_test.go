package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	active  atomic.Bool
	calls   atomic.Int64
	changed int
}

func (f *fakeEvaluator) Active() bool { return f.active.Load() }

func (f *fakeEvaluator) UpdateAll() int {
	f.calls.Add(1)
	return f.changed
}

func TestTickSkipsWhenInactive(t *testing.T) {
	target := &fakeEvaluator{}
	current := time.Unix(0, 0).UTC()
	s := New(target, WithNow(func() time.Time { return current }))

	s.tick(current)
	assert.Equal(t, int64(0), target.calls.Load())
	assert.True(t, s.LastPass().IsZero())

	target.active.Store(true)
	current = current.Add(200 * time.Millisecond)
	s.tick(current)
	assert.Equal(t, int64(1), target.calls.Load())
	assert.Equal(t, current, s.LastPass())
	assert.Equal(t, uint64(1), s.Passes())

	target.active.Store(false)
	s.tick(current.Add(200 * time.Millisecond))
	assert.Equal(t, int64(1), target.calls.Load())
	assert.Equal(t, current, s.LastPass())
}

func TestTickNotifiesIdleObservers(t *testing.T) {
	target := &fakeEvaluator{}
	current := time.Unix(0, 0).UTC()
	var idle []time.Time
	s := New(target,
		WithNow(func() time.Time { return current }),
		WithIdleObserver(func(at time.Time) { idle = append(idle, at) }),
	)

	s.tick(current)
	target.active.Store(true)
	s.tick(current.Add(200 * time.Millisecond))

	assert.Equal(t, []time.Time{current}, idle)
	assert.Equal(t, int64(1), target.calls.Load())
}

func TestTickNotifiesObservers(t *testing.T) {
	target := &fakeEvaluator{changed: 2}
	target.active.Store(true)
	current := time.Unix(100, 0).UTC()

	var gotAt time.Time
	var gotChanged int
	s := New(target,
		WithNow(func() time.Time { return current }),
		WithPassObserver(func(at time.Time, took time.Duration, changed int) {
			gotAt = at
			gotChanged = changed
			assert.GreaterOrEqual(t, took, time.Duration(0))
		}),
	)

	s.tick(current)
	assert.Equal(t, current, gotAt)
	assert.Equal(t, 2, gotChanged)
}

func TestStartRunsPasses(t *testing.T) {
	target := &fakeEvaluator{}
	target.active.Store(true)
	s := New(target, WithPeriod(5*time.Millisecond))
	assert.Equal(t, 5*time.Millisecond, s.Period())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return target.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not stop after cancel")
	}
}

func TestDefaultPeriod(t *testing.T) {
	s := New(&fakeEvaluator{}, WithPeriod(0))
	assert.Equal(t, DefaultPeriod, s.Period())
}
