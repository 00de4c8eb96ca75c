package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pingsantohq/watchdog/pkg/types"
)

func event(source string) types.Event {
	return types.Event{
		Type:      types.EventEntryStale,
		Timestamp: time.Unix(1000, 0).UTC(),
		SourceID:  source,
	}
}

func TestMultiSkipsNil(t *testing.T) {
	ring := NewRing(4)
	m := NewMulti(nil, NoopRecorder{}, ring)
	m.Record(event("a"))
	assert.Len(t, ring.Recent(0), 1)
}

func TestRingWraps(t *testing.T) {
	ring := NewRing(3)
	assert.Empty(t, ring.Recent(0))

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		ring.Record(event(s))
	}

	got := ring.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].SourceID)
	assert.Equal(t, "e", got[2].SourceID)

	got = ring.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].SourceID)
}

func TestLogRecorder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rec := NewLogRecorder(zap.New(core))

	stale := event("stylus")
	stale.WatchdogID = "wd1"
	stale.Labels = map[string]string{"label": "STY"}
	rec.Record(stale)
	rec.Record(types.Event{Type: types.EventEntryRecovered, SourceID: "stylus"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "events", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "EntryStale", fields["type"])
	assert.Equal(t, "wd1", fields["watchdog"])
	assert.Equal(t, "STY", fields["label"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
}
