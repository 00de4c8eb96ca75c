package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/watchdog/pkg/types"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPublishSnapshot(t *testing.T) {
	c := NewCollector()
	c.PublishSnapshot(types.WatchdogSnapshot{
		ID: "wd1",
		Entries: []types.EntryStatus{
			{SourceID: "stylus", UpToDate: true, ElapsedSec: 0.25},
			{SourceID: "probe", UpToDate: false, ElapsedSec: 3},
		},
	})

	out := scrape(t, c)
	assert.Contains(t, out, `watchdog_entries{watchdog="wd1"} 2`)
	assert.Contains(t, out, `watchdog_entry_up_to_date{source="stylus",watchdog="wd1"} 1`)
	assert.Contains(t, out, `watchdog_entry_up_to_date{source="probe",watchdog="wd1"} 0`)
	assert.Contains(t, out, `watchdog_entry_elapsed_seconds{source="probe",watchdog="wd1"} 3`)

	c.PublishSnapshot(types.WatchdogSnapshot{
		ID:      "wd1",
		Entries: []types.EntryStatus{{SourceID: "stylus", UpToDate: true}},
	})
	out = scrape(t, c)
	assert.Contains(t, out, `watchdog_entries{watchdog="wd1"} 1`)
	assert.NotContains(t, out, `source="probe"`)
}

func TestForget(t *testing.T) {
	c := NewCollector()
	c.PublishSnapshot(types.WatchdogSnapshot{
		ID:      "wd1",
		Entries: []types.EntryStatus{{SourceID: "stylus"}},
	})
	c.ObserveTransition("wd1", false)

	c.Forget("wd1")
	out := scrape(t, c)
	assert.NotContains(t, out, `watchdog="wd1"`)
}

func TestCounters(t *testing.T) {
	c := NewCollector()
	c.ObserveTransition("wd1", false)
	c.ObserveTransition("wd1", false)
	c.ObserveTransition("wd1", true)
	c.ObserveHeartbeat(true)
	c.ObserveHeartbeat(false)
	c.ObserveHeartbeat(false)
	c.ObservePass(time.Unix(1000, 0), 2*time.Millisecond, 1)

	out := scrape(t, c)
	assert.Contains(t, out, `watchdog_status_transitions_total{status="stale",watchdog="wd1"} 2`)
	assert.Contains(t, out, `watchdog_status_transitions_total{status="recovered",watchdog="wd1"} 1`)
	assert.Contains(t, out, `watchdog_heartbeats_total{result="matched"} 1`)
	assert.Contains(t, out, `watchdog_heartbeats_total{result="unwatched"} 2`)
	assert.Contains(t, out, `watchdog_evaluation_passes_total 1`)
	assert.Contains(t, out, `watchdog_evaluation_duration_seconds_count 1`)
}

func TestObserveReadiness(t *testing.T) {
	c := NewCollector()
	c.ObserveReadiness(false, []ReadinessCategory{
		{Name: "EVALUATION_PENDING", Severity: "INFO"},
		{Name: "EVALUATION_PENDING", Severity: "info"},
		{Name: " ", Severity: "warning"},
	})

	out := scrape(t, c)
	assert.Contains(t, out, "watchdog_ready 0")
	assert.Contains(t, out, `watchdog_readiness_category{category="EVALUATION_PENDING",severity="info"} 1`)
	assert.Contains(t, out, `watchdog_readiness_transitions_total{state="not_ready"} 1`)

	c.ObserveReadiness(true, nil)
	out = scrape(t, c)
	assert.Contains(t, out, "watchdog_ready 1")
	assert.NotContains(t, out, `category="EVALUATION_PENDING"`)
	assert.Contains(t, out, `watchdog_readiness_transitions_total{state="ready"} 1`)

	c.ObserveReadiness(true, nil)
	out = scrape(t, c)
	assert.Contains(t, out, `watchdog_readiness_transitions_total{state="ready"} 1`)
}
