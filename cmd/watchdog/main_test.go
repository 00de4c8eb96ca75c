package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/watchdog/internal/config"
	"github.com/pingsantohq/watchdog/internal/runtime"
	"github.com/pingsantohq/watchdog/internal/server"
	"github.com/pingsantohq/watchdog/pkg/types"
)

func newTestService(t *testing.T) (*runtime.Runtime, *httptest.Server) {
	t.Helper()
	rt := runtime.New()
	require.NoError(t, rt.Seed(
		[]config.SourceConfig{{ID: "stylus", Name: "StylusToTracker"}},
		[]config.WatchdogConfig{{Name: "tools", Entries: []config.EntryConfig{{Source: "stylus", Tolerance: time.Second}}}},
	))
	srv := server.New(server.Config{}, server.Dependencies{
		Registry:        rt.Registry(),
		Catalog:         rt.Catalog(),
		Sources:         rt,
		Events:          rt.Events(),
		WatchdogOptions: rt.WatchdogOptions(),
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return rt, ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusTable(t *testing.T) {
	_, ts := newTestService(t)

	out, err := execute(t, "status", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "WATCHDOG")
	assert.Contains(t, out, "tools")
	assert.Contains(t, out, "Stylu")
	assert.Contains(t, out, "StylusToTracker")
}

func TestStatusJSON(t *testing.T) {
	_, ts := newTestService(t)

	out, err := execute(t, "status", "--server", ts.URL, "-o", "json")
	require.NoError(t, err)

	var items []types.WatchdogSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "tools", items[0].Name)
	require.Len(t, items[0].Entries, 1)
	assert.Equal(t, "stylus", items[0].Entries[0].SourceID)
}

func TestStatusRejectsUnknownFormat(t *testing.T) {
	_, ts := newTestService(t)

	_, err := execute(t, "status", "--server", ts.URL, "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestHeartbeat(t *testing.T) {
	_, ts := newTestService(t)

	out, err := execute(t, "heartbeat", "stylus", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "matched 1")

	out, err = execute(t, "heartbeat", "unknown", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "matched 0")
}

func TestHeartbeatRequiresSource(t *testing.T) {
	_, err := execute(t, "heartbeat")
	require.Error(t, err)
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog.yaml")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, config.Sample(), cfg)

	_, err = execute(t, "init", "--config", path)
	require.Error(t, err)

	_, err = execute(t, "init", "--config", path, "--force")
	require.NoError(t, err)
}

func TestOutputStatusTableEmptyWatchdog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputStatusTable(&buf, []types.WatchdogSnapshot{{Name: "empty"}}))
	assert.Contains(t, buf.String(), "empty")
	assert.Contains(t, buf.String(), "0 of 0 entries stale")
}

func TestOutputStatusTableCountsStaleEntries(t *testing.T) {
	var buf bytes.Buffer
	items := []types.WatchdogSnapshot{
		{Name: "tools", Entries: []types.EntryStatus{
			{Index: 0, Label: "Stylu", SourceName: "StylusToTracker", UpToDate: true, Tolerance: 1},
			{Index: 1, Label: "Cam", SourceName: "Camera", ElapsedSec: 4.2, Tolerance: 2},
		}},
		{Name: "lights", Entries: []types.EntryStatus{
			{Index: 0, Label: "Lamp", SourceName: "Lamp", ElapsedSec: 9, Tolerance: 3},
		}},
	}
	require.NoError(t, outputStatusTable(&buf, items))
	out := buf.String()
	assert.Contains(t, out, "STALE")
	assert.Contains(t, out, "2 of 3 entries stale")
}
