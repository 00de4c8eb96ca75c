package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pingsantohq/watchdog/pkg/types"
)

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// Collector exports watchdog state on its own Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	entries             *prometheus.GaugeVec
	upToDate            *prometheus.GaugeVec
	elapsed             *prometheus.GaugeVec
	transitions         *prometheus.CounterVec
	heartbeats          *prometheus.CounterVec
	passes              prometheus.Counter
	passDuration        prometheus.Histogram
	ready               prometheus.Gauge
	readyCategories     *prometheus.GaugeVec
	readinessTransition *prometheus.CounterVec

	mu sync.Mutex
	// watchdog ID -> source IDs exported
	sources map[string]map[string]struct{}
	// -1 unknown, 0 not ready, 1 ready
	readyPrev int
	catsPrev  []ReadinessCategory
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchdog_entries",
			Help: "Number of entries in each watchdog.",
		}, []string{"watchdog"}),
		upToDate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchdog_entry_up_to_date",
			Help: "1 when the entry was refreshed within its tolerance at the last evaluation.",
		}, []string{"watchdog", "source"}),
		elapsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchdog_entry_elapsed_seconds",
			Help: "Seconds since the entry's source last reported.",
		}, []string{"watchdog", "source"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_status_transitions_total",
			Help: "Entry status flips by resulting status.",
		}, []string{"watchdog", "status"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_heartbeats_total",
			Help: "Source heartbeats received, by whether any entry watched the source.",
		}, []string{"result"}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_evaluation_passes_total",
			Help: "Evaluation passes run by the scheduler.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchdog_evaluation_duration_seconds",
			Help:    "Duration of one evaluation pass over every watchdog.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchdog_ready",
			Help: "1 when the service reports ready.",
		}),
		readyCategories: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchdog_readiness_category",
			Help: "Active readiness problems by category and severity.",
		}, []string{"category", "severity"}),
		readinessTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_readiness_transitions_total",
			Help: "Readiness state changes by resulting state.",
		}, []string{"state"}),
		sources:   make(map[string]map[string]struct{}),
		readyPrev: -1,
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.entries,
		c.upToDate,
		c.elapsed,
		c.transitions,
		c.heartbeats,
		c.passes,
		c.passDuration,
		c.ready,
		c.readyCategories,
		c.readinessTransition,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// PublishSnapshot replaces the per-entry series of one watchdog.
func (c *Collector) PublishSnapshot(snap types.WatchdogSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := make(map[string]struct{}, len(snap.Entries))
	for _, e := range snap.Entries {
		current[e.SourceID] = struct{}{}
		c.upToDate.WithLabelValues(snap.ID, e.SourceID).Set(boolToFloat(e.UpToDate))
		c.elapsed.WithLabelValues(snap.ID, e.SourceID).Set(e.ElapsedSec)
	}
	for sourceID := range c.sources[snap.ID] {
		if _, ok := current[sourceID]; !ok {
			c.upToDate.DeleteLabelValues(snap.ID, sourceID)
			c.elapsed.DeleteLabelValues(snap.ID, sourceID)
		}
	}
	c.sources[snap.ID] = current
	c.entries.WithLabelValues(snap.ID).Set(float64(len(snap.Entries)))
}

// Forget drops every series of a removed watchdog.
func (c *Collector) Forget(watchdogID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sourceID := range c.sources[watchdogID] {
		c.upToDate.DeleteLabelValues(watchdogID, sourceID)
		c.elapsed.DeleteLabelValues(watchdogID, sourceID)
	}
	delete(c.sources, watchdogID)
	c.entries.DeleteLabelValues(watchdogID)
	c.transitions.DeletePartialMatch(prometheus.Labels{"watchdog": watchdogID})
}

func (c *Collector) ObserveTransition(watchdogID string, upToDate bool) {
	status := "stale"
	if upToDate {
		status = "recovered"
	}
	c.transitions.WithLabelValues(watchdogID, status).Inc()
}

func (c *Collector) ObserveHeartbeat(matched bool) {
	result := "unwatched"
	if matched {
		result = "matched"
	}
	c.heartbeats.WithLabelValues(result).Inc()
}

// ObservePass matches the scheduler's pass observer signature.
func (c *Collector) ObservePass(_ time.Time, took time.Duration, _ int) {
	c.passes.Inc()
	c.passDuration.Observe(took.Seconds())
}

func (c *Collector) ObserveReadiness(ready bool, categories []ReadinessCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := 0
	if ready {
		state = 1
	}
	if c.readyPrev != state {
		if ready {
			c.readinessTransition.WithLabelValues("ready").Inc()
		} else {
			c.readinessTransition.WithLabelValues("not_ready").Inc()
		}
	}
	c.readyPrev = state
	c.ready.Set(float64(state))

	for _, cat := range c.catsPrev {
		c.readyCategories.DeleteLabelValues(cat.Name, cat.Severity)
	}
	c.catsPrev = nil
	if ready {
		return
	}
	c.catsPrev = dedupeCategories(categories)
	for _, cat := range c.catsPrev {
		c.readyCategories.WithLabelValues(cat.Name, cat.Severity).Set(1)
	}
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		key := ReadinessCategory{
			Name:     strings.TrimSpace(c.Name),
			Severity: normalizeSeverity(c.Severity),
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func normalizeSeverity(severity string) string {
	severity = strings.TrimSpace(strings.ToLower(severity))
	switch severity {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return severity
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
