package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/pingsantohq/watchdog/internal/metrics"
)

const stallFactor = 3

const (
	categoryEvaluationPending = "EVALUATION_PENDING"
	categoryEvaluationStalled = "EVALUATION_STALLED"
	categoryStateSaveFailing  = "STATE_SAVE_FAILING"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// ReadinessObserver receives every readiness verdict.
type ReadinessObserver interface {
	ObserveReadiness(ready bool, categories []metrics.ReadinessCategory)
}

// Checker evaluates readiness conditions for the watchdog service.
type Checker struct {
	observer   ReadinessObserver
	active     func() bool
	stallAfter time.Duration

	mu            sync.RWMutex
	lastPass      time.Time
	lastIdle      time.Time
	saveErr       string
	lastSaveError time.Time
}

// NewChecker builds a checker for a scheduler running every period. active
// reports whether any watchdog exists; the scheduler idles otherwise, so
// missing passes are not a problem then.
func NewChecker(observer ReadinessObserver, period time.Duration, active func() bool) *Checker {
	if active == nil {
		active = func() bool { return true }
	}
	return &Checker{
		observer:   observer,
		active:     active,
		stallAfter: stallFactor * period,
	}
}

// ObservePass matches the scheduler's pass observer signature.
func (c *Checker) ObservePass(at time.Time, _ time.Duration, _ int) {
	c.mu.Lock()
	c.lastPass = at
	c.mu.Unlock()
}

// ObserveIdle matches the scheduler's idle observer signature. An idle tick
// shows the timer is alive, so a stall is measured from the later of the
// last pass and the last idle tick.
func (c *Checker) ObserveIdle(at time.Time) {
	c.mu.Lock()
	c.lastIdle = at
	c.mu.Unlock()
}

// ObserveStateSave records the outcome of a state store save.
func (c *Checker) ObserveStateSave(ts time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.saveErr = err.Error()
		c.lastSaveError = ts
		return
	}
	c.saveErr = ""
	c.lastSaveError = time.Time{}
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 2)
	categories := make([]metrics.ReadinessCategory, 0, 2)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	c.mu.RLock()
	lastPass := c.lastPass
	lastTick := lastPass
	if c.lastIdle.After(lastTick) {
		lastTick = c.lastIdle
	}
	saveErr := c.saveErr
	c.mu.RUnlock()

	if c.active() {
		if lastPass.IsZero() {
			reasons = append(reasons, "evaluation not yet run")
			appendCategory(categoryEvaluationPending, severityInfo)
		} else if c.stallAfter > 0 && now.Sub(lastTick) > c.stallAfter {
			reasons = append(reasons, fmt.Sprintf("evaluation stalled (%s since last tick)", now.Sub(lastTick).Round(time.Millisecond)))
			appendCategory(categoryEvaluationStalled, severityCritical)
		}
	}

	if saveErr != "" {
		reasons = append(reasons, fmt.Sprintf("state save failing: %s", saveErr))
		appendCategory(categoryStateSaveFailing, severityWarning)
	}

	ready := len(reasons) == 0
	if c.observer != nil {
		c.observer.ObserveReadiness(ready, categories)
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
