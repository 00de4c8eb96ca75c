package watchdog

import (
	"time"

	"go.uber.org/zap"
)

// OnSourceChanged records a heartbeat from sourceID at ts. A zero ts means now.
// Notifications from sources this watchdog does not watch are ignored and
// reported as false. Heartbeats never fire the modified signal; the next
// UpdateStatus pass picks them up.
func (w *Watchdog) OnSourceChanged(sourceID string, ts time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := w.indexOfLocked(sourceID)
	if idx < 0 {
		return false
	}
	if ts.IsZero() {
		ts = w.now()
	}
	w.entries[idx].lastUpdate = ts
	return true
}

// OnSourceRemoved drops the entry watching a destroyed source.
func (w *Watchdog) OnSourceRemoved(sourceID string) bool {
	w.mu.Lock()
	idx := w.indexOfLocked(sourceID)
	if idx < 0 {
		w.mu.Unlock()
		return false
	}
	w.entries = append(w.entries[:idx], w.entries[idx+1:]...)
	w.mu.Unlock()

	w.logger.Info("watched source removed", zap.String("source", sourceID), zap.Int("index", idx))
	w.emit()
	return true
}
