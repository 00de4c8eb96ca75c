package watchdog

import (
	"github.com/pingsantohq/watchdog/pkg/types"
)

// Snapshot reads every entry under one lock and one clock reading.
func (w *Watchdog) Snapshot() types.WatchdogSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	snap := types.WatchdogSnapshot{
		ID:          w.id,
		Name:        w.name,
		GeneratedAt: now.UTC(),
		Entries:     make([]types.EntryStatus, 0, len(w.entries)),
	}
	for i, e := range w.entries {
		snap.Entries = append(snap.Entries, types.EntryStatus{
			Index:      i,
			SourceID:   e.source.ID(),
			SourceName: e.source.Name(),
			Label:      e.label,
			UpToDate:   e.upToDate,
			ElapsedSec: now.Sub(e.lastUpdate).Seconds(),
			Tolerance:  e.tolerance.Seconds(),
			PlaySound:  e.playSound,
		})
	}
	return snap
}
