package watchdog

// UpdateStatus recomputes the up-to-date flag of every entry against a single
// reading of the clock. An entry is up to date while the time since its last
// update does not exceed its tolerance. If any flag flips the modified signal
// fires exactly once after the pass. It reports whether anything flipped.
func (w *Watchdog) UpdateStatus() bool {
	w.mu.Lock()
	now := w.now()
	modified := false
	for i := range w.entries {
		e := &w.entries[i]
		upToDate := now.Sub(e.lastUpdate) <= e.tolerance
		if upToDate != e.upToDate {
			e.upToDate = upToDate
			modified = true
		}
	}
	w.mu.Unlock()

	if modified {
		w.emit()
	}
	return modified
}
