package types

import "time"

// EntryStatus is the externally visible state of one watched entry.
type EntryStatus struct {
	Index      int     `json:"index" yaml:"index"`
	SourceID   string  `json:"source_id" yaml:"source_id"`
	SourceName string  `json:"source_name" yaml:"source_name"`
	Label      string  `json:"label" yaml:"label"`
	UpToDate   bool    `json:"up_to_date" yaml:"up_to_date"`
	ElapsedSec float64 `json:"elapsed_sec" yaml:"elapsed_sec"`
	Tolerance  float64 `json:"tolerance_sec" yaml:"tolerance_sec"`
	PlaySound  bool    `json:"play_sound" yaml:"play_sound"`
}

// WatchdogSnapshot captures the full ordered entry list of a watchdog at one instant.
type WatchdogSnapshot struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	GeneratedAt time.Time     `json:"generated_at" yaml:"generated_at"`
	Entries     []EntryStatus `json:"entries" yaml:"entries"`
}

// Stale returns the entries that were not up to date when the snapshot was taken.
func (s WatchdogSnapshot) Stale() []EntryStatus {
	var stale []EntryStatus
	for _, e := range s.Entries {
		if !e.UpToDate {
			stale = append(stale, e)
		}
	}
	return stale
}
