package types

import "time"

type EventType string

const (
	EventStatusChanged  EventType = "StatusChanged"
	EventEntryStale     EventType = "EntryStale"
	EventEntryRecovered EventType = "EntryRecovered"
	EventEntryAdded     EventType = "EntryAdded"
	EventEntryRemoved   EventType = "EntryRemoved"
	EventSourceRemoved  EventType = "SourceRemoved"
	EventAlarm          EventType = "Alarm"
)

type Event struct {
	Type       EventType         `json:"type"`
	Timestamp  time.Time         `json:"ts"`
	WatchdogID string            `json:"watchdog_id,omitempty"`
	SourceID   string            `json:"source_id,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Details    map[string]any    `json:"details,omitempty"`
}
