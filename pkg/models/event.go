package models

import "time"

// EventTarget selects the audience of an event.
type EventTarget string

// Event targets.
const (
	TargetAll   EventTarget = "all"
	TargetUser  EventTarget = "user"
	TargetGroup EventTarget = "group"
	TargetChat  EventTarget = "chat"
)

// Event is the envelope published on the cache pub/sub channels and
// forwarded to websocket subscribers.
type Event struct {
	Channel   string         `json:"channel"`
	Target    EventTarget    `json:"target"`
	TargetID  string         `json:"target_id,omitempty"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	TraceID   string         `json:"trace_id,omitempty"`
	At        time.Time      `json:"at"`
}
