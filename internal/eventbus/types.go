package eventbus

import "time"

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// Element lifecycle events.
	EventElementCreated EventType = "element.created"
	EventElementUpdated EventType = "element.updated"
	EventElementDeleted EventType = "element.deleted"

	// Task lifecycle events.
	EventTaskAssigned  EventType = "task.assigned"
	EventTaskCompleted EventType = "task.completed"

	// Session lifecycle events.
	EventSessionStarted   EventType = "session.started"
	EventSessionSuspended EventType = "session.suspended"
	EventSessionEnded     EventType = "session.ended"
	EventSessionFailed    EventType = "session.failed"

	// Sync events.
	EventSyncExported EventType = "sync.exported"
	EventSyncImported EventType = "sync.imported"

	// Steward events.
	EventStewardExecuted EventType = "steward.executed"
)

// Event is a single occurrence flowing through the bus.
type Event struct {
	Type      EventType      `json:"type"`
	ElementID string         `json:"element_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Result aggregates handler outputs for one dispatch.
type Result struct {
	// Handled counts handlers that ran without error.
	Handled int
	// Outputs collects arbitrary handler output keyed by handler id.
	Outputs map[string]any
}

// Put stores a handler output, allocating the map lazily.
func (r *Result) Put(handlerID string, v any) {
	if r.Outputs == nil {
		r.Outputs = make(map[string]any)
	}
	r.Outputs[handlerID] = v
}
