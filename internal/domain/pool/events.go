package pool

import "github.com/sorryhyun/yaar/internal/shared/types"

// EventType identifies a pool event
type EventType string

const (
	// EventTurnAppended fires once per turn written to the tape
	EventTurnAppended EventType = "turn_appended"
	// EventChunk fires per streamed message fragment during a turn
	EventChunk EventType = "chunk"
	// EventTaskQueued fires when a task is parked instead of run
	EventTaskQueued EventType = "task_queued"
	// EventWindowClosed fires after a window close is processed
	EventWindowClosed EventType = "window_closed"
	// EventPoolReset fires after a reset cycle completes
	EventPoolReset EventType = "pool_reset"
)

// Event is a pool lifecycle notification fanned out to subscribers
// (the WebSocket hub in production)
type Event struct {
	Type      EventType    `json:"type"`
	Role      types.Role   `json:"role,omitempty"`
	Source    types.Source `json:"source"`
	MessageID string       `json:"message_id,omitempty"`
	Content   string       `json:"content,omitempty"`
}

// EventSink receives pool events. Publish must not block; slow
// consumers drop or buffer on their own side.
type EventSink interface {
	Publish(event Event)
}
