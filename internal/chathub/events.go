package chathub

import "teamdash/chat/internal/models"

// EventType identifies what happened on a live channel or room session.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventMessageReceived EventType = "message"
	EventErrorOccurred   EventType = "error"
	// EventRoomChanged is emitted by the Controller after a debounced switch.
	EventRoomChanged EventType = "room_changed"
	// EventHistoryLoaded is emitted by the Controller after a history merge.
	EventHistoryLoaded EventType = "history_loaded"
)

// Event is the typed notification published by Connection and Controller.
type Event struct {
	Type    EventType           `json:"type"`
	Room    string              `json:"room"`
	Message *models.ChatMessage `json:"message,omitempty"`
	Err     error               `json:"-"`
	Error   string              `json:"error,omitempty"`
	Added   int                 `json:"added,omitempty"`
}

func newErrorEvent(room string, err error) Event {
	return Event{Type: EventErrorOccurred, Room: room, Err: err, Error: err.Error()}
}
