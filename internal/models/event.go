package models

import "encoding/json"

// Envelope is an inbound client frame. Payload is decoded by the handler
// registered for Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound server frame.
type Event struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent is shorthand for building an Event.
func NewEvent(typ string, payload map[string]interface{}) Event {
	return Event{Type: typ, Payload: payload}
}

// ErrorEvent builds the "error" event returned to a single requester.
func ErrorEvent(code, message string) Event {
	return Event{
		Type: "error",
		Payload: map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}
