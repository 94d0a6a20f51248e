package websocket

import "github.com/isdelr/ender-auth/internal/models"

// Message defines the structure for websocket messages.
type Message struct {
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

// ActionEvent carries one auth event.
const ActionEvent = "event"

// NewEventMessage wraps an auth event for the stream.
func NewEventMessage(event models.Event) Message {
	return Message{Action: ActionEvent, Payload: event}
}
