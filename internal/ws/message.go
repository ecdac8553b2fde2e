package ws

import "github.com/sobun/chat/internal/model"

type EventType string

const (
	// Client-to-server frame types.
	EventSubscribe EventType = "subscribe"
	EventSend      EventType = "send"
	EventRead      EventType = "read"

	// Server-to-client event types.
	EventSubscribed EventType = "subscribed"
	EventSent       EventType = "sent"
	EventMessage    EventType = "message"
	EventError      EventType = "error"
)

// Frame is what the client sends to the server.
type Frame struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id,omitempty"`

	// For send
	MessageType model.MessageType `json:"message_type,omitempty"`
	Content     string            `json:"content,omitempty"`

	// For read
	MessageID string `json:"message_id,omitempty"`
}

// Event is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SubscribedPayload acknowledges a subscribe frame.
type SubscribedPayload struct {
	RoomID string `json:"room_id"`
}
