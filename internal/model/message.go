package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
	MessageTypeEnter  MessageType = "enter"
	MessageTypeLeave  MessageType = "leave"
)

// Message is one chat message in the append-only log. Messages are created
// exactly once, never updated, and bulk-deleted only when their room is
// reclaimed. The same shape is serialized onto the broker channel.
type Message struct {
	ID        string      `json:"id" bson:"_id"`
	RoomID    string      `json:"room_id" bson:"room_id"`
	SenderID  string      `json:"sender_id" bson:"sender_id"`
	Type      MessageType `json:"type" bson:"type"`
	Content   string      `json:"content" bson:"content"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
}
