package model

import "time"

type RoomType string

const (
	RoomTypePrivate RoomType = "private"
	RoomTypeGroup   RoomType = "group"
)

type RoomStatus string

const (
	RoomStatusOpen   RoomStatus = "open"
	RoomStatusClosed RoomStatus = "closed"
)

// Room is the relational metadata row for a chat room. LinkedPostID ties a
// room to the marketplace post it was opened for, when there is one.
// ExpireAt is set when the room is closed (close time + grace period) and is
// the sole input to reclamation.
type Room struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Type         RoomType   `json:"type"`
	OwnerID      string     `json:"owner_id"`
	LinkedPostID *string    `json:"linked_post_id,omitempty"`
	Status       RoomStatus `json:"status"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ExpireAt     *time.Time `json:"expire_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type MemberStatus string

const (
	MemberStatusActive MemberStatus = "active"
	MemberStatusLeft   MemberStatus = "left"
)

// RoomMember links a user to a room. Leaving flips Status to left; rows are
// hard-deleted only when the whole room is reclaimed.
type RoomMember struct {
	ID                string       `json:"id"`
	RoomID            string       `json:"room_id"`
	UserID            string       `json:"user_id"`
	Status            MemberStatus `json:"status"`
	LastReadMessageID *string      `json:"last_read_message_id,omitempty"`
	LastReadAt        *time.Time   `json:"last_read_at,omitempty"`
	JoinedAt          time.Time    `json:"joined_at"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

type Invitation struct {
	ID        string           `json:"id"`
	RoomID    string           `json:"room_id"`
	InviterID string           `json:"inviter_id"`
	InviteeID string           `json:"invitee_id"`
	Status    InvitationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// RoomDetail is the room with the caller-facing extras for the detail API.
type RoomDetail struct {
	Room        Room         `json:"room"`
	Members     []RoomMember `json:"members"`
	UnreadCount int          `json:"unread_count"`
}
