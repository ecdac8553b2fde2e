package service

import (
	"context"
	"time"

	"github.com/sobun/chat/internal/model"
)

// Store interfaces are defined on the consumer side (like ws.PushNotifier
// in this codebase's lineage) so the services can be tested against fakes.
// The pgx repositories and the Mongo message log implement them.

type RoomStore interface {
	Create(ctx context.Context, room *model.Room, memberIDs []string) error
	GetByID(ctx context.Context, id string) (*model.Room, error)
	GetUserRooms(ctx context.Context, userID string) ([]model.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	AddMember(ctx context.Context, roomID, userID string, at time.Time) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	GetMembers(ctx context.Context, roomID string) ([]model.RoomMember, error)
	UpdateMemberLastRead(ctx context.Context, roomID, userID, messageID string, at time.Time) error
	Close(ctx context.Context, roomID string, closedAt, expireAt time.Time) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

type InvitationStore interface {
	Create(ctx context.Context, inv *model.Invitation) error
	GetByID(ctx context.Context, id string) (*model.Invitation, error)
	UpdateStatus(ctx context.Context, id string, status model.InvitationStatus) error
	HasPending(ctx context.Context, roomID, inviteeID string) (bool, error)
}

type MessageStore interface {
	Insert(ctx context.Context, m *model.Message) error
	Recent(ctx context.Context, roomID string, limit int, before time.Time) ([]model.Message, error)
	CountSince(ctx context.Context, roomID, userID string, since time.Time) (int, error)
}

// Publisher pushes a persisted message onto the fan-out channel.
type Publisher interface {
	Publish(ctx context.Context, m *model.Message) error
}
