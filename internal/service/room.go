package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
	"github.com/sobun/chat/internal/repository"
)

// Announcer posts lifecycle system messages (enter/leave/system) into a
// room's log and fan-out. MessageService implements it; a nil announcer
// disables the notices.
type Announcer interface {
	Announce(ctx context.Context, roomID, actorID string, typ model.MessageType, content string)
}

// RoomService owns room lifecycle and membership rules. All room-scoped
// checks fail with ErrDenied without distinguishing missing rooms from
// rooms the caller is not a member of.
type RoomService struct {
	rooms       RoomStore
	users       UserStore
	invitations InvitationStore
	messages    MessageStore
	announcer   Announcer
	gracePeriod time.Duration
}

func NewRoomService(rooms RoomStore, users UserStore, invitations InvitationStore, messages MessageStore, grace time.Duration) *RoomService {
	return &RoomService{
		rooms:       rooms,
		users:       users,
		invitations: invitations,
		messages:    messages,
		gracePeriod: grace,
	}
}

// SetAnnouncer wires the system-message sink after construction, since the
// message service and the room service reference each other.
func (s *RoomService) SetAnnouncer(a Announcer) {
	s.announcer = a
}

// Create opens a room owned by ownerID with the given initial members. The
// owner is always a member; memberIDs may or may not repeat it. Private
// rooms must resolve to exactly two distinct members.
func (s *RoomService) Create(ctx context.Context, ownerID, title string, roomType model.RoomType, memberIDs []string, linkedPostID *string) (*model.Room, error) {
	defer logger.DeferLogDuration("RoomService.Create", time.Now())()

	if ownerID == "" {
		return nil, ErrDenied
	}
	if roomType != model.RoomTypePrivate && roomType != model.RoomTypeGroup {
		return nil, fmt.Errorf("%w: unknown room type %q", ErrInvalidArgument, roomType)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidArgument)
	}

	members := dedupe(append([]string{ownerID}, memberIDs...))
	if roomType == model.RoomTypePrivate && len(members) != 2 {
		return nil, fmt.Errorf("%w: private room needs exactly two members, got %d", ErrInvalidArgument, len(members))
	}
	if roomType == model.RoomTypeGroup && len(members) < 1 {
		return nil, fmt.Errorf("%w: empty member set", ErrInvalidArgument)
	}

	exists, err := s.users.ExistingIDs(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("RoomService.Create: %w", err)
	}
	for _, id := range members {
		if !exists[id] {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
	}

	now := time.Now().UTC()
	room := &model.Room{
		ID:           uuid.NewString(),
		Title:        title,
		Type:         roomType,
		OwnerID:      ownerID,
		LinkedPostID: linkedPostID,
		Status:       model.RoomStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.rooms.Create(ctx, room, members); err != nil {
		return nil, fmt.Errorf("RoomService.Create: %w", err)
	}
	return room, nil
}

// Rooms lists the caller's active rooms.
func (s *RoomService) Rooms(ctx context.Context, userID string) ([]model.Room, error) {
	if userID == "" {
		return nil, ErrDenied
	}
	rooms, err := s.rooms.GetUserRooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("RoomService.Rooms: %w", err)
	}
	return rooms, nil
}

// Detail returns the room, its member list, and the caller's unread count.
func (s *RoomService) Detail(ctx context.Context, roomID, userID string) (*model.RoomDetail, error) {
	defer logger.DeferLogDuration("RoomService.Detail", time.Now())()

	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("RoomService.Detail: %w", err)
	}
	members, err := s.rooms.GetMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("RoomService.Detail: %w", err)
	}

	var since time.Time
	for _, m := range members {
		if m.UserID == userID && m.LastReadAt != nil {
			since = *m.LastReadAt
		}
	}
	unread, err := s.messages.CountSince(ctx, roomID, userID, since)
	if err != nil {
		// Unread is a convenience counter; a log store hiccup should not
		// hide the room itself.
		logger.Errorf("RoomService.Detail: unread count for room %s: %v", roomID, err)
		unread = 0
	}

	return &model.RoomDetail{Room: *room, Members: members, UnreadCount: unread}, nil
}

// Close transitions an open room to closed and stamps its reclamation
// deadline. Only the owner may close a room.
func (s *RoomService) Close(ctx context.Context, roomID, actorID string) (*model.Room, error) {
	defer logger.DeferLogDuration("RoomService.Close", time.Now())()

	if err := s.requireMember(ctx, roomID, actorID); err != nil {
		return nil, err
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("RoomService.Close: %w", err)
	}
	if room.OwnerID != actorID {
		return nil, ErrDenied
	}
	if room.Status != model.RoomStatusOpen {
		return nil, fmt.Errorf("%w: room already closed", ErrInvalidArgument)
	}

	closedAt := time.Now().UTC()
	expireAt := closedAt.Add(s.gracePeriod)
	if err := s.rooms.Close(ctx, roomID, closedAt, expireAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: room already closed", ErrInvalidArgument)
		}
		return nil, fmt.Errorf("RoomService.Close: %w", err)
	}

	if s.announcer != nil {
		s.announcer.Announce(ctx, roomID, actorID, model.MessageTypeSystem, "room closed")
	}

	room.Status = model.RoomStatusClosed
	room.ClosedAt = &closedAt
	room.ExpireAt = &expireAt
	return room, nil
}

// Invite creates a pending invitation into a group room. Private rooms are
// fixed at two members and reject invitations.
func (s *RoomService) Invite(ctx context.Context, roomID, inviterID, inviteeID string) (*model.Invitation, error) {
	defer logger.DeferLogDuration("RoomService.Invite", time.Now())()

	if err := s.requireMember(ctx, roomID, inviterID); err != nil {
		return nil, err
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("RoomService.Invite: %w", err)
	}
	if room.Type == model.RoomTypePrivate {
		return nil, fmt.Errorf("%w: private rooms do not take invitations", ErrInvalidArgument)
	}
	if room.Status != model.RoomStatusOpen {
		return nil, fmt.Errorf("%w: room is closed", ErrInvalidArgument)
	}

	if _, err := s.users.GetByID(ctx, inviteeID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, inviteeID)
		}
		return nil, fmt.Errorf("RoomService.Invite: %w", err)
	}

	already, err := s.rooms.IsMember(ctx, roomID, inviteeID)
	if err != nil {
		return nil, fmt.Errorf("RoomService.Invite: %w", err)
	}
	if already {
		return nil, fmt.Errorf("%w: already a member", ErrInvalidArgument)
	}
	pending, err := s.invitations.HasPending(ctx, roomID, inviteeID)
	if err != nil {
		return nil, fmt.Errorf("RoomService.Invite: %w", err)
	}
	if pending {
		return nil, fmt.Errorf("%w: invitation already pending", ErrInvalidArgument)
	}

	inv := &model.Invitation{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		InviterID: inviterID,
		InviteeID: inviteeID,
		Status:    model.InvitationPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("RoomService.Invite: %w", err)
	}
	return inv, nil
}

// Accept resolves a pending invitation and joins the invitee to the room.
func (s *RoomService) Accept(ctx context.Context, invitationID, actorID string) error {
	defer logger.DeferLogDuration("RoomService.Accept", time.Now())()

	inv, err := s.invitations.GetByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: invitation %s", ErrNotFound, invitationID)
		}
		return fmt.Errorf("RoomService.Accept: %w", err)
	}
	if inv.InviteeID != actorID {
		return ErrDenied
	}

	room, err := s.rooms.GetByID(ctx, inv.RoomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: invitation no longer valid", ErrInvalidArgument)
		}
		return fmt.Errorf("RoomService.Accept: %w", err)
	}
	if room.Status != model.RoomStatusOpen {
		return fmt.Errorf("%w: room is closed", ErrInvalidArgument)
	}

	if err := s.invitations.UpdateStatus(ctx, invitationID, model.InvitationAccepted); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: invitation already resolved", ErrInvalidArgument)
		}
		return fmt.Errorf("RoomService.Accept: %w", err)
	}
	if err := s.rooms.AddMember(ctx, inv.RoomID, actorID, time.Now().UTC()); err != nil {
		return fmt.Errorf("RoomService.Accept: %w", err)
	}

	if s.announcer != nil {
		s.announcer.Announce(ctx, inv.RoomID, actorID, model.MessageTypeEnter, actorID+" joined")
	}
	return nil
}

// Reject resolves a pending invitation without joining.
func (s *RoomService) Reject(ctx context.Context, invitationID, actorID string) error {
	inv, err := s.invitations.GetByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: invitation %s", ErrNotFound, invitationID)
		}
		return fmt.Errorf("RoomService.Reject: %w", err)
	}
	if inv.InviteeID != actorID {
		return ErrDenied
	}
	if err := s.invitations.UpdateStatus(ctx, invitationID, model.InvitationRejected); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: invitation already resolved", ErrInvalidArgument)
		}
		return fmt.Errorf("RoomService.Reject: %w", err)
	}
	return nil
}

// Leave removes the caller from the room's active membership. The room and
// its history survive until reclamation; only the membership flips.
func (s *RoomService) Leave(ctx context.Context, roomID, actorID string) error {
	defer logger.DeferLogDuration("RoomService.Leave", time.Now())()

	if err := s.requireMember(ctx, roomID, actorID); err != nil {
		return err
	}
	if err := s.rooms.RemoveMember(ctx, roomID, actorID); err != nil {
		return fmt.Errorf("RoomService.Leave: %w", err)
	}
	if s.announcer != nil {
		s.announcer.Announce(ctx, roomID, actorID, model.MessageTypeLeave, actorID+" left")
	}
	return nil
}

// IsMember reports active membership; used by the gateway for subscribe
// authorization.
func (s *RoomService) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return s.rooms.IsMember(ctx, roomID, userID)
}

// MarkRead advances the caller's read cursor. The gateway only calls this
// while the user is actually viewing the room.
func (s *RoomService) MarkRead(ctx context.Context, roomID, userID, messageID string) error {
	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return err
	}
	if messageID == "" {
		return fmt.Errorf("%w: message id required", ErrInvalidArgument)
	}
	if err := s.rooms.UpdateMemberLastRead(ctx, roomID, userID, messageID, time.Now().UTC()); err != nil {
		return fmt.Errorf("RoomService.MarkRead: %w", err)
	}
	return nil
}

func (s *RoomService) requireMember(ctx context.Context, roomID, userID string) error {
	if userID == "" || roomID == "" {
		return ErrDenied
	}
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return ErrDenied
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
