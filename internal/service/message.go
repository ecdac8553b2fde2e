package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// MessageService persists messages and hands them to the broker. The
// ordering is fixed: a message is durable before it is fanned out, and a
// fan-out failure never fails the send.
type MessageService struct {
	messages MessageStore
	rooms    RoomStore
	pub      Publisher
}

func NewMessageService(messages MessageStore, rooms RoomStore, pub Publisher) *MessageService {
	return &MessageService{messages: messages, rooms: rooms, pub: pub}
}

// Send validates, persists, and publishes a message from senderID. The
// returned message is the persisted record (id and timestamp assigned here).
func (s *MessageService) Send(ctx context.Context, roomID, senderID string, typ model.MessageType, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("MessageService.Send", time.Now())()

	if senderID == "" {
		return nil, ErrDenied
	}
	if typ == "" {
		typ = model.MessageTypeText
	}
	if typ != model.MessageTypeText && typ != model.MessageTypeImage {
		return nil, fmt.Errorf("%w: clients may only send text or image messages", ErrInvalidArgument)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidArgument)
	}

	ok, err := s.rooms.IsMember(ctx, roomID, senderID)
	if err != nil {
		return nil, fmt.Errorf("MessageService.Send: %w", err)
	}
	if !ok {
		return nil, ErrDenied
	}

	m := &model.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.messages.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("MessageService.Send: %w", err)
	}

	if err := s.pub.Publish(ctx, m); err != nil {
		// The message is already durable; readers will see it on the next
		// history fetch even if this instance's fan-out hiccups.
		logger.Errorf("MessageService.Send: publish message %s: %v", m.ID, err)
	}
	return m, nil
}

// Announce persists and publishes a lifecycle notice (enter/leave/system)
// on behalf of actorID. Callers have already authorized the action, so no
// membership check; failures are logged, not surfaced.
func (s *MessageService) Announce(ctx context.Context, roomID, actorID string, typ model.MessageType, content string) {
	m := &model.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  actorID,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.messages.Insert(ctx, m); err != nil {
		logger.Errorf("MessageService.Announce: insert %s notice for room %s: %v", typ, roomID, err)
		return
	}
	if err := s.pub.Publish(ctx, m); err != nil {
		logger.Errorf("MessageService.Announce: publish %s notice for room %s: %v", typ, roomID, err)
	}
}

// Recent returns up to limit messages created strictly before the cursor,
// newest first. A zero cursor means "from now".
func (s *MessageService) Recent(ctx context.Context, roomID, userID string, limit int, before time.Time) ([]model.Message, error) {
	defer logger.DeferLogDuration("MessageService.Recent", time.Now())()

	if userID == "" {
		return nil, ErrDenied
	}
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("MessageService.Recent: %w", err)
	}
	if !ok {
		return nil, ErrDenied
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}

	msgs, err := s.messages.Recent(ctx, roomID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("MessageService.Recent: %w", err)
	}
	return msgs, nil
}
