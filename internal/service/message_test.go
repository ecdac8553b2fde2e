package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobun/chat/internal/model"
)

func newMessageFixture(t *testing.T) (*MessageService, *fakeMessageStore, *fakePublisher, string) {
	t.Helper()
	rooms := newFakeRoomStore()
	room := &model.Room{ID: "room-1", Status: model.RoomStatusOpen}
	require.NoError(t, rooms.Create(context.Background(), room, []string{"alice", "bob"}))

	msgs := &fakeMessageStore{}
	pub := &fakePublisher{}
	return NewMessageService(msgs, rooms, pub), msgs, pub, room.ID
}

func TestSendPersistsThenPublishes(t *testing.T) {
	svc, msgs, pub, roomID := newMessageFixture(t)

	m, err := svc.Send(context.Background(), roomID, "alice", model.MessageTypeText, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())

	require.Len(t, msgs.msgs, 1)
	require.Len(t, pub.published, 1)
	assert.Equal(t, m.ID, pub.published[0].ID)
}

func TestSendDefaultsToText(t *testing.T) {
	svc, msgs, _, roomID := newMessageFixture(t)

	m, err := svc.Send(context.Background(), roomID, "alice", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeText, m.Type)
	assert.Equal(t, model.MessageTypeText, msgs.msgs[0].Type)
}

func TestSendRejectsReservedTypes(t *testing.T) {
	svc, _, _, roomID := newMessageFixture(t)

	// Lifecycle notices come from the server, never from clients.
	for _, typ := range []model.MessageType{model.MessageTypeSystem, model.MessageTypeEnter, model.MessageTypeLeave} {
		_, err := svc.Send(context.Background(), roomID, "alice", typ, "spoofed")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestSendDeniedUniformly(t *testing.T) {
	svc, _, _, roomID := newMessageFixture(t)
	ctx := context.Background()

	// Non-member on a real room and anyone on a missing room get the same
	// error, so room ids cannot be probed.
	_, errMember := svc.Send(ctx, roomID, "mallory", model.MessageTypeText, "hi")
	_, errMissing := svc.Send(ctx, "no-such-room", "mallory", model.MessageTypeText, "hi")
	assert.ErrorIs(t, errMember, ErrDenied)
	assert.ErrorIs(t, errMissing, ErrDenied)
	assert.Equal(t, errMember, errMissing)

	_, err := svc.Send(ctx, roomID, "", model.MessageTypeText, "hi")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestSendEmptyContent(t *testing.T) {
	svc, _, _, roomID := newMessageFixture(t)
	_, err := svc.Send(context.Background(), roomID, "alice", model.MessageTypeText, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSendSurvivesPublishFailure(t *testing.T) {
	svc, msgs, pub, roomID := newMessageFixture(t)
	pub.err = assert.AnError

	// Durability wins: the send succeeds even when fan-out fails.
	m, err := svc.Send(context.Background(), roomID, "alice", model.MessageTypeText, "hello")
	require.NoError(t, err)
	require.Len(t, msgs.msgs, 1)
	assert.Equal(t, m.ID, msgs.msgs[0].ID)
}

func TestSendFailsOnInsertFailure(t *testing.T) {
	svc, msgs, pub, roomID := newMessageFixture(t)
	msgs.insertErr = assert.AnError

	_, err := svc.Send(context.Background(), roomID, "alice", model.MessageTypeText, "hello")
	require.Error(t, err)
	// Nothing may reach the broker for a message that was never persisted.
	assert.Empty(t, pub.published)
}

func TestRecentPaging(t *testing.T) {
	svc, msgs, _, roomID := newMessageFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		msgs.msgs = append(msgs.msgs, model.Message{
			ID:        string(rune('a' + i)),
			RoomID:    roomID,
			SenderID:  "bob",
			Type:      model.MessageTypeText,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	got, err := svc.Recent(ctx, roomID, "alice", 2, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e", got[0].ID)
	assert.Equal(t, "d", got[1].ID)

	// The cursor is exclusive.
	got, err = svc.Recent(ctx, roomID, "alice", 10, got[1].CreatedAt)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
}

func TestRecentDenied(t *testing.T) {
	svc, _, _, roomID := newMessageFixture(t)
	_, err := svc.Recent(context.Background(), roomID, "mallory", 10, time.Time{})
	assert.ErrorIs(t, err, ErrDenied)
}

func TestRecentClampsLimit(t *testing.T) {
	svc, msgs, _, roomID := newMessageFixture(t)

	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < maxHistoryLimit+20; i++ {
		msgs.msgs = append(msgs.msgs, model.Message{
			ID: "m", RoomID: roomID, SenderID: "bob",
			Type: model.MessageTypeText, CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	got, err := svc.Recent(context.Background(), roomID, "alice", 10_000, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, maxHistoryLimit)
}

func TestAnnounceBestEffort(t *testing.T) {
	svc, msgs, pub, roomID := newMessageFixture(t)

	svc.Announce(context.Background(), roomID, "alice", model.MessageTypeEnter, "alice joined")
	require.Len(t, msgs.msgs, 1)
	assert.Equal(t, model.MessageTypeEnter, msgs.msgs[0].Type)
	require.Len(t, pub.published, 1)

	// Insert failures are swallowed.
	msgs.insertErr = assert.AnError
	svc.Announce(context.Background(), roomID, "alice", model.MessageTypeLeave, "alice left")
	assert.Len(t, msgs.msgs, 1)
	assert.Len(t, pub.published, 1)
}
