package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobun/chat/internal/model"
)

const grace = 30 * 24 * time.Hour

func newRoomFixture(userIDs ...string) (*RoomService, *fakeRoomStore, *fakeInvitationStore, *fakeMessageStore) {
	rooms := newFakeRoomStore()
	invs := newFakeInvitationStore()
	msgs := &fakeMessageStore{}
	svc := NewRoomService(rooms, newFakeUserStore(userIDs...), invs, msgs, grace)
	return svc, rooms, invs, msgs
}

func TestCreatePrivateRoom(t *testing.T) {
	svc, rooms, _, _ := newRoomFixture("alice", "bob")
	ctx := context.Background()

	// The owner repeated in the member list collapses to one membership.
	room, err := svc.Create(ctx, "alice", "sneakers groupbuy", model.RoomTypePrivate, []string{"alice", "bob"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusOpen, room.Status)
	assert.Equal(t, "alice", room.OwnerID)

	members, err := rooms.GetMembers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestCreatePrivateRoomWrongCardinality(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice", "bob", "carol")
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "x", model.RoomTypePrivate, []string{"bob", "carol"}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Create(ctx, "alice", "x", model.RoomTypePrivate, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateUnknownMember(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice")
	_, err := svc.Create(context.Background(), "alice", "x", model.RoomTypeGroup, []string{"nobody"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsUnknownType(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice")
	_, err := svc.Create(context.Background(), "alice", "x", model.RoomType("broadcast"), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCloseOwnerOnly(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice", "bob")
	ctx := context.Background()

	room, err := svc.Create(ctx, "alice", "x", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)

	_, err = svc.Close(ctx, room.ID, "bob")
	assert.ErrorIs(t, err, ErrDenied)

	closed, err := svc.Close(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusClosed, closed.Status)
	require.NotNil(t, closed.ExpireAt)
	assert.Equal(t, closed.ClosedAt.Add(grace), *closed.ExpireAt)

	// Closing twice is a client error, not a denial.
	_, err = svc.Close(ctx, room.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCloseDenialHidesExistence(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice")

	// A missing room and a foreign room must fail identically.
	_, err := svc.Close(context.Background(), "no-such-room", "alice")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestInviteAcceptFlow(t *testing.T) {
	svc, rooms, _, msgs := newRoomFixture("alice", "bob", "carol")
	announcer := NewMessageService(msgs, rooms, &fakePublisher{})
	svc.SetAnnouncer(announcer)
	ctx := context.Background()

	room, err := svc.Create(ctx, "alice", "x", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)

	inv, err := svc.Invite(ctx, room.ID, "alice", "carol")
	require.NoError(t, err)
	assert.Equal(t, model.InvitationPending, inv.Status)

	// Only the invitee may resolve it.
	err = svc.Accept(ctx, inv.ID, "bob")
	assert.ErrorIs(t, err, ErrDenied)

	require.NoError(t, svc.Accept(ctx, inv.ID, "carol"))

	ok, err := svc.IsMember(ctx, room.ID, "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	// Joining left an enter notice in the log.
	require.Len(t, msgs.msgs, 1)
	assert.Equal(t, model.MessageTypeEnter, msgs.msgs[0].Type)

	// A resolved invitation cannot be accepted again.
	err = svc.Accept(ctx, inv.ID, "carol")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInviteGuards(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice", "bob", "carol")
	ctx := context.Background()

	private, err := svc.Create(ctx, "alice", "x", model.RoomTypePrivate, []string{"bob"}, nil)
	require.NoError(t, err)
	_, err = svc.Invite(ctx, private.ID, "alice", "carol")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	group, err := svc.Create(ctx, "alice", "y", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)

	// Non-members cannot invite.
	_, err = svc.Invite(ctx, group.ID, "carol", "carol")
	assert.ErrorIs(t, err, ErrDenied)

	// Existing members cannot be re-invited.
	_, err = svc.Invite(ctx, group.ID, "alice", "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Duplicate pending invitations are rejected.
	_, err = svc.Invite(ctx, group.ID, "alice", "carol")
	require.NoError(t, err)
	_, err = svc.Invite(ctx, group.ID, "alice", "carol")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRejectInvitation(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice", "bob", "carol")
	ctx := context.Background()

	room, err := svc.Create(ctx, "alice", "x", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)
	inv, err := svc.Invite(ctx, room.ID, "alice", "carol")
	require.NoError(t, err)

	require.NoError(t, svc.Reject(ctx, inv.ID, "carol"))

	ok, err := svc.IsMember(ctx, room.ID, "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaveEmitsNotice(t *testing.T) {
	svc, rooms, _, msgs := newRoomFixture("alice", "bob")
	svc.SetAnnouncer(NewMessageService(msgs, rooms, &fakePublisher{}))
	ctx := context.Background()

	room, err := svc.Create(ctx, "alice", "x", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Leave(ctx, room.ID, "bob"))

	ok, err := svc.IsMember(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, msgs.msgs, 1)
	assert.Equal(t, model.MessageTypeLeave, msgs.msgs[0].Type)

	// Having left, further room commands are denied.
	err = svc.Leave(ctx, room.ID, "bob")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestDetailUnreadCount(t *testing.T) {
	svc, rooms, _, msgs := newRoomFixture("alice", "bob")
	ctx := context.Background()

	room, err := svc.Create(ctx, "alice", "x", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	msgs.msgs = []model.Message{
		{ID: "m1", RoomID: room.ID, SenderID: "bob", Type: model.MessageTypeText, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "m2", RoomID: room.ID, SenderID: "bob", Type: model.MessageTypeText, CreatedAt: now.Add(-time.Minute)},
		// Own messages never count as unread.
		{ID: "m3", RoomID: room.ID, SenderID: "alice", Type: model.MessageTypeText, CreatedAt: now},
	}

	detail, err := svc.Detail(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, detail.UnreadCount)
	assert.Len(t, detail.Members, 2)

	require.NoError(t, svc.MarkRead(ctx, room.ID, "alice", "m1"))
	assert.Equal(t, "m1", rooms.reads[room.ID+"/alice"])
}

func TestDetailSurvivesLogStoreError(t *testing.T) {
	svc, _, _, msgs := newRoomFixture("alice")
	ctx := context.Background()

	room, err := svc.Create(ctx, "alice", "x", model.RoomTypeGroup, nil, nil)
	require.NoError(t, err)

	msgs.queryErr = assert.AnError
	detail, err := svc.Detail(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, detail.UnreadCount)
}

func TestRoomsListsActiveOnly(t *testing.T) {
	svc, _, _, _ := newRoomFixture("alice", "bob")
	ctx := context.Background()

	r1, err := svc.Create(ctx, "alice", "one", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)
	r2, err := svc.Create(ctx, "alice", "two", model.RoomTypeGroup, []string{"bob"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Leave(ctx, r1.ID, "bob"))

	got, err := svc.Rooms(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r2.ID, got[0].ID)
}
