package service

import (
	"context"
	"sort"
	"time"

	"github.com/sobun/chat/internal/model"
	"github.com/sobun/chat/internal/repository"
)

// In-memory fakes for the store interfaces. Each carries an optional err
// field to force a failure path.

type fakeRoomStore struct {
	rooms   map[string]*model.Room
	members map[string]map[string]model.MemberStatus // roomID -> userID -> status
	reads   map[string]string                        // roomID+"/"+userID -> messageID
	err     error
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{
		rooms:   make(map[string]*model.Room),
		members: make(map[string]map[string]model.MemberStatus),
		reads:   make(map[string]string),
	}
}

func (f *fakeRoomStore) Create(_ context.Context, room *model.Room, memberIDs []string) error {
	if f.err != nil {
		return f.err
	}
	cp := *room
	f.rooms[room.ID] = &cp
	f.members[room.ID] = make(map[string]model.MemberStatus)
	for _, id := range memberIDs {
		f.members[room.ID][id] = model.MemberStatusActive
	}
	return nil
}

func (f *fakeRoomStore) GetByID(_ context.Context, id string) (*model.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	room, ok := f.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeRoomStore) GetUserRooms(_ context.Context, userID string) ([]model.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Room
	for id, members := range f.members {
		if members[userID] == model.MemberStatusActive {
			out = append(out, *f.rooms[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRoomStore) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[roomID][userID] == model.MemberStatusActive, nil
}

func (f *fakeRoomStore) AddMember(_ context.Context, roomID, userID string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	if f.members[roomID] == nil {
		f.members[roomID] = make(map[string]model.MemberStatus)
	}
	f.members[roomID][userID] = model.MemberStatusActive
	return nil
}

func (f *fakeRoomStore) RemoveMember(_ context.Context, roomID, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.members[roomID][userID] = model.MemberStatusLeft
	return nil
}

func (f *fakeRoomStore) GetMembers(_ context.Context, roomID string) ([]model.RoomMember, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.RoomMember
	for uid, st := range f.members[roomID] {
		out = append(out, model.RoomMember{RoomID: roomID, UserID: uid, Status: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeRoomStore) UpdateMemberLastRead(_ context.Context, roomID, userID, messageID string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.reads[roomID+"/"+userID] = messageID
	return nil
}

func (f *fakeRoomStore) Close(_ context.Context, roomID string, closedAt, expireAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	room, ok := f.rooms[roomID]
	if !ok || room.Status != model.RoomStatusOpen {
		return repository.ErrNotFound
	}
	room.Status = model.RoomStatusClosed
	room.ClosedAt = &closedAt
	room.ExpireAt = &expireAt
	return nil
}

type fakeUserStore struct {
	users map[string]*model.User
	err   error
}

func newFakeUserStore(ids ...string) *fakeUserStore {
	f := &fakeUserStore{users: make(map[string]*model.User)}
	for _, id := range ids {
		f.users[id] = &model.User{ID: id, Nickname: id}
	}
	return f
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := f.users[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

type fakeInvitationStore struct {
	invs map[string]*model.Invitation
	err  error
}

func newFakeInvitationStore() *fakeInvitationStore {
	return &fakeInvitationStore{invs: make(map[string]*model.Invitation)}
}

func (f *fakeInvitationStore) Create(_ context.Context, inv *model.Invitation) error {
	if f.err != nil {
		return f.err
	}
	cp := *inv
	f.invs[inv.ID] = &cp
	return nil
}

func (f *fakeInvitationStore) GetByID(_ context.Context, id string) (*model.Invitation, error) {
	if f.err != nil {
		return nil, f.err
	}
	inv, ok := f.invs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInvitationStore) UpdateStatus(_ context.Context, id string, status model.InvitationStatus) error {
	if f.err != nil {
		return f.err
	}
	inv, ok := f.invs[id]
	if !ok || inv.Status != model.InvitationPending {
		return repository.ErrNotFound
	}
	inv.Status = status
	return nil
}

func (f *fakeInvitationStore) HasPending(_ context.Context, roomID, inviteeID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, inv := range f.invs {
		if inv.RoomID == roomID && inv.InviteeID == inviteeID && inv.Status == model.InvitationPending {
			return true, nil
		}
	}
	return false, nil
}

type fakeMessageStore struct {
	msgs      []model.Message
	insertErr error
	queryErr  error
}

func (f *fakeMessageStore) Insert(_ context.Context, m *model.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.msgs = append(f.msgs, *m)
	return nil
}

func (f *fakeMessageStore) Recent(_ context.Context, roomID string, limit int, before time.Time) ([]model.Message, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []model.Message
	for i := len(f.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.msgs[i]
		if m.RoomID == roomID && m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) CountSince(_ context.Context, roomID, userID string, since time.Time) (int, error) {
	if f.queryErr != nil {
		return 0, f.queryErr
	}
	n := 0
	for _, m := range f.msgs {
		if m.RoomID == roomID && m.SenderID != userID && m.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

type fakePublisher struct {
	published []*model.Message
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, m *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, m)
	return nil
}
