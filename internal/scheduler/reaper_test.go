package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReclaimer struct {
	mu             sync.Mutex
	expired        []string
	findErr        error
	deletedMembers [][]string
	deletedRooms   [][]string
}

func (f *fakeReclaimer) FindExpired(_ context.Context, _ time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.expired, nil
}

func (f *fakeReclaimer) DeleteMembers(_ context.Context, roomIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMembers = append(f.deletedMembers, roomIDs)
	return nil
}

func (f *fakeReclaimer) DeleteRooms(_ context.Context, roomIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRooms = append(f.deletedRooms, roomIDs)
	return nil
}

type fakePurger struct {
	mu      sync.Mutex
	purged  []string
	failFor map[string]bool
	block   chan struct{} // when set, DeleteRoom blocks until closed
}

func (f *fakePurger) DeleteRoom(_ context.Context, roomID string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[roomID] {
		return assert.AnError
	}
	f.purged = append(f.purged, roomID)
	return nil
}

func TestRunOnceReclaimsExpiredRooms(t *testing.T) {
	rooms := &fakeReclaimer{expired: []string{"r1", "r2"}}
	logs := &fakePurger{}
	reaper := NewReaper(rooms, logs, 3)

	require.NoError(t, reaper.RunOnce(context.Background()))

	assert.Equal(t, [][]string{{"r1", "r2"}}, rooms.deletedMembers)
	assert.Equal(t, []string{"r1", "r2"}, logs.purged)
	assert.Equal(t, [][]string{{"r1", "r2"}}, rooms.deletedRooms)
}

func TestRunOnceNothingExpired(t *testing.T) {
	rooms := &fakeReclaimer{}
	reaper := NewReaper(rooms, &fakePurger{}, 3)

	require.NoError(t, reaper.RunOnce(context.Background()))
	assert.Empty(t, rooms.deletedMembers)
	assert.Empty(t, rooms.deletedRooms)
}

func TestRunOnceIsolatesPurgeFailures(t *testing.T) {
	rooms := &fakeReclaimer{expired: []string{"r1", "r2", "r3"}}
	logs := &fakePurger{failFor: map[string]bool{"r2": true}}
	reaper := NewReaper(rooms, logs, 3)

	require.NoError(t, reaper.RunOnce(context.Background()))

	// r2's metadata row survives so the next pass retries it.
	assert.Equal(t, []string{"r1", "r3"}, logs.purged)
	assert.Equal(t, [][]string{{"r1", "r3"}}, rooms.deletedRooms)
}

func TestRunOnceFindFailure(t *testing.T) {
	rooms := &fakeReclaimer{findErr: assert.AnError}
	reaper := NewReaper(rooms, &fakePurger{}, 3)

	assert.Error(t, reaper.RunOnce(context.Background()))
}

func TestRunOnceSkipsWhenPassInFlight(t *testing.T) {
	rooms := &fakeReclaimer{expired: []string{"r1"}}
	logs := &fakePurger{block: make(chan struct{})}
	reaper := NewReaper(rooms, logs, 3)

	done := make(chan error, 1)
	go func() { done <- reaper.RunOnce(context.Background()) }()

	// Wait for the first pass to reach the blocking purge.
	require.Eventually(t, func() bool {
		rooms.mu.Lock()
		defer rooms.mu.Unlock()
		return len(rooms.deletedMembers) == 1
	}, time.Second, 5*time.Millisecond)

	// The overlapping call returns immediately without touching the stores.
	require.NoError(t, reaper.RunOnce(context.Background()))
	rooms.mu.Lock()
	assert.Len(t, rooms.deletedMembers, 1)
	rooms.mu.Unlock()

	close(logs.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"r1"}, logs.purged)
}

// timedReclaimer filters candidates by deadline like the real repository.
type timedReclaimer struct {
	fakeReclaimer
	deadlines map[string]time.Time
}

func (f *timedReclaimer) FindExpired(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	for id, expireAt := range f.deadlines {
		if expireAt.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func TestGracePeriodBoundary(t *testing.T) {
	closedAt := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	rooms := &timedReclaimer{deadlines: map[string]time.Time{
		"r1": closedAt.Add(30 * 24 * time.Hour),
	}}
	logs := &fakePurger{}
	reaper := NewReaper(rooms, logs, 3)

	// One day before the deadline the room survives untouched.
	reaper.now = func() time.Time { return closedAt.Add(29 * 24 * time.Hour) }
	require.NoError(t, reaper.RunOnce(context.Background()))
	assert.Empty(t, rooms.deletedRooms)
	assert.Empty(t, logs.purged)

	// One day after, membership rows, messages and metadata all go.
	reaper.now = func() time.Time { return closedAt.Add(31 * 24 * time.Hour) }
	require.NoError(t, reaper.RunOnce(context.Background()))
	assert.Equal(t, [][]string{{"r1"}}, rooms.deletedMembers)
	assert.Equal(t, []string{"r1"}, logs.purged)
	assert.Equal(t, [][]string{{"r1"}}, rooms.deletedRooms)
}

func TestNextRunAt(t *testing.T) {
	reaper := NewReaper(&fakeReclaimer{}, &fakePurger{}, 3)

	before := time.Date(2026, 8, 31, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC), reaper.nextRunAt(before))

	after := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC), reaper.nextRunAt(after))
}

func TestNewReaperClampsHour(t *testing.T) {
	assert.Equal(t, 3, NewReaper(&fakeReclaimer{}, &fakePurger{}, -1).hour)
	assert.Equal(t, 3, NewReaper(&fakeReclaimer{}, &fakePurger{}, 24).hour)
	assert.Equal(t, 0, NewReaper(&fakeReclaimer{}, &fakePurger{}, 0).hour)
}
