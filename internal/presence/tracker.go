// Package presence tracks which room, if any, each connected user is
// actively viewing. The state is deliberately in-memory only: a crash loses
// presence but never messages, and the next subscribe rebuilds it.
package presence

import "sync"

// Tracker is a concurrent user→room map driven by connection lifecycle
// events. All methods are safe to call from parallel event handlers, and
// the mutating ones are idempotent because duplicate lifecycle events are
// possible under network retries.
type Tracker struct {
	mu      sync.RWMutex
	viewing map[string]string // userID -> roomID
}

func NewTracker() *Tracker {
	return &Tracker{viewing: make(map[string]string)}
}

// Subscribe records that the user is now viewing roomID, replacing any
// previous entry. A user is never present in two rooms at once.
func (t *Tracker) Subscribe(userID, roomID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	t.viewing[userID] = roomID
	t.mu.Unlock()
}

// Disconnect clears the user's presence unconditionally. Unknown users
// (including anonymous connections) are a no-op.
func (t *Tracker) Disconnect(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	delete(t.viewing, userID)
	t.mu.Unlock()
}

// Current returns the room the user is viewing, or "" when absent.
func (t *Tracker) Current(userID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.viewing[userID]
}

// Viewers returns the users currently viewing the room.
func (t *Tracker) Viewers(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var users []string
	for uid, rid := range t.viewing {
		if rid == roomID {
			users = append(users, uid)
		}
	}
	return users
}
