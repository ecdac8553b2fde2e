package ws

import (
	"sync"

	"github.com/sobun/chat/internal/model"
)

// SessionRegistry holds the principal for each live connection, keyed by
// connection id. It is populated once at connect, consulted on every frame
// without re-verifying the token, and removed at disconnect. Anonymous
// connections are simply absent.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]model.Principal
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]model.Principal)}
}

func (r *SessionRegistry) Put(connID string, p model.Principal) {
	r.mu.Lock()
	r.sessions[connID] = p
	r.mu.Unlock()
}

// Get returns the principal for the connection. The zero value means the
// connection is anonymous.
func (r *SessionRegistry) Get(connID string) model.Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[connID]
}

func (r *SessionRegistry) Remove(connID string) {
	r.mu.Lock()
	delete(r.sessions, connID)
	r.mu.Unlock()
}

// Count returns the number of authenticated sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
