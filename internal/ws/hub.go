package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
	"github.com/sobun/chat/internal/service"
)

// RoomAuthorizer answers the membership question for subscribe frames and
// records read cursors. RoomService implements it.
type RoomAuthorizer interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	MarkRead(ctx context.Context, roomID, userID, messageID string) error
}

// MessageSender persists and publishes a message. MessageService implements it.
type MessageSender interface {
	Send(ctx context.Context, roomID, senderID string, typ model.MessageType, content string) (*model.Message, error)
}

// RoomStream is the cross-instance subscription the hub holds while at
// least one local client watches a room. If nil the hub runs single-instance
// and relies on Deliver being called directly.
type RoomStream interface {
	Acquire(roomID string) error
	Release(roomID string)
}

// Presence receives the connection lifecycle events (subscribed,
// disconnected) and answers the viewing question for read gating.
// presence.Tracker implements it; keeping it behind an interface keeps the
// lifecycle seam and the presence logic independently testable.
type Presence interface {
	Subscribe(userID, roomID string)
	Disconnect(userID string)
	Current(userID string) string
}

type Hub struct {
	mu       sync.RWMutex
	byRoom   map[string]map[*Client]struct{}
	byUser   map[string]map[*Client]struct{}
	total    int
	maxConns int

	rooms    RoomAuthorizer
	messages MessageSender
	stream   RoomStream
	tracker  Presence
	sessions *SessionRegistry

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(rooms RoomAuthorizer, messages MessageSender, stream RoomStream, tracker Presence, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		byRoom:     make(map[string]map[*Client]struct{}),
		byUser:     make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		rooms:      rooms,
		messages:   messages,
		stream:     stream,
		tracker:    tracker,
		sessions:   NewSessionRegistry(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.byUser {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.byUser = make(map[string]map[*Client]struct{})
	h.byRoom = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		h.sessions.Remove(c.id)
		c.Close()
		return
	}
	key := c.userKey()
	if _, ok := h.byUser[key]; !ok {
		h.byUser[key] = make(map[*Client]struct{})
	}
	h.byUser[key][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	// Drop the session entry first so a client that never made it into the
	// indexes (rejected at the connection limit) cannot leak its principal.
	h.sessions.Remove(c.id)

	h.mu.Lock()
	key := c.userKey()
	clients, ok := h.byUser[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.byUser, key)
	}
	releaseRoom := h.detachFromRoomLocked(c)
	h.mu.Unlock()

	if releaseRoom != "" && h.stream != nil {
		h.stream.Release(releaseRoom)
	}
	if lastClient {
		h.tracker.Disconnect(c.userID)
	}

	// Network I/O outside the lock.
	c.Close()
}

// detachFromRoomLocked removes the client from its room index and returns
// the room to release when this was the last local watcher. Caller holds h.mu.
func (h *Hub) detachFromRoomLocked(c *Client) string {
	if c.room == "" {
		return ""
	}
	roomID := c.room
	c.room = ""
	watchers, ok := h.byRoom[roomID]
	if !ok {
		return ""
	}
	delete(watchers, c)
	if len(watchers) > 0 {
		return ""
	}
	delete(h.byRoom, roomID)
	return roomID
}

// Sessions exposes the connection-to-principal registry so the upgrade
// handler can register identities.
func (h *Hub) Sessions() *SessionRegistry {
	return h.sessions
}

// principalOf resolves the frame sender's identity from the session
// registry. Tokens are never re-verified after the handshake.
func (h *Hub) principalOf(c *Client) string {
	return h.sessions.Get(c.id).UserID
}

// HandleFrame dispatches incoming WebSocket frames.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, frame Frame) {
	switch frame.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, frame)
	case EventSend:
		h.handleSend(ctx, c, frame)
	case EventRead:
		h.handleRead(ctx, c, frame)
	default:
		h.sendToClient(c, Event{Type: EventError, Payload: "unknown frame type"})
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, frame Frame) {
	defer logger.DeferLogDuration("ws.handleSubscribe", time.Now())()
	if frame.RoomID == "" {
		h.sendToClient(c, Event{Type: EventError, Payload: "room_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Anonymous connections and non-members get the same answer; a missing
	// room looks identical to a foreign one.
	userID := h.principalOf(c)
	isMember := false
	if userID != "" {
		var err error
		isMember, err = h.rooms.IsMember(ctx, frame.RoomID, userID)
		if err != nil {
			logger.Errorf("ws check membership room=%s user=%s: %v", frame.RoomID, userID, err)
			h.sendToClient(c, Event{Type: EventError, Payload: "internal error"})
			return
		}
	}
	if !isMember {
		h.sendToClient(c, Event{Type: EventError, Payload: "authorization denied"})
		return
	}

	h.mu.Lock()
	if c.room == frame.RoomID {
		h.mu.Unlock()
		// Another connection of this user may have moved their presence
		// elsewhere; re-subscribing brings it back to this room.
		h.tracker.Subscribe(userID, frame.RoomID)
		h.sendToClient(c, Event{Type: EventSubscribed, Payload: SubscribedPayload{RoomID: frame.RoomID}})
		return
	}
	releaseRoom := h.detachFromRoomLocked(c)
	watchers, ok := h.byRoom[frame.RoomID]
	firstWatcher := !ok
	if firstWatcher {
		watchers = make(map[*Client]struct{})
		h.byRoom[frame.RoomID] = watchers
	}
	watchers[c] = struct{}{}
	c.room = frame.RoomID
	h.mu.Unlock()

	if h.stream != nil {
		if releaseRoom != "" {
			h.stream.Release(releaseRoom)
		}
		if firstWatcher {
			if err := h.stream.Acquire(frame.RoomID); err != nil {
				logger.Errorf("ws acquire stream room=%s: %v", frame.RoomID, err)
				// Detach every watcher, not just this client: others may
				// have joined the index while the acquire was in flight
				// and would otherwise sit there with no stream behind
				// them. The error event tells them to re-subscribe.
				h.mu.Lock()
				detached := make([]*Client, 0, len(h.byRoom[frame.RoomID]))
				for w := range h.byRoom[frame.RoomID] {
					w.room = ""
					detached = append(detached, w)
				}
				delete(h.byRoom, frame.RoomID)
				h.mu.Unlock()
				for _, w := range detached {
					h.sendToClient(w, Event{Type: EventError, Payload: "internal error"})
				}
				return
			}
		}
	}

	h.tracker.Subscribe(userID, frame.RoomID)
	h.sendToClient(c, Event{Type: EventSubscribed, Payload: SubscribedPayload{RoomID: frame.RoomID}})
}

func (h *Hub) handleSend(ctx context.Context, c *Client, frame Frame) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	if frame.RoomID == "" {
		h.sendToClient(c, Event{Type: EventError, Payload: "room_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	userID := h.principalOf(c)
	m, err := h.messages.Send(ctx, frame.RoomID, userID, frame.MessageType, frame.Content)
	if err != nil {
		h.sendToClient(c, Event{Type: EventError, Payload: errorText(err, "ws send", userID)})
		return
	}

	// The room-wide copy arrives via the fan-out stream; this ack carries
	// the persisted record back to the sender immediately.
	h.sendToClient(c, Event{Type: EventSent, Payload: m})
}

func (h *Hub) handleRead(ctx context.Context, c *Client, frame Frame) {
	if frame.RoomID == "" || frame.MessageID == "" {
		h.sendToClient(c, Event{Type: EventError, Payload: "room_id and message_id required"})
		return
	}

	// Read cursors only advance while the user is actually viewing the
	// room; a stale frame from a backgrounded tab must not mark anything.
	userID := h.principalOf(c)
	if userID == "" || h.tracker.Current(userID) != frame.RoomID {
		h.sendToClient(c, Event{Type: EventError, Payload: "not viewing room"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.rooms.MarkRead(ctx, frame.RoomID, userID, frame.MessageID); err != nil {
		h.sendToClient(c, Event{Type: EventError, Payload: errorText(err, "ws read", userID)})
	}
}

// Deliver fans a message out to every local client subscribed to its room.
// The broker calls this for messages from all instances, this one included.
func (h *Hub) Deliver(roomID string, m *model.Message) {
	h.mu.RLock()
	watchers, ok := h.byRoom[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(watchers))
	for c := range watchers {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	ev := Event{Type: EventMessage, Payload: m}
	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) sendToClient(c *Client, ev Event) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// userKey indexes anonymous clients under a reserved key so that two
// anonymous connections never collapse into one bucket entry per user id.
func (c *Client) userKey() string {
	if c.userID == "" {
		return "\x00anon"
	}
	return c.userID
}

func errorText(err error, op, userID string) string {
	switch {
	case errors.Is(err, service.ErrDenied):
		return "authorization denied"
	case errors.Is(err, service.ErrInvalidArgument):
		return "invalid request"
	case errors.Is(err, service.ErrNotFound):
		return "not found"
	default:
		logger.Errorf("%s user=%s: %v", op, userID, err)
		return "internal error"
	}
}
