package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sobun/chat/internal/auth"
	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
	"github.com/sobun/chat/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	verifier       *auth.Verifier
	allowedOrigins string
}

// NewWSHandler builds the WebSocket entry point. allowedOrigins matches the
// CORS config (comma-separated or "*").
func NewWSHandler(hub *ws.Hub, verifier *auth.Verifier, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, verifier: verifier, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// principal resolves the connection identity. The handshake is fail-open:
// a missing or invalid token yields an anonymous connection that can hold
// the socket but is denied every room-scoped frame.
func (h *WSHandler) principal(r *http.Request) (model.Principal, bool) {
	raw := auth.FromBearer(r.Header.Get("Authorization"))
	if raw == "" {
		// Browser WebSocket clients cannot set headers; accept ?token=.
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return model.Principal{}, false
	}
	p, err := h.verifier.Verify(raw)
	if err != nil {
		logger.Infof("ws handshake: invalid token, connecting anonymously")
		return model.Principal{}, false
	}
	return p, true
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	p, authenticated := h.principal(r)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	// The principal is registered once here; subsequent frames resolve it
	// through the session registry without re-verifying the token.
	connID := uuid.NewString()
	if authenticated {
		h.hub.Sessions().Put(connID, p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, connID, p.UserID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
