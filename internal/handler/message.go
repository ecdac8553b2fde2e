package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sobun/chat/internal/middleware"
	"github.com/sobun/chat/internal/service"
)

type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// Recent serves the room history page: newest first, cursor-paged via the
// "before" query parameter (RFC 3339).
func (h *MessageHandler) Recent(w http.ResponseWriter, r *http.Request) {
	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
		before = t
	}
	limit := queryInt(r, "limit", 0)

	msgs, err := h.messages.Recent(r.Context(), chi.URLParam(r, "roomID"),
		middleware.GetUserID(r.Context()), limit, before)
	if err != nil {
		writeServiceError(w, "handler.RecentMessages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
