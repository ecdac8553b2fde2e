package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sobun/chat/internal/middleware"
	"github.com/sobun/chat/internal/model"
	"github.com/sobun/chat/internal/service"
)

type RoomHandler struct {
	rooms *service.RoomService
}

func NewRoomHandler(rooms *service.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

type createRoomRequest struct {
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	MemberIDs    []string `json:"member_ids"`
	LinkedPostID *string  `json:"linked_post_id,omitempty"`
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	room, err := h.rooms.Create(r.Context(), middleware.GetUserID(r.Context()),
		req.Title, model.RoomType(req.Type), req.MemberIDs, req.LinkedPostID)
	if err != nil {
		writeServiceError(w, "handler.CreateRoom", err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.Rooms(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "handler.ListRooms", err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandler) Detail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.rooms.Detail(r.Context(), chi.URLParam(r, "roomID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "handler.RoomDetail", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *RoomHandler) Close(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Close(r.Context(), chi.URLParam(r, "roomID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "handler.CloseRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.rooms.Leave(r.Context(), chi.URLParam(r, "roomID"), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, "handler.LeaveRoom", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inviteRequest struct {
	InviteeID string `json:"invitee_id"`
}

func (h *RoomHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.InviteeID == "" {
		writeError(w, http.StatusBadRequest, "invitee_id required")
		return
	}

	inv, err := h.rooms.Invite(r.Context(), chi.URLParam(r, "roomID"),
		middleware.GetUserID(r.Context()), req.InviteeID)
	if err != nil {
		writeServiceError(w, "handler.Invite", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *RoomHandler) Accept(w http.ResponseWriter, r *http.Request) {
	err := h.rooms.Accept(r.Context(), chi.URLParam(r, "invitationID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "handler.AcceptInvitation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) Reject(w http.ResponseWriter, r *http.Request) {
	err := h.rooms.Reject(r.Context(), chi.URLParam(r, "invitationID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "handler.RejectInvitation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
