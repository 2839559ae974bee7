package handlers

import (
	"net/http"
	"strconv"

	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/wire"
)

// RoomsHandler serves the REST helpers clients use alongside the websocket.
type RoomsHandler struct {
	registry *registry.Registry
}

// NewRoomsHandler creates a RoomsHandler.
func NewRoomsHandler(reg *registry.Registry) *RoomsHandler {
	return &RoomsHandler{registry: reg}
}

// Messages handles GET /api/rooms/messages?limit=N. Returns up to limit
// recent messages of the caller's room, oldest first.
func (h *RoomsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	roomKey, _, err := roomActor(r, h.registry)
	if err != nil {
		WriteError(w, err)
		return
	}

	limit := registry.RingCapacity
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteCode(w, wire.CodeInvalidPayload, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := h.registry.RecentMessages(roomKey, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, wire.MessageHistoryPayload{RoomKey: roomKey, Messages: messages})
}

// ValidateUserRequest is the body of POST /api/rooms/validate-user.
type ValidateUserRequest struct {
	RoomKey         string `json:"roomKey"`
	UserFingerprint string `json:"userFingerprint"`
}

// ValidateUserResponse answers the reconnect probe.
type ValidateUserResponse struct {
	RoomExists bool `json:"roomExists"`
	UserExists bool `json:"userExists"`
}

// ValidateUser handles POST /api/rooms/validate-user. Clients probe it on
// reconnect to learn whether their room and identity survived.
func (h *RoomsHandler) ValidateUser(w http.ResponseWriter, r *http.Request) {
	var req ValidateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.RoomKey == "" || req.UserFingerprint == "" {
		WriteCode(w, wire.CodeInvalidPayload, "roomKey and userFingerprint are required")
		return
	}

	roomExists, userExists := h.registry.ValidateUser(req.RoomKey, req.UserFingerprint)
	WriteJSONOK(w, ValidateUserResponse{RoomExists: roomExists, UserExists: userExists})
}
