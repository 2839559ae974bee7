package handlers

import (
	"net/http"

	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/wire"
)

// Identity headers. The gateway has no account system; REST callers prove
// who they are by presenting the room key and the member id the websocket
// join handed them. Membership is re-checked against the registry on every
// request.
const (
	HeaderRoomKey = "X-Room-Key"
	HeaderUserID  = "X-User-Id"
)

// roomActor extracts and verifies the caller's room membership.
func roomActor(r *http.Request, reg *registry.Registry) (roomKey, userID string, err error) {
	roomKey = r.Header.Get(HeaderRoomKey)
	userID = r.Header.Get(HeaderUserID)
	if roomKey == "" || userID == "" {
		return "", "", wire.NewError(wire.CodeUserNotAuthenticated, "missing room identity headers")
	}
	if !reg.IsMember(roomKey, userID) {
		return "", "", wire.NewError(wire.CodeUserNotInRoom, "")
	}
	return roomKey, userID, nil
}

// actor extracts the caller's member id without pinning it to a room. Used
// by share management, where the room is implied by the share record.
func actor(r *http.Request) (string, error) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return "", wire.NewError(wire.CodeUserNotAuthenticated, "missing user identity header")
	}
	return userID, nil
}
