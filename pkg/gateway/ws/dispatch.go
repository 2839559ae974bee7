package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/ratelimit"
	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/wire"
)

type handlerFunc func(h *Hub, c *Conn, ev wire.Event) error

// handlers routes inbound event types. Unknown types get invalid_payload.
var handlers = map[wire.EventType]handlerFunc{
	wire.EvJoinRoom:             (*Hub).handleJoin,
	wire.EvJoinRoomWithPassword: (*Hub).handleJoin,
	wire.EvLeaveRoom:            (*Hub).handleLeave,
	wire.EvSendMessage:          (*Hub).handleSendMessage,
	wire.EvRequestUserList:      (*Hub).handleUserList,
	wire.EvSetRoomPassword:      (*Hub).handleSetPassword,
	wire.EvShareRoomLink:        (*Hub).handleShareRoomLink,
	wire.EvRecallMessage:        (*Hub).handleRecallMessage,
	wire.EvPinRoom:              (*Hub).handlePinRoom,
	wire.EvP2POffer:             (*Hub).handleP2PSignal,
	wire.EvP2PAnswer:            (*Hub).handleP2PSignal,
	wire.EvP2PIceCandidate:      (*Hub).handleP2PSignal,
}

// dispatch routes one inbound event, converts handler errors into error
// events, and records the outcome.
func (h *Hub) dispatch(c *Conn, ev wire.Event) {
	start := time.Now()

	var err error
	if fn, ok := handlers[ev.Type]; ok {
		err = fn(h, c, ev)
	} else {
		err = wire.NewError(wire.CodeInvalidPayload, "unknown event type "+string(ev.Type))
	}

	errCode := ""
	if err != nil {
		code := wire.CodeOf(err)
		errCode = string(code)
		detail := ""
		if we, ok := err.(*wire.Error); ok {
			detail = we.Detail
		} else {
			logger.Error("Event handler failed", "event", ev.Type, "conn_id", c.id, "error", err)
		}
		c.enqueue(wire.ErrorEvent(code, detail))
	}
	h.metrics.RecordEvent(string(ev.Type), time.Since(start), errCode)
}

// allow consumes a rate-limit slot for the connection and converts a denial
// into a rate_limited error.
func (h *Hub) allow(c *Conn, category ratelimit.Category) error {
	res := h.limiter.Allow(category, c.id)
	if res.Allowed {
		return nil
	}
	h.metrics.RecordRateLimited(string(category))
	return wire.NewError(wire.CodeRateLimited,
		fmt.Sprintf("retry after %d seconds", int(res.RetryAfter.Seconds()+1)))
}

func decodePayload(ev wire.Event, dst any) error {
	if len(ev.Payload) == 0 {
		return wire.NewError(wire.CodeInvalidPayload, "missing payload")
	}
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		return wire.NewError(wire.CodeInvalidPayload, "malformed payload")
	}
	return nil
}

// boundRoom returns the connection's binding. Events on an unbound
// connection fail with user_not_in_room.
func (c *Conn) boundRoom() (roomKey, userID string, err error) {
	roomKey, userID = c.binding()
	if roomKey == "" {
		return "", "", wire.NewError(wire.CodeUserNotInRoom, "join a room first")
	}
	return roomKey, userID, nil
}

func (h *Hub) handleJoin(c *Conn, ev wire.Event) error {
	if err := h.allow(c, ratelimit.EventJoinRoom); err != nil {
		return err
	}

	var payload wire.JoinRoomPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}
	if err := wire.ValidateStruct(&payload); err != nil {
		return err
	}
	if ev.Type == wire.EvJoinRoom {
		payload.Password = ""
	}

	result, err := h.registry.Join(payload.RoomKey, payload.Fingerprint, payload.DisplayName,
		wire.NormalizeDeviceKind(payload.DeviceKind), payload.Password)
	if err != nil {
		// A protected room answers the plain join with a dedicated prompt
		// instead of an error so clients can re-ask with a password.
		if wire.CodeOf(err) == wire.CodePasswordRequired && ev.Type == wire.EvJoinRoom {
			c.enqueue(wire.MustEvent(wire.EvPasswordRequired, wire.PasswordRequiredPayload{
				RoomKey: payload.RoomKey,
			}))
			return nil
		}
		return err
	}

	// Joining a new room replaces any previous binding.
	if prevRoom, prevUser := c.binding(); prevRoom != "" && prevRoom != payload.RoomKey {
		h.unbind(c, prevRoom)
		h.registry.Leave(prevRoom, prevUser)
	}
	c.setBinding(payload.RoomKey, result.User.ID)
	h.bind(c, payload.RoomKey, result.User.ID)

	c.enqueue(wire.MustEvent(wire.EvJoinedRoom, wire.JoinedRoomPayload{
		RoomKey:     payload.RoomKey,
		User:        result.User,
		Pinned:      result.Pinned,
		HasPassword: result.HasPassword,
		Users:       result.Users,
		Messages:    result.Messages,
	}))
	return nil
}

func (h *Hub) handleLeave(c *Conn, ev wire.Event) error {
	if err := h.allow(c, ratelimit.EventLeaveRoom); err != nil {
		return err
	}
	roomKey, userID, err := c.boundRoom()
	if err != nil {
		return err
	}

	h.unbind(c, roomKey)
	c.setBinding("", "")
	h.registry.Leave(roomKey, userID)
	return nil
}

func (h *Hub) handleSendMessage(c *Conn, ev wire.Event) error {
	roomKey, userID, err := c.boundRoom()
	if err != nil {
		return err
	}
	if err := h.allow(c, ratelimit.EventSendMessage); err != nil {
		return err
	}

	var payload wire.SendMessagePayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}
	if err := wire.ValidateSendMessage(&payload, time.Now()); err != nil {
		return err
	}

	_, err = h.registry.PostMessage(roomKey, userID, &payload)
	if err != nil {
		// The connection believes it is in a room the registry disagrees
		// about (janitor destruction, grace expiry). Tell the client and
		// force a reconnect so it rejoins cleanly.
		switch wire.CodeOf(err) {
		case wire.CodeRoomNotFound, wire.CodeUserNotInRoom:
			h.unbind(c, roomKey)
			c.setBinding("", "")
			c.enqueue(wire.ErrorEvent(wire.CodeOf(err), "membership lost, rejoin required"))
			c.closeSend()
			return nil
		}
		return err
	}
	return nil
}

func (h *Hub) handleUserList(c *Conn, ev wire.Event) error {
	roomKey, _, err := c.boundRoom()
	if err != nil {
		return err
	}
	if err := h.allow(c, ratelimit.EventUserList); err != nil {
		return err
	}

	users, err := h.registry.ListUsers(roomKey)
	if err != nil {
		return err
	}
	c.enqueue(wire.MustEvent(wire.EvUserList, wire.UserListPayload{
		RoomKey: roomKey,
		Users:   users,
	}))
	return nil
}

func (h *Hub) handleSetPassword(c *Conn, ev wire.Event) error {
	roomKey, userID, err := c.boundRoom()
	if err != nil {
		return err
	}
	if err := h.allow(c, ratelimit.EventPasswordChange); err != nil {
		return err
	}

	var payload wire.SetRoomPasswordPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}

	var update registry.PasswordUpdate
	switch {
	case !payload.Password.Present:
		return wire.NewError(wire.CodeInvalidPayload, "password field missing")
	case payload.Password.Null:
		update = registry.RemovePassword()
	case payload.Password.Value == "":
		update = registry.GeneratePasswordUpdate()
	default:
		update = registry.SetPassword(payload.Password.Value)
	}

	return h.registry.UpdatePassword(roomKey, userID, update)
}

func (h *Hub) handleShareRoomLink(c *Conn, ev wire.Event) error {
	roomKey, userID, err := c.boundRoom()
	if err != nil {
		return err
	}
	if err := h.allow(c, ratelimit.EventShareRoom); err != nil {
		return err
	}

	link, err := h.registry.ShareRoomLink(roomKey, userID)
	if err != nil {
		return err
	}
	c.enqueue(wire.MustEvent(wire.EvRoomLinkGenerated, wire.RoomLinkGeneratedPayload{
		RoomKey: roomKey,
		URL:     link,
	}))
	return nil
}

func (h *Hub) handleRecallMessage(c *Conn, ev wire.Event) error {
	roomKey, userID, err := c.boundRoom()
	if err != nil {
		return err
	}

	var payload wire.RecallMessagePayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}
	if err := wire.ValidateStruct(&payload); err != nil {
		return err
	}

	return h.registry.RecallMessage(roomKey, userID, payload.MessageID)
}

func (h *Hub) handlePinRoom(c *Conn, ev wire.Event) error {
	roomKey, userID, err := c.boundRoom()
	if err != nil {
		return err
	}

	var payload wire.PinRoomPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}

	return h.registry.PinRoom(roomKey, userID, payload.Pinned)
}

// handleP2PSignal relays an opaque signalling payload to one member of the
// sender's room, preserving the event type. The payload is forwarded
// untouched so the server stays out of the negotiation.
func (h *Hub) handleP2PSignal(c *Conn, ev wire.Event) error {
	roomKey, userID, err := c.boundRoom()
	if err != nil {
		return err
	}

	var payload wire.P2PSignalPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}
	if err := wire.ValidateStruct(&payload); err != nil {
		return err
	}
	if payload.TargetUserID == userID {
		return wire.NewError(wire.CodeInvalidPayload, "cannot signal yourself")
	}
	if !h.registry.IsMember(roomKey, payload.TargetUserID) {
		return wire.NewError(wire.CodeUserNotInRoom, "target is not in the room")
	}

	h.SendToUser(roomKey, payload.TargetUserID, wire.Event{Type: ev.Type, Payload: ev.Payload})
	return nil
}
