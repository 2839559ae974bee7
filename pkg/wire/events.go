package wire

import (
	"bytes"
	"encoding/json"
)

// EventType tags the event envelope. Dispatch is a table from tag to handler.
type EventType string

// Client -> server events.
const (
	EvJoinRoom             EventType = "joinRoom"
	EvJoinRoomWithPassword EventType = "joinRoomWithPassword"
	EvLeaveRoom            EventType = "leaveRoom"
	EvSendMessage          EventType = "sendMessage"
	EvRequestUserList      EventType = "requestUserList"
	EvSetRoomPassword      EventType = "setRoomPassword"
	EvShareRoomLink        EventType = "shareRoomLink"
	EvRecallMessage        EventType = "recallMessage"
	EvPinRoom              EventType = "pinRoom"
	EvP2POffer             EventType = "p2pOffer"
	EvP2PAnswer            EventType = "p2pAnswer"
	EvP2PIceCandidate      EventType = "p2pIceCandidate"
)

// Server -> client events.
const (
	EvJoinedRoom        EventType = "joinedRoom"
	EvMessage           EventType = "message"
	EvMessageHistory    EventType = "messageHistory"
	EvUserJoined        EventType = "userJoined"
	EvUserLeft          EventType = "userLeft"
	EvUserList          EventType = "userList"
	EvSystemMessage     EventType = "systemMessage"
	EvRoomDestroyed     EventType = "roomDestroyed"
	EvRoomPasswordSet   EventType = "roomPasswordSet"
	EvRoomLinkGenerated EventType = "roomLinkGenerated"
	EvPasswordRequired  EventType = "passwordRequired"
	EvMessageRecalled   EventType = "messageRecalled"
	EvRoomPinned        EventType = "roomPinned"
	EvError             EventType = "error"
)

// Event is the tagged-union envelope carried over the websocket in both
// directions. Payload layout depends on Type.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an envelope. Marshal errors indicate a
// programming error (non-serializable payload) and surface to the caller.
func NewEvent(t EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: raw}, nil
}

// MustEvent is NewEvent for payloads the server itself constructs.
func MustEvent(t EventType, payload any) Event {
	ev, err := NewEvent(t, payload)
	if err != nil {
		panic("wire: unmarshalable server payload for " + string(t) + ": " + err.Error())
	}
	return ev
}

// ----------------------------------------------------------------------------
// Client payloads
// ----------------------------------------------------------------------------

// JoinRoomPayload is the payload of joinRoom / joinRoomWithPassword.
// Password is only consulted for joinRoomWithPassword.
type JoinRoomPayload struct {
	RoomKey     string     `json:"roomKey" validate:"required,roomkey"`
	DisplayName string     `json:"displayName" validate:"required,displayname"`
	DeviceKind  DeviceKind `json:"deviceKind"`
	Fingerprint string     `json:"fingerprint" validate:"required,min=8,max=128"`
	Password    string     `json:"password,omitempty"`
}

// SendMessagePayload is the payload of sendMessage.
type SendMessagePayload struct {
	Kind    MessageKind `json:"kind" validate:"required,oneof=text file"`
	Content string      `json:"content,omitempty"`
	File    *FileInfo   `json:"file,omitempty"`
}

// SetRoomPasswordPayload carries the tri-state password field:
// key absent -> no change requested (rejected as invalid_payload),
// null -> remove the password, "" -> auto-generate, text -> set verbatim.
type SetRoomPasswordPayload struct {
	Password OptionalString `json:"password"`
}

// RecallMessagePayload is the payload of recallMessage.
type RecallMessagePayload struct {
	MessageID string `json:"messageId" validate:"required,uuid4"`
}

// PinRoomPayload is the payload of pinRoom.
type PinRoomPayload struct {
	Pinned bool `json:"pinned"`
}

// P2PSignalPayload wraps the opaque signalling blob routed to one member of
// the sender's room. The server never inspects Data.
type P2PSignalPayload struct {
	TargetUserID string          `json:"targetUserId" validate:"required"`
	Data         json.RawMessage `json:"data"`
}

// ----------------------------------------------------------------------------
// Server payloads
// ----------------------------------------------------------------------------

// JoinedRoomPayload acknowledges a successful join. The user list and the
// recent history are delivered in one payload so the client observes a
// consistent snapshot.
type JoinedRoomPayload struct {
	RoomKey     string    `json:"roomKey"`
	User        User      `json:"user"`
	Pinned      bool      `json:"pinned"`
	HasPassword bool      `json:"hasPassword"`
	Users       []User    `json:"users"`
	Messages    []Message `json:"messages"`
}

// UserListPayload answers requestUserList and is also emitted on membership
// changes for backwards clients.
type UserListPayload struct {
	RoomKey string `json:"roomKey"`
	Users   []User `json:"users"`
}

// MessageHistoryPayload carries the ring contents for backwards clients that
// fetch history through the event stream after joining.
type MessageHistoryPayload struct {
	RoomKey  string    `json:"roomKey"`
	Messages []Message `json:"messages"`
}

// UserPresencePayload is the body of userJoined / userLeft.
type UserPresencePayload struct {
	RoomKey string `json:"roomKey"`
	User    User   `json:"user"`
}

// SystemMessageKind enumerates systemMessage variants.
type SystemMessageKind string

const (
	SystemFileDeleted   SystemMessageKind = "file_deleted"
	SystemFileExpired   SystemMessageKind = "file_expired"
	SystemRoomDestroyed SystemMessageKind = "room_destroyed"
)

// SystemMessagePayload is the body of systemMessage.
type SystemMessagePayload struct {
	Kind    SystemMessageKind `json:"kind"`
	RoomKey string            `json:"roomKey"`
	FileID  string            `json:"fileId,omitempty"`
}

// RoomDestroyedPayload announces janitor destruction, listing the file ids
// deleted in the cascade.
type RoomDestroyedPayload struct {
	RoomKey        string   `json:"roomKey"`
	DeletedFileIDs []string `json:"deletedFileIds"`
}

// RoomPasswordSetPayload is broadcast after setRoomPassword. Password is
// populated only on the copy sent to the acting member.
type RoomPasswordSetPayload struct {
	RoomKey     string `json:"roomKey"`
	HasPassword bool   `json:"hasPassword"`
	By          User   `json:"by"`
	Password    string `json:"password,omitempty"`
}

// RoomLinkGeneratedPayload answers shareRoomLink.
type RoomLinkGeneratedPayload struct {
	RoomKey string `json:"roomKey"`
	URL     string `json:"url"`
}

// PasswordRequiredPayload tells a joining client the room needs a password.
type PasswordRequiredPayload struct {
	RoomKey string `json:"roomKey"`
}

// MessageRecalledPayload announces a sender-recalled message.
type MessageRecalledPayload struct {
	RoomKey   string `json:"roomKey"`
	MessageID string `json:"messageId"`
	By        string `json:"by"`
}

// RoomPinnedPayload announces a pin-flag change.
type RoomPinnedPayload struct {
	RoomKey string `json:"roomKey"`
	Pinned  bool   `json:"pinned"`
	By      User   `json:"by"`
}

// ErrorPayload is the body of error events.
type ErrorPayload struct {
	Code   Code   `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// ErrorEvent builds an error event from a code and detail.
func ErrorEvent(code Code, detail string) Event {
	return MustEvent(EvError, ErrorPayload{Code: code, Detail: detail})
}

// ----------------------------------------------------------------------------
// OptionalString
// ----------------------------------------------------------------------------

// OptionalString distinguishes an absent JSON field from an explicit null
// and from an empty string. The zero value means "field absent".
type OptionalString struct {
	Present bool
	Null    bool
	Value   string
}

var jsonNull = []byte("null")

// UnmarshalJSON is only invoked when the key is present, which is what makes
// the absent/null distinction possible.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Present = true
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON round-trips the tri-state for tests and client use.
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if !o.Present || o.Null {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}
