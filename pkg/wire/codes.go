package wire

import "net/http"

// Code is a stable, machine-readable error code. Codes are shared verbatim
// between HTTP response messages and websocket error events; translation to
// user-facing text is the client's job.
type Code string

const (
	CodeInvalidPayload       Code = "invalid_payload"
	CodeRateLimited          Code = "rate_limited"
	CodePasswordRequired     Code = "password_required"
	CodeInvalidPassword      Code = "invalid_password"
	CodeRoomNotFound         Code = "room_not_found"
	CodeUserNotAuthenticated Code = "user_not_authenticated"
	CodeUserNotInRoom        Code = "user_not_in_room"
	CodeNotYourMessage       Code = "not_your_message"
	CodeMessageNotFound      Code = "message_not_found"
	CodeInvalidFileReference Code = "invalid_file_reference"
	CodeFileTooLarge         Code = "file_too_large"
	CodeFileNotFound         Code = "file_not_found"
	CodeShareNotFound        Code = "share_not_found"
	CodeShareExpired         Code = "share_expired"
	CodeShareRevoked         Code = "share_revoked"
	CodeAuthRequired         Code = "authentication_required"
	CodeInternal             Code = "internal"
)

// HTTPStatus maps an error code to its HTTP status.
//
// Expired shares return 410 Gone so clients can distinguish "no longer
// valid" from "never existed". Revoked shares return 404 on purpose: a
// revoked link must be indistinguishable from one that never existed.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidPayload, CodeInvalidFileReference:
		return http.StatusBadRequest
	case CodeInvalidPassword, CodePasswordRequired, CodeAuthRequired, CodeUserNotAuthenticated:
		return http.StatusUnauthorized
	case CodeUserNotInRoom, CodeNotYourMessage:
		return http.StatusForbidden
	case CodeRoomNotFound, CodeMessageNotFound, CodeFileNotFound, CodeShareNotFound:
		return http.StatusNotFound
	case CodeShareExpired:
		return http.StatusGone
	case CodeShareRevoked:
		return http.StatusNotFound
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (c Code) String() string { return string(c) }

// Error wraps a Code with optional detail so services can return wire-level
// failures as ordinary Go errors.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Detail
}

// NewError builds a wire error with the given code and optional detail.
func NewError(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// CodeOf extracts the wire code from err, or CodeInternal for unknown errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if we, ok := err.(*Error); ok {
		return we.Code
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if inner := CodeOf(u.Unwrap()); inner != "" {
			return inner
		}
	}
	return CodeInternal
}
