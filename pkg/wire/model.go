// Package wire is the single source of truth for the cliproom protocol:
// JSON models, event envelopes, stable error codes, and payload validation.
// Clients and server share this contract.
package wire

import "time"

// DeviceKind classifies the joining device. Unknown values normalize to
// DeviceUnknown at validation time.
type DeviceKind string

const (
	DeviceMobile  DeviceKind = "mobile"
	DeviceDesktop DeviceKind = "desktop"
	DeviceTablet  DeviceKind = "tablet"
	DeviceUnknown DeviceKind = "unknown"
)

// MessageKind is the closed union of message payload kinds.
type MessageKind string

const (
	MessageText MessageKind = "text"
	MessageFile MessageKind = "file"
)

// User is the member snapshot embedded in messages and presence events.
type User struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	DeviceKind  DeviceKind `json:"deviceKind"`
	Online      bool       `json:"online"`
	LastSeen    time.Time  `json:"lastSeen"`
}

// FileInfo describes the file referenced by a file-kind message.
type FileInfo struct {
	FileID       string    `json:"fileId"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
	LastModified time.Time `json:"lastModified"`
	DownloadURL  string    `json:"downloadUrl"`
}

// Message is one entry in a room's message ring. Content and File are
// mutually exclusive by Kind.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	RoomKey   string      `json:"roomKey"`
	Sender    User        `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	Content   string      `json:"content,omitempty"`
	File      *FileInfo   `json:"file,omitempty"`
}

// ShareStatus is the lifecycle state of a share link.
type ShareStatus string

const (
	ShareActive  ShareStatus = "active"
	ShareExpired ShareStatus = "expired"
	ShareRevoked ShareStatus = "revoked"
)

// ShareSummary is the list/detail view of a share link. The password hash
// never leaves the server; only HasPassword is exposed.
type ShareSummary struct {
	ShareID        string      `json:"shareId"`
	FileID         string      `json:"fileId"`
	Filename       string      `json:"filename"`
	Size           int64       `json:"size"`
	CreatedAt      time.Time   `json:"createdAt"`
	ExpiresAt      time.Time   `json:"expiresAt"`
	Status         ShareStatus `json:"status"`
	AccessCount    int64       `json:"accessCount"`
	LastAccessedAt *time.Time  `json:"lastAccessedAt,omitempty"`
	HasPassword    bool        `json:"hasPassword"`
	URL            string      `json:"url,omitempty"`
}

// ShareAccessEntry is one append-only access-log record.
type ShareAccessEntry struct {
	ShareID          string    `json:"shareId"`
	Timestamp        time.Time `json:"timestamp"`
	ClientIP         string    `json:"clientIp"`
	UserAgent        string    `json:"userAgent"`
	Success          bool      `json:"success"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	BytesTransferred int64     `json:"bytesTransferred"`
}
