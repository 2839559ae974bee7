// Package store defines the snapshot persistence contract for the file
// index, share records, and share access logs. The in-process services own
// the authoritative state; a Store is the durable copy they recover from
// after a restart.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cliproom/cliproom/pkg/wire"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// FileRecord is the durable index entry for one stored blob. The blob
// bytes live on disk under the file store root, keyed by FileID.
type FileRecord struct {
	FileID       string    `json:"fileId"`
	RoomKey      string    `json:"roomKey"`
	OwnerID      string    `json:"ownerId"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
	LastModified time.Time `json:"lastModified"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// ShareRecord is the durable state of one share link. PasswordHash is the
// bcrypt hash of the optional share password; it never leaves the server.
type ShareRecord struct {
	ShareID        string           `json:"shareId"`
	FileID         string           `json:"fileId"`
	RoomKey        string           `json:"roomKey"`
	CreatedBy      string           `json:"createdBy"`
	Filename       string           `json:"filename"`
	Size           int64            `json:"size"`
	MimeType       string           `json:"mimeType"`
	CreatedAt      time.Time        `json:"createdAt"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	Status         wire.ShareStatus `json:"status"`
	PasswordHash   []byte           `json:"passwordHash,omitempty"`
	AccessCount    int64            `json:"accessCount"`
	LastAccessedAt *time.Time       `json:"lastAccessedAt,omitempty"`
}

// Store persists file index entries, share records, and access logs.
//
// Put operations are upserts. Delete operations are idempotent and succeed
// when the record is already gone. Implementations must be safe for
// concurrent use.
type Store interface {
	// PutFile upserts a file index entry.
	PutFile(ctx context.Context, rec *FileRecord) error

	// DeleteFile removes a file index entry.
	DeleteFile(ctx context.Context, fileID string) error

	// ListFiles returns every persisted file index entry.
	ListFiles(ctx context.Context) ([]*FileRecord, error)

	// PutShare upserts a share record.
	PutShare(ctx context.Context, rec *ShareRecord) error

	// DeleteShare removes a share record.
	DeleteShare(ctx context.Context, shareID string) error

	// ListShares returns every persisted share record.
	ListShares(ctx context.Context) ([]*ShareRecord, error)

	// AppendAccess appends one access-log entry for a share.
	AppendAccess(ctx context.Context, entry *wire.ShareAccessEntry) error

	// ListAccess returns the access log for one share, oldest first.
	ListAccess(ctx context.Context, shareID string) ([]wire.ShareAccessEntry, error)

	// DeleteAccess removes the entire access log for one share.
	DeleteAccess(ctx context.Context, shareID string) error

	// PruneAccess removes access-log entries older than cutoff, across all
	// shares. Returns the number of entries removed.
	PruneAccess(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the underlying resources.
	Close() error
}
