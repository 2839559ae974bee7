// Package filestore holds room-scoped file blobs on local disk with an
// in-memory index. Uploads land in a temp file and are renamed into place,
// so the index never points at a partial blob. Every file expires on a
// fixed TTL enforced by a background sweeper.
package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/store"
	"github.com/cliproom/cliproom/pkg/wire"
)

// Broadcaster fans room events out to connected members.
type Broadcaster interface {
	Broadcast(roomKey string, ev wire.Event)
}

// Config controls blob placement and expiry.
type Config struct {
	// Root is the directory blobs live in. Created if missing.
	Root string
	// MaxFileSize rejects larger uploads. Defaults to wire.MaxFileSize.
	MaxFileSize int64
	// TTL is how long a blob survives after upload.
	TTL time.Duration
	// SweepInterval is the expiry sweeper tick.
	SweepInterval time.Duration
	// DisallowedTypes rejects uploads by declared MIME type. Entries are
	// exact types ("application/x-msdownload") or wildcards ("video/*").
	// Empty allows everything.
	DisallowedTypes []string
}

func (c *Config) applyDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = wire.MaxFileSize
	}
	if c.TTL == 0 {
		c.TTL = 12 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 10 * time.Minute
	}
}

// Store is the file blob store. It implements the file ownership surface
// the room registry cascades through on destruction.
type Store struct {
	config Config
	snap   store.Store

	mu    sync.RWMutex
	files map[string]*store.FileRecord

	notifier Broadcaster
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Option customizes a Store.
type Option func(*Store)

// WithClock substitutes the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the store, ensures the blob root exists, and recovers the
// index from the snapshot store. Snapshot entries whose blob is missing on
// disk are dropped; blobs without a snapshot entry are deleted.
func New(config Config, snap store.Store, opts ...Option) (*Store, error) {
	config.applyDefaults()
	if err := os.MkdirAll(config.Root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create file store root: %w", err)
	}

	s := &Store{
		config: config,
		snap:   snap,
		files:  make(map[string]*store.FileRecord),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// Bind attaches the event fan-out. Must be called before Start.
func (s *Store) Bind(notifier Broadcaster) {
	s.notifier = notifier
}

func (s *Store) recover() error {
	records, err := s.snap.ListFiles(context.Background())
	if err != nil {
		return fmt.Errorf("failed to recover file index: %w", err)
	}

	indexed := make(map[string]bool, len(records))
	for _, rec := range records {
		if _, err := os.Stat(s.blobPath(rec.FileID)); err != nil {
			logger.Warn("Dropping file record with missing blob", "file_id", rec.FileID)
			if derr := s.snap.DeleteFile(context.Background(), rec.FileID); derr != nil {
				logger.Error("Failed to drop stale file record", "file_id", rec.FileID, "error", derr)
			}
			continue
		}
		s.files[rec.FileID] = rec
		indexed[rec.FileID] = true
	}

	// Orphan blobs are unreachable; remove them.
	entries, err := os.ReadDir(s.config.Root)
	if err != nil {
		return fmt.Errorf("failed to scan file store root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || indexed[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.Root, entry.Name())); err != nil {
			logger.Warn("Failed to remove orphan blob", "name", entry.Name(), "error", err)
		}
	}

	if len(s.files) > 0 {
		logger.Info("Recovered file index", "files", len(s.files))
	}
	return nil
}

func (s *Store) blobPath(fileID string) string {
	return filepath.Join(s.config.Root, fileID)
}

// typeDisallowed matches the declared MIME type against the configured
// deny-list, ignoring parameters like charset.
func (s *Store) typeDisallowed(mimeType string) bool {
	if len(s.config.DisallowedTypes) == 0 {
		return false
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	for _, deny := range s.config.DisallowedTypes {
		deny = strings.ToLower(deny)
		if prefix, ok := strings.CutSuffix(deny, "/*"); ok {
			if strings.HasPrefix(mimeType, prefix+"/") {
				return true
			}
			continue
		}
		if mimeType == deny {
			return true
		}
	}
	return false
}

// Upload streams body to disk and indexes the result. The sanitized name,
// not the client's, is what the record and download headers carry. Uploads
// past the size limit fail with file_too_large and leave nothing behind.
func (s *Store) Upload(ctx context.Context, roomKey, ownerID, name, mimeType string, lastModified time.Time, body io.Reader) (*wire.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.typeDisallowed(mimeType) {
		return nil, wire.NewError(wire.CodeInvalidPayload, "content type not allowed")
	}

	now := s.now()
	if lastModified.IsZero() || lastModified.After(now.Add(wire.MaxModifiedSkew)) || lastModified.Before(now.Add(-10*365*24*time.Hour)) {
		lastModified = now
	}

	tmp, err := os.CreateTemp(s.config.Root, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, io.LimitReader(body, s.config.MaxFileSize+1))
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if written > s.config.MaxFileSize {
		os.Remove(tmpName)
		return nil, wire.NewError(wire.CodeFileTooLarge, fmt.Sprintf("file exceeds %d bytes", s.config.MaxFileSize))
	}

	fileID := uuid.New().String()
	if err := os.Rename(tmpName, s.blobPath(fileID)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}

	rec := &store.FileRecord{
		FileID:       fileID,
		RoomKey:      roomKey,
		OwnerID:      ownerID,
		Name:         SanitizeName(name),
		Size:         written,
		MimeType:     mimeType,
		LastModified: lastModified,
		UploadedAt:   now,
	}

	s.mu.Lock()
	s.files[fileID] = rec
	s.mu.Unlock()

	if err := s.snap.PutFile(ctx, rec); err != nil {
		logger.Error("Failed to snapshot file record", "file_id", fileID, "error", err)
	}

	logger.Debug("File uploaded", "file_id", fileID, "room", roomKey, "size", written)
	return s.fileInfo(rec), nil
}

func (s *Store) fileInfo(rec *store.FileRecord) *wire.FileInfo {
	return &wire.FileInfo{
		FileID:       rec.FileID,
		Name:         rec.Name,
		Size:         rec.Size,
		MimeType:     rec.MimeType,
		LastModified: rec.LastModified,
		DownloadURL:  "/api/files/download/" + rec.FileID,
	}
}

// Info returns the index record for fileID.
func (s *Store) Info(fileID string) (*store.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fileID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Open returns the blob for streaming along with its record. The caller
// closes the reader.
func (s *Store) Open(ctx context.Context, fileID string) (io.ReadSeekCloser, *store.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rec, ok := s.Info(fileID)
	if !ok {
		return nil, nil, wire.NewError(wire.CodeFileNotFound, "")
	}
	f, err := os.Open(s.blobPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, wire.NewError(wire.CodeFileNotFound, "")
		}
		return nil, nil, fmt.Errorf("failed to open blob %s: %w", fileID, err)
	}
	return f, rec, nil
}

// Delete removes a blob and its index entry and tells the room. Idempotent.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, ok := s.removeOne(fileID)
	if !ok {
		return nil
	}
	s.announce(rec, wire.SystemFileDeleted)
	return nil
}

// removeOne drops one file from index, disk, and snapshot. Returns the
// removed record, or false when the file was not indexed.
func (s *Store) removeOne(fileID string) (*store.FileRecord, bool) {
	s.mu.Lock()
	rec, ok := s.files[fileID]
	if ok {
		delete(s.files, fileID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	if err := os.Remove(s.blobPath(fileID)); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove blob", "file_id", fileID, "error", err)
	}
	if err := s.snap.DeleteFile(context.Background(), fileID); err != nil {
		logger.Error("Failed to drop file record snapshot", "file_id", fileID, "error", err)
	}
	return rec, true
}

func (s *Store) announce(rec *store.FileRecord, kind wire.SystemMessageKind) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(rec.RoomKey, wire.MustEvent(wire.EvSystemMessage, wire.SystemMessagePayload{
		Kind:    kind,
		RoomKey: rec.RoomKey,
		FileID:  rec.FileID,
	}))
}

// OwnedBy reports whether fileID exists and belongs to roomKey.
func (s *Store) OwnedBy(fileID, roomKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fileID]
	return ok && rec.RoomKey == roomKey
}

// RoomFileIDs lists the ids of files owned by roomKey.
func (s *Store) RoomFileIDs(roomKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.files {
		if rec.RoomKey == roomKey {
			ids = append(ids, id)
		}
	}
	return ids
}

// DeleteRoomFiles removes every file owned by roomKey and returns the
// deleted ids. No per-file announcements; the room is going away.
func (s *Store) DeleteRoomFiles(roomKey string) []string {
	ids := s.RoomFileIDs(roomKey)
	for _, id := range ids {
		s.removeOne(id)
	}
	return ids
}

// FileCount returns the number of indexed files. Used by metrics.
func (s *Store) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Start runs the expiry sweeper until ctx is cancelled or Stop is called.
func (s *Store) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Sweep deletes every file past the TTL and announces each expiry to its
// room.
func (s *Store) Sweep() {
	cutoff := s.now().Add(-s.config.TTL)

	s.mu.RLock()
	var expired []string
	for id, rec := range s.files {
		if rec.UploadedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		if rec, ok := s.removeOne(id); ok {
			s.announce(rec, wire.SystemFileExpired)
			logger.Debug("File expired", "file_id", id, "room", rec.RoomKey)
		}
	}
}
