// Package share issues externally addressable, optionally password
// protected, time bounded aliases for stored files and keeps an append-only
// access log per alias. The in-memory map is authoritative; every mutation
// is written through to the snapshot store for restart recovery.
package share

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/store"
	"github.com/cliproom/cliproom/pkg/wire"
)

// Access-log error codes. These are the short historical log values, not
// wire codes.
const (
	logInvalid       = "invalid"
	logExpired       = "expired"
	logRevoked       = "revoked"
	logWrongPassword = "wrong_password"
	logFileNotFound  = "file_not_found"
)

// allowedExpiryDays are the accepted values for expiresInDays.
var allowedExpiryDays = map[int]bool{1: true, 3: true, 7: true, 15: true, 30: true}

// DefaultExpiryDays applies when the creator does not pick an expiry.
const DefaultExpiryDays = 7

// Membership answers whether a user currently belongs to a room.
type Membership interface {
	IsMember(roomKey, userID string) bool
}

// FileProvider resolves file ids to metadata and blob streams.
type FileProvider interface {
	Info(fileID string) (*store.FileRecord, bool)
	Open(ctx context.Context, fileID string) (io.ReadSeekCloser, *store.FileRecord, error)
}

// Config controls share URLs, password hashing, and retention.
type Config struct {
	// BaseURL is the externally visible base embedded in share URLs.
	BaseURL string
	// BcryptCost for share password hashes. Floored at the registry
	// minimum.
	BcryptCost int
	// GCInterval is the collector tick.
	GCInterval time.Duration
	// RecordRetention keeps dead share records this long past expiry.
	RecordRetention time.Duration
	// LogRetention bounds access-log age.
	LogRetention time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = registry.MinBcryptCost
	}
	if c.GCInterval == 0 {
		c.GCInterval = time.Hour
	}
	if c.RecordRetention == 0 {
		c.RecordRetention = 7 * 24 * time.Hour
	}
	if c.LogRetention == 0 {
		c.LogRetention = 30 * 24 * time.Hour
	}
}

// Service is the share-link service.
type Service struct {
	config  Config
	snap    store.Store
	files   FileProvider
	members Membership

	mu     sync.RWMutex
	shares map[string]*store.ShareRecord

	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Option customizes a Service.
type Option func(*Service)

// WithClock substitutes the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the service and recovers share records from the snapshot
// store.
func New(config Config, snap store.Store, files FileProvider, members Membership, opts ...Option) (*Service, error) {
	config.applyDefaults()
	s := &Service{
		config:  config,
		snap:    snap,
		files:   files,
		members: members,
		shares:  make(map[string]*store.ShareRecord),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	records, err := snap.ListShares(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to recover share records: %w", err)
	}
	for _, rec := range records {
		s.shares[rec.ShareID] = rec
	}
	if len(s.shares) > 0 {
		logger.Info("Recovered share records", "shares", len(s.shares))
	}
	return s, nil
}

// CreateOptions tunes share creation. A non-empty Password sets a caller
// chosen one; WantPassword asks the server to generate one instead.
type CreateOptions struct {
	ExpiresInDays int
	WantPassword  bool
	Password      string
}

// CreateResult carries the new share plus the generated plaintext password,
// returned exactly once.
type CreateResult struct {
	Summary  wire.ShareSummary
	Password string
}

// Create issues a share link for fileID. The actor must be a member of the
// room that owns the file.
func (s *Service) Create(ctx context.Context, fileID, actorID string, opts CreateOptions) (*CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	days := opts.ExpiresInDays
	if days == 0 {
		days = DefaultExpiryDays
	}
	if !allowedExpiryDays[days] {
		return nil, wire.NewError(wire.CodeInvalidPayload, "expiresInDays must be one of 1, 3, 7, 15, 30")
	}

	fileRec, ok := s.files.Info(fileID)
	if !ok {
		return nil, wire.NewError(wire.CodeFileNotFound, "")
	}
	if !s.members.IsMember(fileRec.RoomKey, actorID) {
		return nil, wire.NewError(wire.CodeUserNotInRoom, "")
	}

	var plaintext string
	var hash []byte
	switch {
	case opts.WantPassword:
		pw, err := registry.GeneratePassword()
		if err != nil {
			return nil, fmt.Errorf("failed to generate share password: %w", err)
		}
		plaintext = pw
	case opts.Password != "":
		plaintext = opts.Password
	}
	if plaintext != "" {
		h, err := registry.HashPassword(plaintext, s.config.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash share password: %w", err)
		}
		hash = h
	}

	now := s.now()
	rec := &store.ShareRecord{
		FileID:       fileID,
		RoomKey:      fileRec.RoomKey,
		CreatedBy:    actorID,
		Filename:     fileRec.Name,
		Size:         fileRec.Size,
		MimeType:     fileRec.MimeType,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(days) * 24 * time.Hour),
		Status:       wire.ShareActive,
		PasswordHash: hash,
	}

	s.mu.Lock()
	for {
		id := newShareID()
		if _, taken := s.shares[id]; !taken {
			rec.ShareID = id
			s.shares[id] = rec
			break
		}
	}
	s.mu.Unlock()

	if err := s.snap.PutShare(ctx, rec); err != nil {
		logger.Error("Failed to snapshot share record", "share_id", rec.ShareID, "error", err)
	}

	logger.Info("Share created", "share_id", rec.ShareID, "file_id", fileID, "expires_at", rec.ExpiresAt)
	result := &CreateResult{Summary: s.summary(rec)}
	if opts.WantPassword {
		result.Password = plaintext
	}
	return result, nil
}

func (s *Service) shareURL(shareID string) string {
	return s.config.BaseURL + "/api/share/" + shareID + "/download"
}

// summary builds the external view. Caller must not hold a pointer into
// the map after the lock is released, so this copies everything it needs.
func (s *Service) summary(rec *store.ShareRecord) wire.ShareSummary {
	sum := wire.ShareSummary{
		ShareID:     rec.ShareID,
		FileID:      rec.FileID,
		Filename:    rec.Filename,
		Size:        rec.Size,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		Status:      rec.Status,
		AccessCount: rec.AccessCount,
		HasPassword: len(rec.PasswordHash) > 0,
		URL:         s.shareURL(rec.ShareID),
	}
	if rec.LastAccessedAt != nil {
		t := *rec.LastAccessedAt
		sum.LastAccessedAt = &t
	}
	return sum
}

// expireLocked transitions an active record past its deadline to expired.
// Caller holds mu for writing. Returns true when a transition happened.
func (s *Service) expireLocked(rec *store.ShareRecord, now time.Time) bool {
	if rec.Status == wire.ShareActive && now.After(rec.ExpiresAt) {
		rec.Status = wire.ShareExpired
		return true
	}
	return false
}

func (s *Service) persist(rec *store.ShareRecord) {
	cp := *rec
	if err := s.snap.PutShare(context.Background(), &cp); err != nil {
		logger.Error("Failed to snapshot share record", "share_id", rec.ShareID, "error", err)
	}
}

// ListOptions filters and pages List.
type ListOptions struct {
	Status wire.ShareStatus
	Limit  int
	Offset int
}

// List returns the actor's shares, newest first.
func (s *Service) List(actorID string, opts ListOptions) []wire.ShareSummary {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	now := s.now()
	s.mu.Lock()
	var matched []wire.ShareSummary
	for _, rec := range s.shares {
		if rec.CreatedBy != actorID {
			continue
		}
		if s.expireLocked(rec, now) {
			s.persist(rec)
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		matched = append(matched, s.summary(rec))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset >= len(matched) {
		return []wire.ShareSummary{}
	}
	matched = matched[opts.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// GetDetails returns one share's metadata to its creator. Non-owners get
// share_not_found rather than a hint that the id exists.
func (s *Service) GetDetails(shareID, actorID string) (*wire.ShareSummary, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.shares[shareID]
	if !ok || rec.CreatedBy != actorID {
		return nil, wire.NewError(wire.CodeShareNotFound, "")
	}
	if s.expireLocked(rec, now) {
		s.persist(rec)
	}
	sum := s.summary(rec)
	return &sum, nil
}

// Revoke transitions a share to revoked. Revoking a share that is already
// revoked or expired is a no-op.
func (s *Service) Revoke(shareID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.shares[shareID]
	if !ok || rec.CreatedBy != actorID {
		return wire.NewError(wire.CodeShareNotFound, "")
	}
	if rec.Status != wire.ShareActive {
		return nil
	}
	rec.Status = wire.ShareRevoked
	s.persist(rec)
	logger.Info("Share revoked", "share_id", shareID)
	return nil
}

// PermanentDelete hard-removes the record and its access log.
func (s *Service) PermanentDelete(ctx context.Context, shareID, actorID string) error {
	s.mu.Lock()
	rec, ok := s.shares[shareID]
	if !ok || rec.CreatedBy != actorID {
		s.mu.Unlock()
		return wire.NewError(wire.CodeShareNotFound, "")
	}
	delete(s.shares, shareID)
	s.mu.Unlock()

	if err := s.snap.DeleteShare(ctx, shareID); err != nil {
		logger.Error("Failed to delete share record snapshot", "share_id", shareID, "error", err)
	}
	if err := s.snap.DeleteAccess(ctx, shareID); err != nil {
		logger.Error("Failed to delete share access log", "share_id", shareID, "error", err)
	}
	logger.Info("Share permanently deleted", "share_id", shareID)
	return nil
}

// GetAccessLogs returns the newest limit entries for the actor's share,
// newest first.
func (s *Service) GetAccessLogs(ctx context.Context, shareID, actorID string, limit int) ([]wire.ShareAccessEntry, error) {
	s.mu.RLock()
	rec, ok := s.shares[shareID]
	owned := ok && rec.CreatedBy == actorID
	s.mu.RUnlock()
	if !owned {
		return nil, wire.NewError(wire.CodeShareNotFound, "")
	}

	entries, err := s.snap.ListAccess(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to read access log: %w", err)
	}
	// Stored oldest first; flip to newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RevokeForFiles revokes every active share referencing the given files.
// Part of the room destruction cascade.
func (s *Service) RevokeForFiles(fileIDs []string) {
	if len(fileIDs) == 0 {
		return
	}
	victims := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		victims[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.shares {
		if rec.Status == wire.ShareActive && victims[rec.FileID] {
			rec.Status = wire.ShareRevoked
			s.persist(rec)
			logger.Debug("Share revoked by cascade", "share_id", rec.ShareID, "file_id", rec.FileID)
		}
	}
}

// ShareCount returns the number of live share records. Used by metrics.
func (s *Service) ShareCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shares)
}

// Start runs the garbage collector until ctx is cancelled or Stop is
// called.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the collector. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Sweep lazily expires overdue shares, hard-deletes dead records past the
// retention window, and prunes old access-log entries. Logs survive their
// record's deletion until the log retention bound.
func (s *Service) Sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var dead []string
	for id, rec := range s.shares {
		if s.expireLocked(rec, now) {
			s.persist(rec)
		}
		if rec.Status != wire.ShareActive && now.Sub(rec.ExpiresAt) > s.config.RecordRetention {
			dead = append(dead, id)
			delete(s.shares, id)
		}
	}
	s.mu.Unlock()

	for _, id := range dead {
		if err := s.snap.DeleteShare(ctx, id); err != nil {
			logger.Error("Failed to delete share record snapshot", "share_id", id, "error", err)
		}
	}

	pruned, err := s.snap.PruneAccess(ctx, now.Add(-s.config.LogRetention))
	if err != nil {
		logger.Error("Failed to prune share access logs", "error", err)
	}
	if len(dead) > 0 || pruned > 0 {
		logger.Info("Share GC complete", "records_deleted", len(dead), "log_entries_pruned", pruned)
	}
}
