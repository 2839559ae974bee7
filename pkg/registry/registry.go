// Package registry is the authoritative in-memory map of rooms: membership,
// the bounded message ring, room passwords, pinning, and the janitor that
// destroys idle rooms.
//
// Each room is an independent synchronization unit; operations on distinct
// rooms proceed in parallel. The registry map itself is guarded by a lighter
// lock used only for lookup, insert, and remove.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/wire"
)

// userNamespace seeds deterministic user-id derivation. Changing it would
// re-identify every returning client.
var userNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("cliproom/user-id"))

// Notifier fans registry events out to connected clients. Implemented by the
// session gateway; a no-op implementation serves tests.
type Notifier interface {
	// Broadcast delivers ev to every member of the room.
	Broadcast(roomKey string, ev wire.Event)
	// BroadcastExcept delivers ev to every member except userID.
	BroadcastExcept(roomKey, userID string, ev wire.Event)
	// SendToUser delivers ev to the connections bound to one member.
	SendToUser(roomKey, userID string, ev wire.Event)
}

// FileOwner answers questions the registry has about room-owned files and
// executes the deletion leg of room destruction. Implemented by the file
// store.
type FileOwner interface {
	// OwnedBy reports whether fileID exists and belongs to roomKey.
	OwnedBy(fileID, roomKey string) bool
	// RoomFileIDs lists the ids of files owned by roomKey.
	RoomFileIDs(roomKey string) []string
	// DeleteRoomFiles removes all files owned by roomKey and returns the
	// ids actually deleted.
	DeleteRoomFiles(roomKey string) []string
}

// ShareRevoker revokes share links during room destruction. Implemented by
// the share-link service.
type ShareRevoker interface {
	// RevokeForFiles revokes every active share referencing the files.
	RevokeForFiles(fileIDs []string)
}

// Config tunes the registry.
type Config struct {
	// Salt feeds deterministic user-id derivation.
	Salt string
	// BcryptCost for room password hashes. Floored at MinBcryptCost.
	BcryptCost int
	// IdleTTL is how long an empty, unpinned room survives.
	IdleTTL time.Duration
	// SweepInterval is the janitor tick.
	SweepInterval time.Duration
	// AppURL is the externally visible base URL embedded in room links.
	AppURL string
}

func (c *Config) applyDefaults() {
	if c.BcryptCost == 0 {
		c.BcryptCost = MinBcryptCost
	}
	if c.IdleTTL == 0 {
		c.IdleTTL = 24 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.AppURL == "" {
		c.AppURL = "http://localhost:8080"
	}
}

// Registry owns all rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	config   Config
	notifier Notifier
	files    FileOwner
	shares   ShareRevoker

	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock substitutes the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry. The collaborating services are attached with Bind
// because the gateway, file store, and registry reference each other.
func New(config Config, opts ...Option) *Registry {
	config.applyDefaults()
	r := &Registry{
		rooms:  make(map[string]*room),
		config: config,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind attaches the collaborating services. Must be called before Start and
// before any operation that fans out or cascades.
func (r *Registry) Bind(notifier Notifier, files FileOwner, shares ShareRevoker) {
	r.notifier = notifier
	r.files = files
	r.shares = shares
}

// UserID derives the deterministic member id for a fingerprint in a room.
func (r *Registry) UserID(fingerprintHash, roomKey string) string {
	seed := fmt.Sprintf("%s|%s|%s", fingerprintHash, roomKey, r.config.Salt)
	return uuid.NewSHA1(userNamespace, []byte(seed)).String()
}

// lookup returns the room for key, or nil.
func (r *Registry) lookup(key string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key]
}

// lookupOrCreate returns the room for key, creating it when absent.
func (r *Registry) lookupOrCreate(key string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[key]; ok {
		return existing, false
	}
	rm := newRoom(key, r.now())
	r.rooms[key] = rm
	return rm, true
}

// JoinResult is the successful outcome of Join.
type JoinResult struct {
	User        wire.User
	Users       []wire.User
	Messages    []wire.Message
	Pinned      bool
	HasPassword bool
	Created     bool
}

// Join adds (or re-binds) a member to a room, creating the room if absent.
//
// Password rules: if the room has a password and providedPassword is empty,
// Join fails with password_required; a non-empty mismatch fails with
// invalid_password. Re-joining with an existing user-id refreshes the member
// instead of duplicating it.
func (r *Registry) Join(roomKey, fingerprintHash, displayName string, device wire.DeviceKind, providedPassword string) (*JoinResult, error) {
	userID := r.UserID(fingerprintHash, roomKey)
	rm, created := r.lookupOrCreate(roomKey)

	// bcrypt comparison stays off the room's critical section: snapshot
	// the hash, verify outside the lock, and detect concurrent password
	// changes through the generation counter.
	for {
		rm.mu.Lock()
		if rm.state != roomActive {
			rm.mu.Unlock()
			return nil, wire.NewError(wire.CodeRoomNotFound, "room is being destroyed")
		}
		hash := rm.passwordHash
		gen := rm.passwordGen
		rm.mu.Unlock()

		if len(hash) > 0 {
			if providedPassword == "" {
				return nil, wire.NewError(wire.CodePasswordRequired, "")
			}
			if !CheckPassword(hash, providedPassword) {
				return nil, wire.NewError(wire.CodeInvalidPassword, "")
			}
		}

		rm.mu.Lock()
		if rm.passwordGen != gen {
			// Password changed while we were hashing; re-verify.
			rm.mu.Unlock()
			continue
		}
		if rm.state != roomActive {
			rm.mu.Unlock()
			return nil, wire.NewError(wire.CodeRoomNotFound, "room is being destroyed")
		}

		now := r.now()
		user := wire.User{
			ID:          userID,
			DisplayName: displayName,
			DeviceKind:  wire.NormalizeDeviceKind(device),
			Online:      true,
			LastSeen:    now,
		}
		rm.members[userID] = &member{user: user, fingerprintHash: fingerprintHash}
		rm.touch(now)

		result := &JoinResult{
			User:        user,
			Users:       rm.userSnapshot(),
			Messages:    rm.ring.snapshot(RingCapacity),
			Pinned:      rm.pinned,
			HasPassword: len(rm.passwordHash) > 0,
			Created:     created,
		}
		rm.mu.Unlock()

		r.notifier.BroadcastExcept(roomKey, userID, wire.MustEvent(wire.EvUserJoined, wire.UserPresencePayload{
			RoomKey: roomKey,
			User:    user,
		}))

		logger.Info("member joined room", "room", roomKey, "user", userID, "created", created)
		return result, nil
	}
}

// Leave removes a member from a room. Leaving twice, or leaving a room that
// no longer exists, is a no-op.
func (r *Registry) Leave(roomKey, userID string) {
	rm := r.lookup(roomKey)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	m, ok := rm.members[userID]
	if !ok || rm.state != roomActive {
		rm.mu.Unlock()
		return
	}
	delete(rm.members, userID)
	user := m.user
	user.Online = false
	rm.touch(r.now())
	rm.mu.Unlock()

	r.notifier.Broadcast(roomKey, wire.MustEvent(wire.EvUserLeft, wire.UserPresencePayload{
		RoomKey: roomKey,
		User:    user,
	}))

	logger.Info("member left room", "room", roomKey, "user", userID)
}

// SetOnline flips a member's presence flag without removing membership.
// Used by the gateway when the last connection drops but the leave grace
// period has not elapsed.
func (r *Registry) SetOnline(roomKey, userID string, online bool) {
	rm := r.lookup(roomKey)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	if m, ok := rm.members[userID]; ok {
		m.user.Online = online
		m.user.LastSeen = r.now()
	}
	rm.mu.Unlock()
}

// PostMessage validates sender membership and the file reference (for
// file-kind messages), appends to the ring, and fans out to all members.
func (r *Registry) PostMessage(roomKey, senderID string, payload *wire.SendMessagePayload) (*wire.Message, error) {
	rm := r.lookup(roomKey)
	if rm == nil {
		return nil, wire.NewError(wire.CodeRoomNotFound, "")
	}

	if payload.Kind == wire.MessageFile {
		if payload.File == nil || !r.files.OwnedBy(payload.File.FileID, roomKey) {
			return nil, wire.NewError(wire.CodeInvalidFileReference, "file does not belong to this room")
		}
	}

	rm.mu.Lock()
	if rm.state != roomActive {
		rm.mu.Unlock()
		return nil, wire.NewError(wire.CodeRoomNotFound, "room is being destroyed")
	}
	sender, ok := rm.memberUser(senderID)
	if !ok {
		rm.mu.Unlock()
		return nil, wire.NewError(wire.CodeUserNotInRoom, "")
	}

	now := r.now()
	msg := wire.Message{
		ID:        uuid.NewString(),
		Kind:      payload.Kind,
		RoomKey:   roomKey,
		Sender:    sender,
		Timestamp: now,
		Content:   payload.Content,
		File:      payload.File,
	}
	rm.ring.append(msg)
	rm.touch(now)
	rm.mu.Unlock()

	r.notifier.Broadcast(roomKey, wire.MustEvent(wire.EvMessage, msg))
	return &msg, nil
}

// RecentMessages returns up to limit messages from the ring, oldest first.
func (r *Registry) RecentMessages(roomKey string, limit int) ([]wire.Message, error) {
	rm := r.lookup(roomKey)
	if rm == nil {
		return nil, wire.NewError(wire.CodeRoomNotFound, "")
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.ring.snapshot(limit), nil
}

// RecallMessage removes a message from the ring. Only the sender may recall.
func (r *Registry) RecallMessage(roomKey, actorID, messageID string) error {
	rm := r.lookup(roomKey)
	if rm == nil {
		return wire.NewError(wire.CodeRoomNotFound, "")
	}

	rm.mu.Lock()
	if _, ok := rm.members[actorID]; !ok {
		rm.mu.Unlock()
		return wire.NewError(wire.CodeUserNotInRoom, "")
	}
	msg, found := rm.ring.find(messageID)
	if !found {
		rm.mu.Unlock()
		return wire.NewError(wire.CodeMessageNotFound, "")
	}
	if msg.Sender.ID != actorID {
		rm.mu.Unlock()
		return wire.NewError(wire.CodeNotYourMessage, "")
	}
	rm.ring.remove(messageID)
	rm.touch(r.now())
	rm.mu.Unlock()

	r.notifier.Broadcast(roomKey, wire.MustEvent(wire.EvMessageRecalled, wire.MessageRecalledPayload{
		RoomKey:   roomKey,
		MessageID: messageID,
		By:        actorID,
	}))
	return nil
}

// UpdatePassword applies a PasswordUpdate to the room. Only members may
// change the password. The broadcast announces the change to everyone; the
// generated or supplied plaintext goes to the actor alone.
func (r *Registry) UpdatePassword(roomKey, actorID string, update PasswordUpdate) error {
	rm := r.lookup(roomKey)
	if rm == nil {
		return wire.NewError(wire.CodeRoomNotFound, "")
	}

	rm.mu.Lock()
	actor, ok := rm.memberUser(actorID)
	if !ok {
		rm.mu.Unlock()
		return wire.NewError(wire.CodeUserNotInRoom, "")
	}
	rm.mu.Unlock()

	var plaintext string
	var hash []byte
	switch update.Mode {
	case PasswordNone:
		return wire.NewError(wire.CodeInvalidPayload, "password field missing")
	case PasswordRemove:
		// plaintext and hash stay empty
	case PasswordGenerate:
		generated, err := GeneratePassword()
		if err != nil {
			return wire.NewError(wire.CodeInternal, "")
		}
		plaintext = generated
	case PasswordSet:
		plaintext = update.Plaintext
	}

	if plaintext != "" {
		// Hashing runs outside the room lock.
		h, err := HashPassword(plaintext, r.config.BcryptCost)
		if err != nil {
			logger.Error("room password hash failed", "room", roomKey, "error", err)
			return wire.NewError(wire.CodeInternal, "")
		}
		hash = h
	}

	rm.mu.Lock()
	if rm.state != roomActive {
		rm.mu.Unlock()
		return wire.NewError(wire.CodeRoomNotFound, "")
	}
	rm.password = plaintext
	rm.passwordHash = hash
	rm.passwordGen++
	rm.touch(r.now())
	hasPassword := len(hash) > 0
	rm.mu.Unlock()

	announce := wire.RoomPasswordSetPayload{
		RoomKey:     roomKey,
		HasPassword: hasPassword,
		By:          actor,
	}
	r.notifier.BroadcastExcept(roomKey, actorID, wire.MustEvent(wire.EvRoomPasswordSet, announce))

	// Only the actor sees the plaintext.
	announce.Password = plaintext
	r.notifier.SendToUser(roomKey, actorID, wire.MustEvent(wire.EvRoomPasswordSet, announce))

	logger.Info("room password updated", "room", roomKey, "user", actorID, "protected", hasPassword)
	return nil
}

// ShareRoomLink builds the join URL for a room, embedding the plaintext
// password when the room is protected.
func (r *Registry) ShareRoomLink(roomKey, actorID string) (string, error) {
	rm := r.lookup(roomKey)
	if rm == nil {
		return "", wire.NewError(wire.CodeRoomNotFound, "")
	}

	rm.mu.Lock()
	if _, ok := rm.members[actorID]; !ok {
		rm.mu.Unlock()
		return "", wire.NewError(wire.CodeUserNotInRoom, "")
	}
	password := rm.password
	rm.mu.Unlock()

	link := fmt.Sprintf("%s/?room=%s", r.config.AppURL, url.QueryEscape(roomKey))
	if password != "" {
		link += "&pwd=" + url.QueryEscape(password)
	}
	return link, nil
}

// PinRoom toggles the pinned flag. A pinned room is never destroyed by the
// janitor regardless of idleness.
func (r *Registry) PinRoom(roomKey, actorID string, pinned bool) error {
	rm := r.lookup(roomKey)
	if rm == nil {
		return wire.NewError(wire.CodeRoomNotFound, "")
	}

	rm.mu.Lock()
	actor, ok := rm.memberUser(actorID)
	if !ok {
		rm.mu.Unlock()
		return wire.NewError(wire.CodeUserNotInRoom, "")
	}
	rm.pinned = pinned
	rm.touch(r.now())
	rm.mu.Unlock()

	r.notifier.Broadcast(roomKey, wire.MustEvent(wire.EvRoomPinned, wire.RoomPinnedPayload{
		RoomKey: roomKey,
		Pinned:  pinned,
		By:      actor,
	}))
	return nil
}

// ListUsers returns the current member snapshots.
func (r *Registry) ListUsers(roomKey string) ([]wire.User, error) {
	rm := r.lookup(roomKey)
	if rm == nil {
		return nil, wire.NewError(wire.CodeRoomNotFound, "")
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.userSnapshot(), nil
}

// IsMember reports whether userID currently belongs to roomKey.
func (r *Registry) IsMember(roomKey, userID string) bool {
	rm := r.lookup(roomKey)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.members[userID]
	return ok
}

// ValidateUser is the idempotent existence check clients use when
// reconnecting across restarts.
func (r *Registry) ValidateUser(roomKey, fingerprintHash string) (roomExists, userExists bool) {
	rm := r.lookup(roomKey)
	if rm == nil {
		return false, false
	}
	userID := r.UserID(fingerprintHash, roomKey)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.state != roomActive {
		return false, false
	}
	_, ok := rm.members[userID]
	return true, ok
}

// RoomCount returns the number of live rooms. Used by metrics.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Start runs the janitor until ctx is cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop terminates the janitor. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Sweep destroys every room that is unpinned, empty, and idle past the TTL.
// Candidate selection holds only the registry read lock; the destruction
// cascade runs per room outside it.
func (r *Registry) Sweep() {
	now := r.now()

	var victims []*room
	r.mu.RLock()
	for _, rm := range r.rooms {
		rm.mu.Lock()
		if rm.idleEligible(now, r.config.IdleTTL) {
			rm.state = roomDestroying
			victims = append(victims, rm)
		}
		rm.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, rm := range victims {
		r.destroy(rm)
	}
}

// destroy runs the destruction cascade for a room already marked destroying:
// revoke owned share links, delete owned files, announce, then drop the key.
func (r *Registry) destroy(rm *room) {
	fileIDs := r.files.RoomFileIDs(rm.key)
	r.shares.RevokeForFiles(fileIDs)
	deleted := r.files.DeleteRoomFiles(rm.key)

	r.notifier.Broadcast(rm.key, wire.MustEvent(wire.EvRoomDestroyed, wire.RoomDestroyedPayload{
		RoomKey:        rm.key,
		DeletedFileIDs: deleted,
	}))

	rm.mu.Lock()
	rm.state = roomGone
	rm.mu.Unlock()

	r.mu.Lock()
	delete(r.rooms, rm.key)
	r.mu.Unlock()

	logger.Info("room destroyed", "room", rm.key, "files_deleted", len(deleted))
}
