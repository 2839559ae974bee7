package registry

import (
	"sync"
	"time"

	"github.com/cliproom/cliproom/pkg/wire"
)

// roomState is the room lifecycle: active -> destroying -> gone.
// A destroying room's key cannot be re-created until the cascade completes
// and the key leaves the registry map.
type roomState int

const (
	roomActive roomState = iota
	roomDestroying
	roomGone
)

// member is the registry-side record of one room member.
type member struct {
	user            wire.User
	fingerprintHash string
}

// room is one synchronization unit. All field access goes through mu;
// bcrypt work happens outside it.
type room struct {
	mu sync.Mutex

	key          string
	createdAt    time.Time
	lastActivity time.Time
	state        roomState

	// password is the current plaintext, retained in memory so that
	// shareRoomLink can embed it; passwordHash is what join verifies
	// against. Both are empty/nil for open rooms.
	password     string
	passwordHash []byte
	passwordGen  uint64 // bumped on every password change

	pinned  bool
	members map[string]*member
	ring    *messageRing
}

func newRoom(key string, now time.Time) *room {
	return &room{
		key:          key,
		createdAt:    now,
		lastActivity: now,
		state:        roomActive,
		members:      make(map[string]*member),
		ring:         newMessageRing(RingCapacity),
	}
}

// touch updates the activity timestamp. Caller holds mu.
func (r *room) touch(now time.Time) {
	r.lastActivity = now
}

// userSnapshot copies the current member list. Caller holds mu.
func (r *room) userSnapshot() []wire.User {
	users := make([]wire.User, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, m.user)
	}
	return users
}

// memberUser returns the user snapshot for userID. Caller holds mu.
func (r *room) memberUser(userID string) (wire.User, bool) {
	m, ok := r.members[userID]
	if !ok {
		return wire.User{}, false
	}
	return m.user, true
}

// idleEligible reports whether the janitor may destroy this room.
// Caller holds mu.
func (r *room) idleEligible(now time.Time, idleTTL time.Duration) bool {
	return r.state == roomActive &&
		!r.pinned &&
		len(r.members) == 0 &&
		now.Sub(r.lastActivity) > idleTTL
}
