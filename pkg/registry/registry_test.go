package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliproom/cliproom/pkg/wire"
)

// recordingNotifier captures fan-out calls for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	kind    string // broadcast, except, direct
	roomKey string
	userID  string
	event   wire.Event
}

func (n *recordingNotifier) Broadcast(roomKey string, ev wire.Event) {
	n.record(recordedEvent{kind: "broadcast", roomKey: roomKey, event: ev})
}

func (n *recordingNotifier) BroadcastExcept(roomKey, userID string, ev wire.Event) {
	n.record(recordedEvent{kind: "except", roomKey: roomKey, userID: userID, event: ev})
}

func (n *recordingNotifier) SendToUser(roomKey, userID string, ev wire.Event) {
	n.record(recordedEvent{kind: "direct", roomKey: roomKey, userID: userID, event: ev})
}

func (n *recordingNotifier) record(ev recordedEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) ofType(t wire.EventType) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, ev := range n.events {
		if ev.event.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeFiles implements FileOwner over a static map.
type fakeFiles struct {
	mu    sync.Mutex
	owned map[string]string // fileID -> roomKey
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{owned: make(map[string]string)}
}

func (f *fakeFiles) OwnedBy(fileID, roomKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owned[fileID] == roomKey
}

func (f *fakeFiles) RoomFileIDs(roomKey string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, rk := range f.owned {
		if rk == roomKey {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *fakeFiles) DeleteRoomFiles(roomKey string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, rk := range f.owned {
		if rk == roomKey {
			ids = append(ids, id)
			delete(f.owned, id)
		}
	}
	return ids
}

type fakeShares struct {
	mu      sync.Mutex
	revoked []string
}

func (s *fakeShares) RevokeForFiles(fileIDs []string) {
	s.mu.Lock()
	s.revoked = append(s.revoked, fileIDs...)
	s.mu.Unlock()
}

type registryFixture struct {
	reg      *Registry
	notifier *recordingNotifier
	files    *fakeFiles
	shares   *fakeShares
	clock    *time.Time
}

func newFixture(t *testing.T) *registryFixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &registryFixture{
		notifier: &recordingNotifier{},
		files:    newFakeFiles(),
		shares:   &fakeShares{},
		clock:    &now,
	}
	f.reg = New(Config{Salt: "test-salt"}, WithClock(func() time.Time { return *f.clock }))
	f.reg.Bind(f.notifier, f.files, f.shares)
	return f
}

func (f *registryFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *registryFixture) join(t *testing.T, roomKey, fingerprint, name string) *JoinResult {
	t.Helper()
	res, err := f.reg.Join(roomKey, fingerprint, name, wire.DeviceDesktop, "")
	require.NoError(t, err)
	return res
}

func TestJoinCreatesRoom(t *testing.T) {
	f := newFixture(t)

	res := f.join(t, "test01", "fp-a", "alice")
	assert.True(t, res.Created)
	assert.True(t, res.User.Online)
	assert.Len(t, res.Users, 1)
	assert.Empty(t, res.Messages)
	assert.Equal(t, 1, f.reg.RoomCount())
}

func TestUserIDDeterministic(t *testing.T) {
	f := newFixture(t)

	id1 := f.reg.UserID("fp-a", "test01")
	id2 := f.reg.UserID("fp-a", "test01")
	assert.Equal(t, id1, id2)

	// Different room or fingerprint changes the id.
	assert.NotEqual(t, id1, f.reg.UserID("fp-a", "other1"))
	assert.NotEqual(t, id1, f.reg.UserID("fp-b", "test01"))
}

func TestRejoinDoesNotDuplicateMember(t *testing.T) {
	f := newFixture(t)

	first := f.join(t, "test01", "fp-a", "alice")
	second := f.join(t, "test01", "fp-a", "alice-renamed")

	assert.Equal(t, first.User.ID, second.User.ID)
	users, err := f.reg.ListUsers("test01")
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, "alice-renamed", users[0].DisplayName)
}

func TestJoinEmitsUserJoinedToOthers(t *testing.T) {
	f := newFixture(t)

	f.join(t, "test01", "fp-a", "alice")
	res := f.join(t, "test01", "fp-b", "bob")

	joins := f.notifier.ofType(wire.EvUserJoined)
	require.Len(t, joins, 2)
	assert.Equal(t, "except", joins[1].kind)
	assert.Equal(t, res.User.ID, joins[1].userID)
}

func TestPasswordLifecycle(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alpha1", "fp-a", "alice")

	// Generate.
	require.NoError(t, f.reg.UpdatePassword("alpha1", alice.User.ID, GeneratePasswordUpdate()))

	direct := f.notifier.ofType(wire.EvRoomPasswordSet)
	require.NotEmpty(t, direct)
	var toActor *recordedEvent
	for i := range direct {
		if direct[i].kind == "direct" {
			toActor = &direct[i]
		}
	}
	require.NotNil(t, toActor, "actor should receive the plaintext copy")

	var payload wire.RoomPasswordSetPayload
	require.NoError(t, jsonUnmarshal(toActor.event.Payload, &payload))
	require.Len(t, payload.Password, GeneratedPasswordLength)
	generated := payload.Password

	// Unauthenticated join now fails.
	_, err := f.reg.Join("alpha1", "fp-c", "carol", wire.DeviceMobile, "")
	assert.Equal(t, wire.CodePasswordRequired, wire.CodeOf(err))

	// Wrong password.
	_, err = f.reg.Join("alpha1", "fp-c", "carol", wire.DeviceMobile, "nope42")
	assert.Equal(t, wire.CodeInvalidPassword, wire.CodeOf(err))

	// Correct password.
	_, err = f.reg.Join("alpha1", "fp-c", "carol", wire.DeviceMobile, generated)
	require.NoError(t, err)

	// Remove; unauthenticated join succeeds again.
	require.NoError(t, f.reg.UpdatePassword("alpha1", alice.User.ID, RemovePassword()))
	_, err = f.reg.Join("alpha1", "fp-d", "dave", wire.DeviceTablet, "")
	require.NoError(t, err)
}

func TestUpdatePasswordRequiresMembership(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alpha1", "fp-a", "alice")

	err := f.reg.UpdatePassword("alpha1", "stranger", SetPassword("pw1234"))
	assert.Equal(t, wire.CodeUserNotInRoom, wire.CodeOf(err))

	err = f.reg.UpdatePassword("alpha1", f.reg.UserID("fp-a", "alpha1"), NoPassword())
	assert.Equal(t, wire.CodeInvalidPayload, wire.CodeOf(err))
}

func TestPostMessageFanOut(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "test01", "fp-a", "alice")
	f.join(t, "test01", "fp-b", "bob")

	msg, err := f.reg.PostMessage("test01", alice.User.ID, &wire.SendMessagePayload{
		Kind:    wire.MessageText,
		Content: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, alice.User.ID, msg.Sender.ID)

	broadcasts := f.notifier.ofType(wire.EvMessage)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "broadcast", broadcasts[0].kind)
	assert.Equal(t, "test01", broadcasts[0].roomKey)
}

func TestPostMessageRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	f.join(t, "test01", "fp-a", "alice")

	_, err := f.reg.PostMessage("test01", "stranger", &wire.SendMessagePayload{
		Kind: wire.MessageText, Content: "hi",
	})
	assert.Equal(t, wire.CodeUserNotInRoom, wire.CodeOf(err))
}

func TestPostFileMessageValidatesOwnership(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "beta12", "fp-a", "alice")
	f.files.owned["f1"] = "beta12"
	f.files.owned["f2"] = "other2room"

	_, err := f.reg.PostMessage("beta12", alice.User.ID, &wire.SendMessagePayload{
		Kind: wire.MessageFile,
		File: &wire.FileInfo{FileID: "f2", Name: "x.txt", Size: 1},
	})
	assert.Equal(t, wire.CodeInvalidFileReference, wire.CodeOf(err))

	_, err = f.reg.PostMessage("beta12", alice.User.ID, &wire.SendMessagePayload{
		Kind: wire.MessageFile,
		File: &wire.FileInfo{FileID: "f1", Name: "x.txt", Size: 1},
	})
	require.NoError(t, err)
}

func TestRingEvictionThroughPostMessage(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "gamma1", "fp-a", "alice")

	for i := 0; i <= 100; i++ {
		_, err := f.reg.PostMessage("gamma1", alice.User.ID, &wire.SendMessagePayload{
			Kind:    wire.MessageText,
			Content: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
	}

	msgs, err := f.reg.RecentMessages("gamma1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 100)
	assert.Equal(t, "m1", msgs[0].Content)
	assert.Equal(t, "m100", msgs[99].Content)
}

func TestRecallMessage(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "test01", "fp-a", "alice")
	bob := f.join(t, "test01", "fp-b", "bob")

	msg, err := f.reg.PostMessage("test01", alice.User.ID, &wire.SendMessagePayload{
		Kind: wire.MessageText, Content: "oops",
	})
	require.NoError(t, err)

	// Only the sender may recall.
	err = f.reg.RecallMessage("test01", bob.User.ID, msg.ID)
	assert.Equal(t, wire.CodeNotYourMessage, wire.CodeOf(err))

	require.NoError(t, f.reg.RecallMessage("test01", alice.User.ID, msg.ID))

	err = f.reg.RecallMessage("test01", alice.User.ID, msg.ID)
	assert.Equal(t, wire.CodeMessageNotFound, wire.CodeOf(err))

	msgs, _ := f.reg.RecentMessages("test01", 0)
	assert.Empty(t, msgs)
}

func TestLeaveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "test01", "fp-a", "alice")

	f.reg.Leave("test01", alice.User.ID)
	f.reg.Leave("test01", alice.User.ID) // no-op
	f.reg.Leave("absent9", alice.User.ID)

	lefts := f.notifier.ofType(wire.EvUserLeft)
	assert.Len(t, lefts, 1)
}

func TestShareRoomLink(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alpha1", "fp-a", "alice")

	link, err := f.reg.ShareRoomLink("alpha1", alice.User.ID)
	require.NoError(t, err)
	assert.Contains(t, link, "room=alpha1")
	assert.NotContains(t, link, "pwd=")

	require.NoError(t, f.reg.UpdatePassword("alpha1", alice.User.ID, SetPassword("sEcr3t")))
	link, err = f.reg.ShareRoomLink("alpha1", alice.User.ID)
	require.NoError(t, err)
	assert.Contains(t, link, "pwd=sEcr3t")

	_, err = f.reg.ShareRoomLink("alpha1", "stranger")
	assert.Equal(t, wire.CodeUserNotInRoom, wire.CodeOf(err))
}

func TestValidateUser(t *testing.T) {
	f := newFixture(t)

	roomExists, userExists := f.reg.ValidateUser("nope99", "fp-a")
	assert.False(t, roomExists)
	assert.False(t, userExists)

	f.join(t, "test01", "fp-a", "alice")

	roomExists, userExists = f.reg.ValidateUser("test01", "fp-a")
	assert.True(t, roomExists)
	assert.True(t, userExists)

	roomExists, userExists = f.reg.ValidateUser("test01", "fp-unknown")
	assert.True(t, roomExists)
	assert.False(t, userExists)
}

func TestJanitorDestroysIdleRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "delta1", "fp-a", "alice")
	f.files.owned["f1"] = "delta1"

	f.reg.Leave("delta1", alice.User.ID)
	f.advance(24*time.Hour + time.Second)

	f.reg.Sweep()

	assert.Equal(t, 0, f.reg.RoomCount())
	assert.Equal(t, []string{"f1"}, f.shares.revoked)
	assert.Empty(t, f.files.RoomFileIDs("delta1"))

	destroyed := f.notifier.ofType(wire.EvRoomDestroyed)
	require.Len(t, destroyed, 1)
	var payload wire.RoomDestroyedPayload
	require.NoError(t, jsonUnmarshal(destroyed[0].event.Payload, &payload))
	assert.Equal(t, []string{"f1"}, payload.DeletedFileIDs)
}

func TestJanitorSparesPinnedRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "delta1", "fp-a", "alice")
	require.NoError(t, f.reg.PinRoom("delta1", alice.User.ID, true))
	f.reg.Leave("delta1", alice.User.ID)

	f.advance(48 * time.Hour)
	f.reg.Sweep()

	assert.Equal(t, 1, f.reg.RoomCount())
}

func TestJanitorSparesOccupiedAndFreshRooms(t *testing.T) {
	f := newFixture(t)
	f.join(t, "lived1", "fp-a", "alice") // occupied

	bob := f.join(t, "fresh1", "fp-b", "bob")
	f.reg.Leave("fresh1", bob.User.ID) // empty but fresh

	f.advance(time.Hour)
	f.reg.Sweep()

	assert.Equal(t, 2, f.reg.RoomCount())
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func TestConcurrentJoinsDistinctRooms(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("room%02d", i)
			_, err := f.reg.Join(key, fmt.Sprintf("fp-%d", i), "user", wire.DeviceUnknown, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, f.reg.RoomCount())
}
