package filestore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliproom/cliproom/pkg/store/memory"
	"github.com/cliproom/cliproom/pkg/wire"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []struct {
		roomKey string
		ev      wire.Event
	}
}

func (b *recordingBroadcaster) Broadcast(roomKey string, ev wire.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, struct {
		roomKey string
		ev      wire.Event
	}{roomKey, ev})
}

func (b *recordingBroadcaster) byType(t wire.EventType) []wire.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []wire.Event
	for _, rec := range b.events {
		if rec.ev.Type == t {
			out = append(out, rec.ev)
		}
	}
	return out
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type fixture struct {
	store  *Store
	snap   *memory.Store
	events *recordingBroadcaster
	clock  *time.Time
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	if config.Root == "" {
		config.Root = t.TempDir()
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := memory.New()
	s, err := New(config, snap, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	events := &recordingBroadcaster{}
	s.Bind(events)
	return &fixture{store: s, snap: snap, events: events, clock: &now}
}

func (f *fixture) upload(t *testing.T, roomKey, name, content string) *wire.FileInfo {
	t.Helper()
	info, err := f.store.Upload(context.Background(), roomKey, "u1", name, "text/plain", time.Time{}, strings.NewReader(content))
	require.NoError(t, err)
	return info
}

func TestUploadAndDownload(t *testing.T) {
	f := newFixture(t, Config{})

	info := f.upload(t, "room42", "notes.txt", "clipboard contents")
	assert.NotEmpty(t, info.FileID)
	assert.Equal(t, "notes.txt", info.Name)
	assert.Equal(t, int64(len("clipboard contents")), info.Size)
	assert.Equal(t, "/api/files/download/"+info.FileID, info.DownloadURL)

	rc, rec, err := f.store.Open(context.Background(), info.FileID)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "clipboard contents", string(data))
	assert.Equal(t, "room42", rec.RoomKey)
	assert.Equal(t, "u1", rec.OwnerID)
}

func TestUploadSanitizesName(t *testing.T) {
	f := newFixture(t, Config{})

	info := f.upload(t, "room42", "../../etc/passwd", "x")
	assert.Equal(t, "etc_passwd", info.Name)
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t, Config{MaxFileSize: 16})

	_, err := f.store.Upload(context.Background(), "room42", "u1", "big.bin", "application/octet-stream", time.Time{}, strings.NewReader(strings.Repeat("x", 17)))
	require.Error(t, err)
	assert.Equal(t, wire.CodeFileTooLarge, wire.CodeOf(err))

	// Nothing indexed, no temp debris.
	assert.Equal(t, 0, f.store.FileCount())
	entries, err := os.ReadDir(f.store.config.Root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadAtLimitSucceeds(t *testing.T) {
	f := newFixture(t, Config{MaxFileSize: 16})

	info, err := f.store.Upload(context.Background(), "room42", "u1", "ok.bin", "application/octet-stream", time.Time{}, strings.NewReader(strings.Repeat("x", 16)))
	require.NoError(t, err)
	assert.Equal(t, int64(16), info.Size)
}

func TestOpenUnknownFile(t *testing.T) {
	f := newFixture(t, Config{})

	_, _, err := f.store.Open(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, wire.CodeFileNotFound, wire.CodeOf(err))
}

func TestDeleteAnnouncesAndIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	info := f.upload(t, "room42", "a.txt", "x")

	require.NoError(t, f.store.Delete(context.Background(), info.FileID))
	require.NoError(t, f.store.Delete(context.Background(), info.FileID))

	msgs := f.events.byType(wire.EvSystemMessage)
	require.Len(t, msgs, 1)
	var payload wire.SystemMessagePayload
	require.NoError(t, jsonUnmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, wire.SystemFileDeleted, payload.Kind)
	assert.Equal(t, info.FileID, payload.FileID)

	_, _, err := f.store.Open(context.Background(), info.FileID)
	assert.Equal(t, wire.CodeFileNotFound, wire.CodeOf(err))
}

func TestOwnershipSurface(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.upload(t, "room42", "a.txt", "x")
	b := f.upload(t, "room42", "b.txt", "y")
	other := f.upload(t, "other9", "c.txt", "z")

	assert.True(t, f.store.OwnedBy(a.FileID, "room42"))
	assert.False(t, f.store.OwnedBy(a.FileID, "other9"))
	assert.False(t, f.store.OwnedBy("nope", "room42"))

	ids := f.store.RoomFileIDs("room42")
	assert.ElementsMatch(t, []string{a.FileID, b.FileID}, ids)

	deleted := f.store.DeleteRoomFiles("room42")
	assert.ElementsMatch(t, []string{a.FileID, b.FileID}, deleted)
	assert.Equal(t, 1, f.store.FileCount())

	// Cascade deletion is silent.
	assert.Empty(t, f.events.byType(wire.EvSystemMessage))

	_, ok := f.store.Info(other.FileID)
	assert.True(t, ok)
}

func TestSweepExpiresOldFiles(t *testing.T) {
	f := newFixture(t, Config{TTL: 12 * time.Hour})
	old := f.upload(t, "room42", "old.txt", "x")

	*f.clock = f.clock.Add(13 * time.Hour)
	fresh := f.upload(t, "room42", "fresh.txt", "y")

	f.store.Sweep()

	_, ok := f.store.Info(old.FileID)
	assert.False(t, ok)
	_, ok = f.store.Info(fresh.FileID)
	assert.True(t, ok)

	msgs := f.events.byType(wire.EvSystemMessage)
	require.Len(t, msgs, 1)
	var payload wire.SystemMessagePayload
	require.NoError(t, jsonUnmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, wire.SystemFileExpired, payload.Kind)
	assert.Equal(t, old.FileID, payload.FileID)
}

func TestRecoveryFromSnapshot(t *testing.T) {
	root := t.TempDir()
	snap := memory.New()

	s, err := New(Config{Root: root}, snap)
	require.NoError(t, err)
	info, err := s.Upload(context.Background(), "room42", "u1", "keep.txt", "text/plain", time.Time{}, strings.NewReader("kept"))
	require.NoError(t, err)

	// A blob with no index entry is an orphan after restart.
	require.NoError(t, os.WriteFile(filepath.Join(root, "orphan-blob"), []byte("junk"), 0o600))

	s2, err := New(Config{Root: root}, snap)
	require.NoError(t, err)

	rec, ok := s2.Info(info.FileID)
	require.True(t, ok)
	assert.Equal(t, "keep.txt", rec.Name)

	_, err = os.Stat(filepath.Join(root, "orphan-blob"))
	assert.True(t, os.IsNotExist(err))
}

func TestRecoveryDropsRecordsWithMissingBlobs(t *testing.T) {
	root := t.TempDir()
	snap := memory.New()

	s, err := New(Config{Root: root}, snap)
	require.NoError(t, err)
	info, err := s.Upload(context.Background(), "room42", "u1", "gone.txt", "text/plain", time.Time{}, strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, info.FileID)))

	s2, err := New(Config{Root: root}, snap)
	require.NoError(t, err)
	assert.Equal(t, 0, s2.FileCount())

	recs, err := snap.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUploadRejectsDisallowedTypes(t *testing.T) {
	f := newFixture(t, Config{DisallowedTypes: []string{"application/x-msdownload", "video/*"}})

	denied := []string{
		"application/x-msdownload",
		"Application/X-Msdownload",
		"video/mp4",
		"video/mp4; codecs=avc1",
	}
	for _, mime := range denied {
		_, err := f.store.Upload(context.Background(), "room42", "u1", "a.bin", mime, time.Time{}, strings.NewReader("x"))
		require.Error(t, err, mime)
		assert.Equal(t, wire.CodeInvalidPayload, wire.CodeOf(err))
	}
	assert.Equal(t, 0, f.store.FileCount())

	_, err := f.store.Upload(context.Background(), "room42", "u1", "a.txt", "text/plain", time.Time{}, strings.NewReader("x"))
	require.NoError(t, err)
}
