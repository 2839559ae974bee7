package share

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliproom/cliproom/pkg/wire"
)

func (f *fixture) logsFor(t *testing.T, shareID string) []wire.ShareAccessEntry {
	t.Helper()
	entries, err := f.snap.ListAccess(context.Background(), shareID)
	require.NoError(t, err)
	return entries
}

func TestAccessUnknownShare(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Access(context.Background(), AccessRequest{ShareID: "a1B2c3D4e5", ClientIP: "203.0.113.7"})
	assert.Equal(t, wire.CodeShareNotFound, wire.CodeOf(err))

	logs := f.logsFor(t, "a1B2c3D4e5")
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "invalid", logs[0].ErrorCode)
	assert.Equal(t, "203.0.113.7", logs[0].ClientIP)
}

func TestAccessMalformedShareIDNotLogged(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Access(context.Background(), AccessRequest{ShareID: "../../etc"})
	assert.Equal(t, wire.CodeShareNotFound, wire.CodeOf(err))
	assert.Empty(t, f.logsFor(t, "../../etc"))
}

func TestAccessRevokedShare(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateOptions{})
	id := res.Summary.ShareID
	require.NoError(t, f.svc.Revoke(id, "alice"))

	_, err := f.svc.Access(context.Background(), AccessRequest{ShareID: id})
	assert.Equal(t, wire.CodeShareRevoked, wire.CodeOf(err))

	logs := f.logsFor(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, "revoked", logs[0].ErrorCode)
}

func TestAccessExpiredShareLazyTransition(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateOptions{ExpiresInDays: 1})
	id := res.Summary.ShareID

	*f.clock = f.clock.Add(24*time.Hour + time.Second)
	_, err := f.svc.Access(context.Background(), AccessRequest{ShareID: id})
	assert.Equal(t, wire.CodeShareExpired, wire.CodeOf(err))

	sum, err := f.svc.GetDetails(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, wire.ShareExpired, sum.Status)

	logs := f.logsFor(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, "expired", logs[0].ErrorCode)
}

func TestAccessPasswordChallengeNotLogged(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateOptions{WantPassword: true})
	id := res.Summary.ShareID

	_, err := f.svc.Access(context.Background(), AccessRequest{ShareID: id})
	assert.Equal(t, wire.CodeAuthRequired, wire.CodeOf(err))
	assert.Empty(t, f.logsFor(t, id))
}

func TestAccessWrongPassword(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateOptions{WantPassword: true})
	id := res.Summary.ShareID

	_, err := f.svc.Access(context.Background(), AccessRequest{ShareID: id, Password: "nope", HasCreds: true})
	assert.Equal(t, wire.CodeInvalidPassword, wire.CodeOf(err))

	logs := f.logsFor(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, "wrong_password", logs[0].ErrorCode)

	// A rejected attempt never counts as an access.
	sum, err := f.svc.GetDetails(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.AccessCount)
}

func TestAccessFileGone(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateOptions{})
	id := res.Summary.ShareID

	delete(f.files.blobs, "f1")

	_, err := f.svc.Access(context.Background(), AccessRequest{ShareID: id})
	assert.Equal(t, wire.CodeFileNotFound, wire.CodeOf(err))

	logs := f.logsFor(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, "file_not_found", logs[0].ErrorCode)
}

func TestAccessSuccessLogsBytesAtStreamEnd(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateOptions{})
	id := res.Summary.ShareID

	dl, err := f.svc.Access(context.Background(), AccessRequest{ShareID: id, ClientIP: "198.51.100.2", UserAgent: "curl/8.0"})
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", dl.Filename)
	assert.Equal(t, int64(len("pdf-bytes")), dl.Size)

	// Nothing is logged until the stream finishes.
	assert.Empty(t, f.logsFor(t, id))

	data, err := io.ReadAll(dl)
	require.NoError(t, err)
	require.NoError(t, dl.Close())

	logs := f.logsFor(t, id)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, int64(len(data)), logs[0].BytesTransferred)
	assert.Equal(t, "curl/8.0", logs[0].UserAgent)

	sum, err := f.svc.GetDetails(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.AccessCount)
	require.NotNil(t, sum.LastAccessedAt)
}

func TestAccessAbortedStreamStillCountsOnce(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateOptions{})
	id := res.Summary.ShareID

	dl, err := f.svc.Access(context.Background(), AccessRequest{ShareID: id})
	require.NoError(t, err)

	// Read a prefix, then abandon the stream.
	buf := make([]byte, 3)
	_, err = io.ReadFull(dl, buf)
	require.NoError(t, err)
	require.NoError(t, dl.Close())

	logs := f.logsFor(t, id)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, int64(3), logs[0].BytesTransferred)

	sum, err := f.svc.GetDetails(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.AccessCount)
}
