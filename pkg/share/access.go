package share

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/wire"
)

// AccessRequest is one anonymous download attempt against a share link.
// HasCreds distinguishes "no Authorization header" from "empty password".
type AccessRequest struct {
	ShareID   string
	Password  string
	HasCreds  bool
	ClientIP  string
	UserAgent string
}

// Download streams the shared file. Close logs the access with the byte
// count actually sent, so the caller must Close even on aborted streams.
type Download struct {
	Filename string
	Size     int64
	MimeType string
	ModTime  time.Time

	rc    io.ReadSeekCloser
	bytes int64
	once  sync.Once
	logFn func(bytes int64)
}

func (d *Download) Read(p []byte) (int, error) {
	n, err := d.rc.Read(p)
	d.bytes += int64(n)
	return n, err
}

func (d *Download) Close() error {
	err := d.rc.Close()
	d.once.Do(func() { d.logFn(d.bytes) })
	return err
}

// Access runs the anonymous download decision tree.
//
// Order matters: revocation beats expiry, expiry beats authentication. A
// request that never presented credentials against a protected share is
// challenged but not logged; every other failure leaves a log entry. A
// success increments accessCount exactly once, before streaming starts.
func (s *Service) Access(ctx context.Context, req AccessRequest) (*Download, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.Lock()
	rec, ok := s.shares[req.ShareID]
	if !ok {
		s.mu.Unlock()
		if validShareID(req.ShareID) {
			s.logAccess(req, now, false, logInvalid, 0)
		}
		return nil, wire.NewError(wire.CodeShareNotFound, "")
	}

	if rec.Status == wire.ShareRevoked {
		s.mu.Unlock()
		s.logAccess(req, now, false, logRevoked, 0)
		return nil, wire.NewError(wire.CodeShareRevoked, "")
	}

	if s.expireLocked(rec, now) {
		s.persist(rec)
	}
	if rec.Status == wire.ShareExpired {
		s.mu.Unlock()
		s.logAccess(req, now, false, logExpired, 0)
		return nil, wire.NewError(wire.CodeShareExpired, "")
	}

	hash := append([]byte(nil), rec.PasswordHash...)
	fileID := rec.FileID
	s.mu.Unlock()

	if len(hash) > 0 {
		if !req.HasCreds {
			return nil, wire.NewError(wire.CodeAuthRequired, "")
		}
		// bcrypt comparison stays outside the service lock.
		if !registry.CheckPassword(hash, req.Password) {
			s.logAccess(req, now, false, logWrongPassword, 0)
			return nil, wire.NewError(wire.CodeInvalidPassword, "")
		}
	}

	rc, fileRec, err := s.files.Open(ctx, fileID)
	if err != nil {
		if wire.CodeOf(err) == wire.CodeFileNotFound {
			s.logAccess(req, now, false, logFileNotFound, 0)
			return nil, wire.NewError(wire.CodeFileNotFound, "")
		}
		return nil, err
	}

	s.mu.Lock()
	if cur, still := s.shares[req.ShareID]; still {
		cur.AccessCount++
		t := now
		cur.LastAccessedAt = &t
		s.persist(cur)
	}
	s.mu.Unlock()

	return &Download{
		Filename: fileRec.Name,
		Size:     fileRec.Size,
		MimeType: fileRec.MimeType,
		ModTime:  fileRec.LastModified,
		rc:       rc,
		logFn: func(bytes int64) {
			s.logAccess(req, s.now(), true, "", bytes)
		},
	}, nil
}

func (s *Service) logAccess(req AccessRequest, ts time.Time, success bool, errorCode string, bytes int64) {
	entry := &wire.ShareAccessEntry{
		ShareID:          req.ShareID,
		Timestamp:        ts,
		ClientIP:         req.ClientIP,
		UserAgent:        req.UserAgent,
		Success:          success,
		ErrorCode:        errorCode,
		BytesTransferred: bytes,
	}
	if err := s.snap.AppendAccess(context.Background(), entry); err != nil {
		logger.Error("Failed to append share access log", "share_id", req.ShareID, "error", err)
	}
}
