package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/filestore"
	"github.com/cliproom/cliproom/pkg/metrics"
	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/wire"
)

// FilesHandler serves file upload and download for room members.
type FilesHandler struct {
	files    *filestore.Store
	registry *registry.Registry
	metrics  metrics.TransferMetrics
}

// NewFilesHandler creates a FilesHandler. The metrics implementation may be
// nil.
func NewFilesHandler(files *filestore.Store, reg *registry.Registry, tm metrics.TransferMetrics) *FilesHandler {
	if tm == nil {
		tm = metrics.NopTransfer{}
	}
	return &FilesHandler{files: files, registry: reg, metrics: tm}
}

// Upload handles POST /api/files/upload.
//
// The body is multipart/form-data with an optional "lastModified" field
// (milliseconds since epoch) followed by the "file" part. Metadata fields
// must precede the file part because the body is streamed, never buffered.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	roomKey, userID, err := roomActor(r, h.registry)
	if err != nil {
		WriteError(w, err)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		WriteCode(w, wire.CodeInvalidPayload, "multipart body required")
		return
	}

	var lastModified time.Time
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			WriteCode(w, wire.CodeInvalidPayload, "missing file part")
			return
		}
		if err != nil {
			WriteCode(w, wire.CodeInvalidPayload, "malformed multipart body")
			return
		}

		switch part.FormName() {
		case "lastModified":
			raw, err := io.ReadAll(io.LimitReader(part, 64))
			if err == nil {
				if ms, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
					lastModified = time.UnixMilli(ms)
				}
			}
		case "file":
			info, err := h.files.Upload(r.Context(), roomKey, userID,
				part.FileName(), part.Header.Get("Content-Type"), lastModified, part)
			if err != nil {
				WriteError(w, err)
				return
			}
			h.metrics.RecordUpload(info.Size)
			WriteJSONCreated(w, info)
			return
		default:
			// Unknown fields are drained and ignored.
			_, _ = io.Copy(io.Discard, part)
		}
	}
}

// Download handles GET /api/files/download/{fileId}. Only members of the
// owning room may fetch.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	roomKey, _, err := roomActor(r, h.registry)
	if err != nil {
		WriteError(w, err)
		return
	}

	fileID := chi.URLParam(r, "fileId")
	rc, rec, err := h.files.Open(r.Context(), fileID)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer rc.Close()

	if rec.RoomKey != roomKey {
		WriteCode(w, wire.CodeFileNotFound, "")
		return
	}

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Disposition", contentDisposition(rec.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))

	n, err := io.Copy(w, rc)
	if err != nil {
		logger.Debug("File download aborted", "file_id", fileID, "bytes", n, "error", err)
		return
	}
	h.metrics.RecordDownload(n)
}

// contentDisposition builds an attachment header with a UTF-8 filename.
func contentDisposition(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
