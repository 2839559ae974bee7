package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/metrics"
	"github.com/cliproom/cliproom/pkg/share"
	"github.com/cliproom/cliproom/pkg/wire"
)

// PasswordAutoGenerate is the sentinel clients send to request a
// server-generated share password.
const PasswordAutoGenerate = "auto-generate"

// ShareHandler manages share links and serves their anonymous downloads.
type ShareHandler struct {
	shares  *share.Service
	metrics metrics.TransferMetrics
}

// NewShareHandler creates a ShareHandler. The metrics implementation may be
// nil.
func NewShareHandler(shares *share.Service, tm metrics.TransferMetrics) *ShareHandler {
	if tm == nil {
		tm = metrics.NopTransfer{}
	}
	return &ShareHandler{shares: shares, metrics: tm}
}

// CreateShareRequest is the body of POST /api/share.
type CreateShareRequest struct {
	FileID        string `json:"fileId"`
	ExpiresInDays int    `json:"expiresInDays,omitempty"`
	// Password is either empty (unprotected), the auto-generate sentinel,
	// or a caller-chosen plaintext.
	Password string `json:"password,omitempty"`
}

// CreateShareResponse carries the new share. Password is present only when
// the server generated one; it is never retrievable again.
type CreateShareResponse struct {
	wire.ShareSummary
	Password string `json:"password,omitempty"`
}

// Create handles POST /api/share.
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req CreateShareRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.FileID == "" {
		WriteCode(w, wire.CodeInvalidPayload, "fileId is required")
		return
	}

	opts := share.CreateOptions{ExpiresInDays: req.ExpiresInDays}
	switch req.Password {
	case "":
	case PasswordAutoGenerate:
		opts.WantPassword = true
	default:
		opts.Password = req.Password
	}

	result, err := h.shares.Create(r.Context(), req.FileID, userID, opts)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONCreated(w, CreateShareResponse{ShareSummary: result.Summary, Password: result.Password})
}

// List handles GET /api/share. Filters: status, limit, offset.
func (h *ShareHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	opts := share.ListOptions{
		Status: wire.ShareStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		opts.Limit, _ = strconv.Atoi(raw)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		opts.Offset, _ = strconv.Atoi(raw)
	}

	WriteJSONOK(w, h.shares.List(userID, opts))
}

// Get handles GET /api/share/{shareId}.
func (h *ShareHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	summary, err := h.shares.GetDetails(chi.URLParam(r, "shareId"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, summary)
}

// Revoke handles DELETE /api/share/{shareId}. The record survives for the
// audit trail; only the link stops working.
func (h *ShareHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err := h.shares.Revoke(chi.URLParam(r, "shareId"), userID); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

// PermanentDelete handles POST /api/share/{shareId}/permanent-delete.
// Removes the record and its access log.
func (h *ShareHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err := h.shares.PermanentDelete(r.Context(), chi.URLParam(r, "shareId"), userID); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

// AccessLogs handles GET /api/share/{shareId}/access?limit=N, newest first.
func (h *ShareHandler) AccessLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	entries, err := h.shares.GetAccessLogs(r.Context(), chi.URLParam(r, "shareId"), userID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, entries)
}

// Download handles GET /api/share/{shareId}/download. This is the only
// anonymous endpoint: no room identity, optional Basic auth carrying the
// share password.
func (h *ShareHandler) Download(w http.ResponseWriter, r *http.Request) {
	password, hasCreds := basicPassword(r)

	dl, err := h.shares.Access(r.Context(), share.AccessRequest{
		ShareID:   chi.URLParam(r, "shareId"),
		Password:  password,
		HasCreds:  hasCreds,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		code := wire.CodeOf(err)
		if code == wire.CodeAuthRequired || code == wire.CodeInvalidPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="shared file", charset="UTF-8"`)
		}
		h.metrics.RecordShareAccess(string(code))
		WriteError(w, err)
		return
	}
	defer dl.Close()

	w.Header().Set("Content-Type", dl.MimeType)
	w.Header().Set("Content-Disposition", contentDisposition(dl.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))

	n, err := io.Copy(w, dl)
	if err != nil {
		logger.Debug("Share download aborted", "bytes", n, "error", err)
		h.metrics.RecordShareAccess("aborted")
		return
	}
	h.metrics.RecordShareAccess("success")
	h.metrics.RecordDownload(n)
}

// basicPassword extracts the password leg of Basic auth. The username is
// ignored; the link itself identifies the resource.
func basicPassword(r *http.Request) (password string, ok bool) {
	_, password, ok = r.BasicAuth()
	return password, ok
}

// clientIP strips the port from RemoteAddr, which the RealIP middleware has
// already rewritten to the true client address.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
