// Package gateway assembles the HTTP surface: the websocket session
// endpoint, the REST API, health probes, and the rate-limit middleware in
// front of them.
package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/filestore"
	"github.com/cliproom/cliproom/pkg/gateway/handlers"
	"github.com/cliproom/cliproom/pkg/gateway/ws"
	"github.com/cliproom/cliproom/pkg/metrics"
	"github.com/cliproom/cliproom/pkg/ratelimit"
	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/share"
	"github.com/cliproom/cliproom/pkg/wire"
)

// Deps are the services the router wires handlers to.
type Deps struct {
	Registry *registry.Registry
	Files    *filestore.Store
	Shares   *share.Service
	Hub      *ws.Hub
	Limiter  *ratelimit.Limiter
	// Gateway and Transfer metrics may be nil.
	Gateway  metrics.GatewayMetrics
	Transfer metrics.TransferMetrics
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET  /health                         - Liveness probe
//   - GET  /health/ready                   - Readiness probe with counts
//   - GET  /ws                             - Websocket session endpoint
//   - POST /api/files/upload               - Multipart upload (room member)
//   - GET  /api/files/download/{fileId}    - File download (room member)
//   - GET  /api/rooms/messages             - Recent room messages
//   - POST /api/rooms/validate-user        - Reconnect probe
//   - POST /api/share                      - Create a share link
//   - GET  /api/share                      - List own share links
//   - GET  /api/share/{shareId}            - Share details
//   - DELETE /api/share/{shareId}          - Revoke
//   - POST /api/share/{shareId}/permanent-delete - Delete record and logs
//   - GET  /api/share/{shareId}/access     - Access log, newest first
//   - GET  /api/share/{shareId}/download   - Anonymous download (Basic auth)
func NewRouter(deps Deps) http.Handler {
	gm := deps.Gateway
	if gm == nil {
		gm = metrics.NopGateway{}
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(
		deps.Registry.RoomCount, deps.Files.FileCount, deps.Shares.ShareCount)
	filesHandler := handlers.NewFilesHandler(deps.Files, deps.Registry, deps.Transfer)
	roomsHandler := handlers.NewRoomsHandler(deps.Registry)
	shareHandler := handlers.NewShareHandler(deps.Shares, deps.Transfer)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// The websocket endpoint stays outside the Timeout middleware: the
	// connection is long-lived by design.
	r.Get("/ws", deps.Hub.HandleWS)

	limit := func(category ratelimit.Category) func(http.Handler) http.Handler {
		return rateLimitMiddleware(deps.Limiter, category, gm)
	}

	r.Route("/api", func(r chi.Router) {
		// Streaming endpoints carry no request timeout; slow links are
		// legitimate here.
		r.With(limit(ratelimit.HTTPUpload)).Post("/files/upload", filesHandler.Upload)
		r.With(limit(ratelimit.HTTPGeneral)).Get("/files/download/{fileId}", filesHandler.Download)
		r.With(limit(ratelimit.HTTPAuth)).Get("/share/{shareId}/download", shareHandler.Download)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.With(limit(ratelimit.HTTPRoomAction)).Get("/rooms/messages", roomsHandler.Messages)
			r.With(limit(ratelimit.HTTPRoomAction)).Post("/rooms/validate-user", roomsHandler.ValidateUser)

			// Share creation gets the strict quota; the rest of the
			// management surface shares the general one.
			r.With(limit(ratelimit.HTTPStrict)).Post("/share", shareHandler.Create)
			r.Group(func(r chi.Router) {
				r.Use(limit(ratelimit.HTTPGeneral))
				r.Get("/share", shareHandler.List)
				r.Get("/share/{shareId}", shareHandler.Get)
				r.Delete("/share/{shareId}", shareHandler.Revoke)
				r.Post("/share/{shareId}/permanent-delete", shareHandler.PermanentDelete)
				r.Get("/share/{shareId}/access", shareHandler.AccessLogs)
			})
		})
	})

	return r
}

// rateLimitMiddleware enforces a fixed-window quota keyed by client IP.
func rateLimitMiddleware(limiter *ratelimit.Limiter, category ratelimit.Category, gm metrics.GatewayMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Allow(category, requestIP(r))
			if !res.Allowed {
				gm.RecordRateLimited(string(category))
				retryAfter := int(res.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				handlers.WriteCode(w, wire.CodeRateLimited,
					fmt.Sprintf("retry after %d seconds", retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestIP strips the port from RemoteAddr, already rewritten by the
// RealIP middleware.
func requestIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests using the internal logger. Healthcheck
// requests are logged at DEBUG to reduce noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
			return
		}
		logger.Info("API request completed", logArgs...)
	})
}
