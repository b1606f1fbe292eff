// Package api assembles the HTTP surface: router, middleware stack and
// the server lifecycle.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/api/handlers"
	apimw "github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/metrics"
)

// RouterConfig carries the router-level knobs.
type RouterConfig struct {
	// TrustProxy honors X-Forwarded-For / X-Real-IP from the reverse
	// proxy in front of the service.
	TrustProxy bool

	// MetricsEnabled mounts /metrics.
	MetricsEnabled bool

	// ErrorPages is the directory holding static error pages. Empty
	// disables them and 404s fall back to JSON.
	ErrorPages string

	// RequestTimeout bounds a single request. Zero means 30 seconds.
	RequestTimeout time.Duration

	// ServeFiles mounts GET /{name} so uploads are served by this
	// process instead of a reverse proxy.
	ServeFiles bool
}

// NewRouter wires the middleware stack and every route.
//
// Routes:
//   - GET  /health                        - liveness probe
//   - GET  /api/check                     - server capabilities
//   - POST /api/login                     - credentials to token
//   - POST /api/register                  - self-registration
//   - POST /api/password/change           - password change (auth)
//   - POST /api/tokens/verify             - token to account summary
//   - POST /api/tokens/change             - token rotation (auth)
//   - POST /api/upload                    - multipart or URL intake
//   - POST /api/upload/{albumid}          - intake into an album
//   - POST /api/upload/finishchunks       - chunked upload assembly
//   - POST /api/upload/delete             - single deletion (auth)
//   - POST /api/upload/bulkdelete         - bulk deletion (auth)
//   - GET  /api/uploads[/{page}]          - paginated uploads list (auth)
//   - GET  /api/album/{albumid}/{page}    - album-scoped uploads list (auth)
//   - GET  /api/upload/get/{identifier}   - single upload record (auth)
//   - GET  /api/albums                    - caller's albums (auth)
//   - POST /api/albums                    - album creation (auth)
//   - POST /api/albums/{edit,rename,disable,delete,addfiles} (auth)
//   - GET  /api/stats                     - aggregate statistics (admin)
//   - GET  /api/album/get/{identifier}    - public album view
//   - GET  /api/album/zip/{identifier}    - public album archive
//   - GET  /metrics                       - Prometheus scrape (when enabled)
//   - GET  /{name}                        - direct file serving (when enabled)
func NewRouter(cfg RouterConfig, h *handlers.Handler, auth *apimw.Auth) http.Handler {
	r := chi.NewRouter()

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Middleware stack, order matters.
	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if cfg.MetricsEnabled {
		r.Get("/metrics", metrics.Handler().ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		// Public routes; check reflects the caller when a token rides
		// along, so it runs behind the optional auth layer.
		r.Group(func(r chi.Router) {
			r.Use(auth.Optional)
			r.Get("/check", h.Check)
		})

		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/tokens/verify", h.VerifyToken)

		// Intake accepts anonymous callers unless the instance is
		// private; the handlers enforce that themselves.
		r.Group(func(r chi.Router) {
			r.Use(auth.Optional)
			r.Post("/upload", h.Upload)
			r.Post("/upload/finishchunks", h.FinishChunks)
			r.Post("/upload/{albumid:[0-9]+}", h.Upload)
		})

		// Account-scoped routes.
		r.Group(func(r chi.Router) {
			r.Use(auth.Require)

			r.Post("/password/change", h.ChangePassword)
			r.Post("/tokens/change", h.ChangeToken)

			r.Post("/upload/delete", h.Delete)
			r.Post("/upload/bulkdelete", h.BulkDelete)
			r.Get("/upload/get/{identifier}", h.GetFile)

			r.Get("/uploads", h.ListUploads)
			r.Get("/uploads/{page:-?[0-9]+}", h.ListUploads)
			r.Get("/album/{albumid:[0-9]+}/{page:-?[0-9]+}", h.ListUploads)

			r.Get("/albums", h.ListAlbums)
			r.Post("/albums", h.CreateAlbum)
			r.Post("/albums/edit", h.EditAlbum)
			r.Post("/albums/rename", h.RenameAlbum)
			r.Post("/albums/disable", h.DisableAlbum)
			r.Post("/albums/delete", h.DeleteAlbum)
			r.Post("/albums/addfiles", h.AddFilesToAlbum)

			r.Get("/stats", h.Statistics)
		})

		// Public album views.
		r.Get("/album/get/{identifier}", h.GetAlbum)
		r.Get("/album/zip/{identifier}", h.DownloadAlbum)
	})

	if cfg.ServeFiles {
		r.Get("/{name}", h.ServeFile)
	}

	r.NotFound(notFoundHandler(cfg.ErrorPages))

	return r
}

// notFoundHandler serves the static 404 page when one is configured,
// falling back to the JSON error shape.
func notFoundHandler(errorPages string) http.HandlerFunc {
	page := ""
	if errorPages != "" {
		candidate := filepath.Join(errorPages, "404.html")
		if _, err := os.Stat(candidate); err == nil {
			page = candidate
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if page != "" {
			if body, err := os.ReadFile(page); err == nil {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write(body)
				return
			}
		}
		handlers.WriteJSON(w, http.StatusNotFound, handlers.ErrorBody{Description: "Not found."})
	}
}

// requestLogger logs request start at DEBUG and completion at INFO,
// keeping health probes at DEBUG to cut noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}
		if r.URL.Path == "/health" {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}
