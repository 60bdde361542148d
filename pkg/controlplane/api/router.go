package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/ckptfs/internal/controlplane/api/handlers"
	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
)

// requestTimeout bounds every route except the file routes, whose bodies
// and preloads scale with checkpoint size.
const requestTimeout = 30 * time.Second

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /health/stores - Target and ledger health
//   - GET /api/v1/status - memfs and retry pool status
//   - POST /api/v1/suspend, POST /api/v1/resume - Initiator control
//   - POST /api/v1/evict - One eviction pass
//   - GET /api/v1/targets - Target list
//   - GET /api/v1/targets/{name}/view - Committed files of a target
//   - GET|PUT|DELETE /api/v1/files?path= - Stat, write and remove a file
//   - POST /api/v1/files/backup - Synchronous upload
//   - POST /api/v1/files/preload - Load a file from the targets
//
// When rt is nil only the health routes are mounted.
func NewRouter(rt *runtime.Runtime) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(rt)
	r.Route("/health", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/stores", healthHandler.Stores)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	if rt == nil {
		return r
	}

	statusHandler := handlers.NewStatusHandler(rt)
	targetHandler := handlers.NewTargetHandler(rt)
	fileHandler := handlers.NewFileHandler(rt)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/status", statusHandler.Get)
			r.Post("/suspend", statusHandler.Suspend)
			r.Post("/resume", statusHandler.Resume)
			r.Post("/evict", statusHandler.Evict)

			r.Route("/targets", func(r chi.Router) {
				r.Get("/", targetHandler.List)
				r.Get("/{name}/view", targetHandler.View)
			})
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/", fileHandler.Stat)
			r.Put("/", fileHandler.Write)
			r.Delete("/", fileHandler.Remove)
			r.Post("/backup", fileHandler.Backup)
			r.Post("/preload", fileHandler.Preload)
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
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

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, time.Since(start).Milliseconds(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
