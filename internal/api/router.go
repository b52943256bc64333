package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/metrics"
)

// NewRouter builds the API handler.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /metrics - Prometheus exposition (when metrics are enabled)
//   - GET /api/v1/names - NetBIOS name table
//   - GET /api/v1/sessions - Active SMB sessions with statistics
//   - GET /api/v1/sessions/{id} - A single session
//   - GET /api/v1/shares - Registered shares and their current use
//   - GET /api/v1/locks - Byte-range locks grouped by file
//
// When jwtService is non-nil every /api/v1 route requires a bearer token.
func NewRouter(src Sources, jwtService *JWTService, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	h := &handlers{src: src, started: time.Now()}

	r.Get("/health", h.liveness)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	if metrics.IsEnabled() {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if jwtService != nil {
			r.Use(JWTAuth(jwtService))
		}
		r.Get("/names", h.listNames)
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{id}", h.getSession)
		r.Get("/shares", h.listShares)
		r.Get("/locks", h.listLocks)
	})

	return r
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, time.Since(start).Milliseconds(),
		}

		// probes and scrapes would drown everything else at info
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
