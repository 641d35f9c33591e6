package api

import (
	"net/http"

	"trainhub/internal/broadcast"
	"trainhub/internal/health"
	"trainhub/internal/observability"
	"trainhub/internal/queue"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Manager       *queue.Manager
	Broadcaster   *broadcast.Broadcaster
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Manager, NewStreamHandler(cfg.Broadcaster), cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Job endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", authMiddleware(http.HandlerFunc(handler.CreateJob)))
	mux.Handle("GET /v1/jobs", authMiddleware(http.HandlerFunc(handler.ListJobs)))
	// "stats" would otherwise match the {jobId} wildcard; ServeMux
	// prefers the literal pattern.
	mux.Handle("GET /v1/jobs/stats", authMiddleware(http.HandlerFunc(handler.GetStats)))
	mux.Handle("GET /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.DeleteJob)))
	mux.Handle("GET /v1/jobs/{jobId}/events", authMiddleware(http.HandlerFunc(handler.StreamEvents)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
