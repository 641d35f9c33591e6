// Package api exposes the job REST endpoints, the live event stream,
// and the health probes over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"trainhub/internal/apperrors"
	"trainhub/internal/health"
	"trainhub/internal/job"
	"trainhub/internal/queue"
)

// maxRequestBodySize caps submit bodies; a training request is a few
// hundred bytes, so 1 MB leaves generous headroom.
const maxRequestBodySize = 1 << 20

// Handler translates HTTP requests into queue manager calls. It owns
// no state of its own: validation and lifecycle decisions stay in the
// manager, and the handler only maps their errors onto status codes.
type Handler struct {
	manager *queue.Manager
	streams *StreamHandler
	health  *health.Checker
}

// NewHandler wires the handler to the queue manager, the event stream
// handler, and the health checker.
func NewHandler(manager *queue.Manager, streams *StreamHandler, healthChecker *health.Checker) *Handler {
	return &Handler{
		manager: manager,
		streams: streams,
		health:  healthChecker,
	}
}

// CreateJob handles POST /v1/jobs. Admission is asynchronous: the
// response is 202 with the job's snapshot, which may already be
// training if a slot was free.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	snap, err := h.manager.Submit(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, snap)
}

// ListJobs handles GET /v1/jobs
// Query params: status, limit, offset (all optional).
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := job.ListFilter{
		Status: job.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	jobs := h.manager.List(filter)
	if jobs == nil {
		jobs = []job.Job{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	snap, err := h.manager.Get(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, snap)
}

// DeleteJob handles DELETE /v1/jobs/{jobId} - requests cancellation.
// Returns 202: a training job finalizes asynchronously once its worker
// acknowledges the cancel.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	snap, err := h.manager.Cancel(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, snap)
}

// GetStats handles GET /v1/jobs/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.manager.Stats())
}

// StreamEvents handles GET /v1/jobs/{jobId}/events - SSE live stream.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	// 404 before committing to the stream; after the first write the
	// status line is gone.
	if _, err := h.manager.Get(jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.streams.serve(w, r, jobID)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if dependencies (the executor backend) are unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the manager with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
