package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"trainhub/internal/broadcast"
)

// StreamHandler serves a job's event sequence over Server-Sent Events.
type StreamHandler struct {
	bcast  *broadcast.Broadcaster
	logger *slog.Logger
}

// NewStreamHandler creates the SSE handler backed by the broadcaster.
func NewStreamHandler(bcast *broadcast.Broadcaster) *StreamHandler {
	return &StreamHandler{
		bcast:  bcast,
		logger: slog.With("component", "sse"),
	}
}

// serve streams events for jobID until the sequence ends or the client
// disconnects. The first event is always a snapshot of the job's last
// known state; for a finished job the stream closes right after it.
func (s *StreamHandler) serve(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.bcast.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				// Terminal event delivered; the sequence is complete.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to encode stream event", "jobId", jobID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				// Client went away mid-write.
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
