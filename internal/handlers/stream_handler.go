package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

const ssePingInterval = 15 * time.Second

// StreamHandler serves the per-job SSE event stream. Every frame is
// "data: <json>\n\n" with the event type carried inside the JSON payload, so
// clients multiplex on one onmessage handler.
type StreamHandler struct {
	bus    interfaces.StreamBus
	jobs   interfaces.JobStorage
	logger arbor.ILogger
}

func NewStreamHandler(bus interfaces.StreamBus, jobs interfaces.JobStorage, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{
		bus:    bus,
		jobs:   jobs,
		logger: logger,
	}
}

// StreamHandler serves GET /api/websets/{id}/stream.
func (h *StreamHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathSegment(r.URL.Path, "/api/websets/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "webset id is required")
		return
	}
	if _, err := h.jobs.GetJob(r.Context(), jobID); err != nil {
		WriteError(w, http.StatusNotFound, "webset not found: "+jobID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.bus.Subscribe(jobID)
	defer sub.Close()

	h.logger.Debug().
		Str("job_id", jobID).
		Str("remote", r.RemoteAddr).
		Msg("SSE subscriber attached")

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			// Comment frame keeps proxies from idling the connection out.
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event models.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
