package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketHandler serves the per-job event stream over WebSocket. The JSON
// frames are identical to the SSE payloads; only the transport differs.
type WebSocketHandler struct {
	bus    interfaces.StreamBus
	jobs   interfaces.JobStorage
	logger arbor.ILogger
}

func NewWebSocketHandler(bus interfaces.StreamBus, jobs interfaces.JobStorage, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		bus:    bus,
		jobs:   jobs,
		logger: logger,
	}
}

// StreamHandler serves GET /api/websets/{id}/ws.
func (h *WebSocketHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	jobID := PathSegment(r.URL.Path, "/api/websets/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "webset id is required")
		return
	}
	if _, err := h.jobs.GetJob(r.Context(), jobID); err != nil {
		WriteError(w, http.StatusNotFound, "webset not found: "+jobID)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(jobID)
	defer sub.Close()

	h.logger.Debug().
		Str("job_id", jobID).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket subscriber attached")

	// Reader goroutine: drains client frames and surfaces disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, open := <-sub.Events():
			if !open {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
