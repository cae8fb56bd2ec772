// -----------------------------------------------------------------------
// WebSocket Handler - Per-job event streaming
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quorum/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// jobEvent is the wire frame pushed to websocket subscribers.
type jobEvent struct {
	Type      interfaces.EventType `json:"type"`
	JobID     string               `json:"job_id"`
	Payload   interface{}          `json:"payload,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// WebSocketHandler streams job lifecycle events to clients subscribed on
// /ws/jobs/{id}. Writes to one connection are serialized with a per-conn
// mutex; a failed write drops the connection.
type WebSocketHandler struct {
	logger  arbor.ILogger
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]*sync.Mutex
}

func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:  logger,
		clients: make(map[string]map[*websocket.Conn]*sync.Mutex),
	}

	forward := func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(event)
		return nil
	}
	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobStateChanged,
		interfaces.EventJobProgress,
		interfaces.EventJobTerminal,
	} {
		if err := events.Subscribe(eventType, forward); err != nil {
			logger.Warn().Str("event_type", string(eventType)).Err(err).Msg("Failed to subscribe websocket forwarder")
		}
	}

	return h
}

// HandleJobSocket upgrades the connection and streams events for one job
// until the client disconnects.
func (h *WebSocketHandler) HandleJobSocket(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}

	h.register(jobID, conn)
	h.logger.Debug().Str("job_id", jobID).Msg("WebSocket client connected")

	// Read pump: the client sends nothing meaningful, reading just
	// detects the close frame
	go func() {
		defer h.unregister(jobID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) register(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[jobID] == nil {
		h.clients[jobID] = make(map[*websocket.Conn]*sync.Mutex)
	}
	h.clients[jobID][conn] = &sync.Mutex{}
}

func (h *WebSocketHandler) unregister(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	if conns, ok := h.clients[jobID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, jobID)
		}
	}
	h.mu.Unlock()

	_ = conn.Close()
	h.logger.Debug().Str("job_id", jobID).Msg("WebSocket client disconnected")
}

// broadcast pushes one event to every connection subscribed to its job.
func (h *WebSocketHandler) broadcast(event interfaces.Event) {
	h.mu.RLock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients[event.JobID]))
	for conn, mu := range h.clients[event.JobID] {
		conns[conn] = mu
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	frame := jobEvent{
		Type:      event.Type,
		JobID:     event.JobID,
		Payload:   event.Payload,
		Timestamp: time.Now().UTC(),
	}

	for conn, mu := range conns {
		mu.Lock()
		err := conn.WriteJSON(frame)
		mu.Unlock()
		if err != nil {
			h.unregister(event.JobID, conn)
		}
	}
}

// Close drops every client connection.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, conns := range h.clients {
		for conn := range conns {
			_ = conn.Close()
		}
		delete(h.clients, jobID)
	}
}
