package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RunEvent is one progress message pushed to websocket subscribers.
type RunEvent struct {
	Type      string      `json:"type"` // run_started, run_finished, run_failed
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RunHub fans run progress events out to connected websocket clients.
type RunHub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRunHub creates an empty hub.
func NewRunHub(logger *zap.Logger) *RunHub {
	return &RunHub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS upgrades the connection and keeps it registered until the peer
// goes away. Clients are read only to detect disconnects.
func (h *RunHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to every connected client; slow or broken
// clients are dropped.
func (h *RunHub) Broadcast(eventType string, data interface{}) {
	payload, err := json.Marshal(RunEvent{Type: eventType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}
