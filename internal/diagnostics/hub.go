package diagnostics

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"memfuse/internal/logging"
)

// clientBuffer bounds the per-client event queue; full queues drop events
// rather than stall the pipeline.
const clientBuffer = 64

// Hub broadcasts diagnostics events to connected websocket observers.
// It implements Sink.
type Hub struct {
	logger logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// NewHub creates a websocket diagnostics hub
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Hub{
		logger:  logger.WithComponent("diag-hub"),
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// Register adds a websocket client and starts its writer. The hub owns the
// connection from this point and closes it when the client falls away.
func (h *Hub) Register(conn *websocket.Conn) {
	ch := make(chan Event, clientBuffer)

	h.mu.Lock()
	h.clients[conn] = ch
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("diagnostics observer connected", "observers", count)

	go h.writeLoop(conn, ch)
}

// Emit broadcasts the event to all connected observers, dropping it for any
// client whose queue is full
func (h *Hub) Emit(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping diagnostics event for slow observer")
		}
	}
}

// Close disconnects all observers
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.clients {
		close(ch)
		delete(h.clients, conn)
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, ch chan Event) {
	defer func() {
		h.unregister(conn)
		_ = conn.Close()
	}()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("failed to marshal diagnostics event", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
}
