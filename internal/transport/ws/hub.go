// Package ws implements the WebRTC-data-channel equivalent named by
// spec.md §4.9/§6: one JSON message per request/response, mirroring the
// HTTP body exactly. No repository in the retrieved pack imports a
// WebRTC library, so this generalizes the teacher's own real-time
// bidirectional transport (ingress/internal/hub, ingress/internal/ws)
// into a DataChannel abstraction standing in for a data channel.
package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DataChannel is one open duplex connection, generalized from the
// teacher's hub.Connection: an ID, an underlying transport connection,
// and a buffered outbound queue drained by a dedicated writer goroutine
// so readers never block on a slow peer.
type DataChannel struct {
	ID   string
	conn *websocket.Conn
	Send chan []byte

	mu sync.Mutex
}

func newDataChannel(conn *websocket.Conn) *DataChannel {
	return &DataChannel{
		ID:   uuid.New().String(),
		conn: conn,
		Send: make(chan []byte, 16),
	}
}

// WriteMessage writes one frame with proper locking, mirroring the
// teacher's Connection.WriteMessage.
func (c *DataChannel) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection.
func (c *DataChannel) Close() error {
	return c.conn.Close()
}

// Hub tracks open DataChannels by ID, mutex-guarded only across map
// mutation — never across I/O (spec.md §5 shared-resource policy),
// carried forward from the teacher's hub.Hub register/unregister
// channel pattern but simplified: this proxy has no session fan-out,
// since every message is a self-contained request/response pair.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*DataChannel
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*DataChannel)}
}

func (h *Hub) register(c *DataChannel) {
	h.mu.Lock()
	h.channels[c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *DataChannel) {
	h.mu.Lock()
	if _, ok := h.channels[c.ID]; ok {
		delete(h.channels, c.ID)
		close(c.Send)
	}
	h.mu.Unlock()
}

// Count returns the number of currently open data channels.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
