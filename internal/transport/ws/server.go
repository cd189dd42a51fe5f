package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wadang/cua/internal/transport"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	maxMessage   = 10 << 20 // 10MiB, generous enough for a screenshot-bearing transcript
)

// Server upgrades incoming HTTP connections to the data-channel
// transport and dispatches every inbound JSON message through the same
// Dispatcher the HTTP transport uses, grounded on the teacher's
// ws.Server (upgrade → register → readPump/writePump goroutines).
type Server struct {
	dispatch *transport.Dispatcher
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer builds a Server delegating every data-channel message to
// dispatch.
func NewServer(dispatch *transport.Dispatcher) *Server {
	return &Server{
		dispatch: dispatch,
		hub:      NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades r and serves it until the peer disconnects. Intended
// to be mounted at whatever path the deployment chooses (e.g.
// GET /responses/ws) alongside the HTTP transport's POST /responses.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	dc := newDataChannel(conn)
	s.hub.register(dc)
	conn.SetReadLimit(maxMessage)

	go s.writePump(dc)
	s.readPump(dc)
}

func (s *Server) readPump(dc *DataChannel) {
	defer func() {
		s.hub.unregister(dc)
		dc.Close()
	}()

	dc.conn.SetReadDeadline(time.Now().Add(readTimeout))
	dc.conn.SetPongHandler(func(string) error {
		dc.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := dc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: connection error: %v", err)
			}
			return
		}
		s.handleMessage(dc, data)
	}
}

func (s *Server) writePump(dc *DataChannel) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		dc.Close()
	}()

	for {
		select {
		case data, ok := <-dc.Send:
			dc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				dc.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := dc.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			dc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := dc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes one data-channel frame as a transport.Request,
// dispatches it, and queues the transport.Response reply — the same
// JSON contract POST /responses uses (spec.md §4.9).
func (s *Server) handleMessage(dc *DataChannel, data []byte) {
	var req transport.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(dc, transport.Response{Status: transport.StatusFailed, Error: "invalid JSON message: " + err.Error()})
		return
	}
	if err := transport.ValidateRequest(req); err != nil {
		s.reply(dc, transport.Response{Status: transport.StatusFailed, Error: "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	resp, err := s.dispatch.Dispatch(ctx, req)
	if err != nil {
		s.reply(dc, transport.Response{Status: transport.StatusFailed, Error: err.Error()})
		return
	}
	s.reply(dc, resp)
}

func (s *Server) reply(dc *DataChannel, resp transport.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("ws: marshal reply: %v", err)
		return
	}
	select {
	case dc.Send <- data:
	default:
		log.Printf("ws: channel %s send buffer full, dropping reply", dc.ID)
	}
}
