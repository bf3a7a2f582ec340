// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 64 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS middleware
		return true
	},
}

// clientMessage is the envelope of every frame a client sends
type clientMessage struct {
	Type string `json:"type"`
}

// wsSession is one upgraded connection. Outgoing frames are queued on send
// and written by a single writer goroutine.
type wsSession struct {
	conn   *websocket.Conn
	send   chan []byte
	config WebSocketConfig
	name   string

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// upgrade switches the request to a websocket. The session context keeps the
// request's values but outlives the handler's deadlines.
func upgrade(w http.ResponseWriter, r *http.Request, name string) (*wsSession, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s := &wsSession{
		conn:   conn,
		send:   make(chan []byte, 64),
		config: DefaultWebSocketConfig(),
		name:   name,
		ctx:    ctx,
		cancel: cancel,
	}
	go s.writePump()

	log.Printf("New WebSocket connection for %s from %s", name, r.RemoteAddr)
	return s, nil
}

// readPump hands every incoming frame to handle until the peer goes away
func (s *wsSession) readPump(handle func(msgType string, payload []byte)) {
	defer s.close()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
			log.Printf("Failed to parse WebSocket message: %v", err)
			s.sendError("invalid message")
			continue
		}
		handle(msg.Type, message)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
// It owns the socket and closes it on the way out.
func (s *wsSession) writePump() {
	ticker := time.NewTicker(s.config.PingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues v for writing; it gives up once the session is closed
func (s *wsSession) enqueue(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal WebSocket message: %v", err)
		return
	}

	select {
	case s.send <- payload:
	case <-s.ctx.Done():
	}
}

func (s *wsSession) sendError(message string) {
	s.enqueue(map[string]string{"type": "error", "error": message})
}

// close ends the session; it is safe to call more than once
func (s *wsSession) close() {
	s.once.Do(func() {
		s.cancel()
		log.Printf("WebSocket connection closed for %s", s.name)
	})
}
