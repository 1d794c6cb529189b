package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
)

// Server upgrades /stream requests and pumps the hub's feed to each
// connection. It runs on its own plain net/http listener next to the
// ops API.
type Server struct {
	hub *Hub
	log *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			// Dev default; the ops API carries no auth either.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := s.hub.subscribe()
	s.log.Info("stream subscriber joined", zap.Uint64("subscriber_id", sub.id))

	go s.writeLoop(conn, sub)
	s.readLoop(conn, sub)
}

// writeLoop owns all writes on the connection: events from the hub and
// the keepalive pings. It exits when the subscriber channel closes or a
// write fails.
func (s *Server) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client frames; it exists to notice disconnects and
// keep the pong deadline fresh.
func (s *Server) readLoop(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		s.hub.unsubscribe(sub)
		_ = conn.Close()
		s.log.Info("stream subscriber left", zap.Uint64("subscriber_id", sub.id))
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetReadLimit(4 * 1024)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
