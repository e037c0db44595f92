package liveserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"swap_trader/internal/core"
)

const (
	maxClients     = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 512
)

// Server upgrades HTTP connections and attaches them to the hub.
type Server struct {
	hub     *Hub
	server  *http.Server
	logger  core.ILogger
	limiter *rate.Limiter
	slots   chan struct{}
}

// NewServer creates a WebSocket server on port. allowedOrigins restricts
// browser connections; empty means same-host only.
func NewServer(hub *Hub, port int, allowedOrigins []string, logger core.ILogger) *Server {
	s := &Server{
		hub:    hub,
		logger: logger.WithField("component", "liveserver"),
		// Burst of connection attempts is tolerated; sustained hammering
		// is not.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		slots:   make(chan struct{}, maxClients),
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser client
			}
			if len(allowedOrigins) == 0 {
				return false
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}

		select {
		case s.slots <- struct{}{}:
		default:
			http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			<-s.slots
			s.logger.Warn("Upgrade failed", "error", err.Error())
			return
		}
		s.serveClient(conn)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener closes. It blocks.
func (s *Server) Start() error {
	s.logger.Info("Live server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("live server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) serveClient(conn *websocket.Conn) {
	c := &client{send: make(chan []byte, clientSendBuffer)}
	s.hub.addClient(c)

	// Reader: we only consume control frames, but the read loop is what
	// detects a closed peer.
	go func() {
		defer func() {
			s.hub.removeClient(c)
			conn.Close()
			<-s.slots
		}()
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case msg, ok := <-c.send:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}
