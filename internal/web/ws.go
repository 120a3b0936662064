package web

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a websocket connection to the bridge's Transport.
// Gorilla permits one concurrent writer, so Send serializes writes.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.cfg.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowed == "" || allowed == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range strings.Split(allowed, ",") {
				if strings.TrimSpace(o) == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleBrowserWS attaches a browser socket to a session. The session is
// created on first contact; disconnects leave it running.
func (s *Server) handleBrowserWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("browser ws upgrade for %s: %v", id, err)
		return
	}

	sess := s.reg.GetOrCreate(id, "")
	t := &wsTransport{conn: conn}
	sess.HandleBrowserOpen(t)

	defer func() {
		sess.HandleBrowserClose(t)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.HandleBrowserData(t, data)
	}
}

// handleCLIWS attaches a CLI upstream over WebSocket, the remote alternative
// to a launcher-spawned process. Each WebSocket message carries one or more
// newline-delimited JSON frames.
func (s *Server) handleCLIWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("cli ws upgrade for %s: %v", id, err)
		return
	}

	sess := s.reg.GetOrCreate(id, "")
	t := &wsTransport{conn: conn}
	sess.HandleCLIOpen(t)

	defer func() {
		sess.HandleCLIClose(t)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		sess.HandleCLIData(data)
	}
}
