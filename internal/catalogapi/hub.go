package catalogapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const notifyWriteTimeout = 5 * time.Second

type notice struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{clients: map[*websocket.Conn]struct{}{}, logger: logger}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		out = append(out, conn)
	}
	return out
}

// broadcast sends n to every client without waiting on slow readers. A
// client whose write fails is dropped.
func (h *hub) broadcast(n notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	for _, conn := range h.snapshot() {
		go func(conn *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), notifyWriteTimeout)
			defer cancel()
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Debug("dropping catalog watcher", zap.Error(err))
				h.remove(conn)
				_ = conn.Close(websocket.StatusGoingAway, "write failed")
			}
		}(conn)
	}
}

func (h *hub) closeAll() {
	for _, conn := range h.snapshot() {
		h.remove(conn)
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Debug("catalog watch upgrade failed", zap.Error(err))
		return
	}
	s.hub.add(conn)
	defer s.hub.remove(conn)

	// Clients only listen; CloseRead handles control frames and ends ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
