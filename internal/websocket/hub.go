package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub is the server-side counterpart to Client: it accepts inbound
// WebSocket connections and fans a stream of JSON-encoded values out to
// every connected viewer. Unlike Client, which dials out and receives
// commands, a Hub only ever pushes — there is no command channel coming
// back from a connected viewer.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[*hubConn]struct{}
}

type hubConn struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty Hub. Origin checking is left open since the
// viewers here are trusted local/status clients, not browser pages served
// cross-origin.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		viewers:  make(map[*hubConn]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection as a viewer until it disconnects or a write fails.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("hub: upgrade failed", "error", err)
		return
	}
	hc := &hubConn{conn: conn, send: make(chan []byte, 16)}

	h.mu.Lock()
	h.viewers[hc] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(hc)
	go h.readLoop(hc)
}

func (h *Hub) readLoop(hc *hubConn) {
	defer h.drop(hc)
	for {
		if _, _, err := hc.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(hc *hubConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer hc.conn.Close()
	for {
		select {
		case msg, ok := <-hc.send:
			if !ok {
				return
			}
			hc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := hc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			hc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := hc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(hc *hubConn) {
	h.mu.Lock()
	delete(h.viewers, hc)
	h.mu.Unlock()
	close(hc.send)
}

// Broadcast marshals v to JSON and queues it to every connected viewer. A
// viewer whose send buffer is full is dropped rather than blocking the
// broadcaster.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for hc := range h.viewers {
		select {
		case hc.send <- data:
		default:
			log.Warn("hub: dropping slow viewer")
			delete(h.viewers, hc)
			close(hc.send)
		}
	}
	return nil
}
