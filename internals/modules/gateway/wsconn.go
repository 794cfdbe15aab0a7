package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn adapts *websocket.Conn to registry.Conn. Gorilla conns do not allow
// concurrent writers, so every write goes through one mutex; readers stay on
// the single per-connection goroutine.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
