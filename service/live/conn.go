package live

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
}

func newWSConn(c *websocket.Conn, writeWait time.Duration) *wsConn {
	return &wsConn{conn: c, writeWait: writeWait}
}

func (w *wsConn) writeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, w.writeText(data)
}

func (w *wsConn) writeText(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("write on closed conn")
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeWait)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("ping on closed conn")
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeWait))
}

// shutdown writes the close frame (best effort) and closes the socket.
func (w *wsConn) shutdown(r closeReason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(r.code, r.text), time.Now().Add(w.writeWait))
	closeQuiet(w.conn)
}

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
