package live

import (
	"net/http"

	"chatwave/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// HandlePresence GET /ws/presence
func (m *Manager) HandlePresence(c *gin.Context) { m.serve(c.Writer, c.Request, newPresenceFlavor()) }

// HandleUnread GET /ws/unread
func (m *Manager) HandleUnread(c *gin.Context) { m.serve(c.Writer, c.Request, newUnreadFlavor()) }

func (m *Manager) serve(w http.ResponseWriter, r *http.Request, f flavor) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[live] upgrade websocket error: %v", err)
		return
	}

	m.mu.Lock()
	if m.base.Err() != nil {
		m.mu.Unlock()
		newWSConn(ws, m.conf.WriteWait).shutdown(closeGoingAway)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	s := newSession(m, f, ws)
	s.run(m.base, r)
}
