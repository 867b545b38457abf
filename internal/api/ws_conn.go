package api

import (
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts *websocket.Conn to broadcast.Sender. It holds no lock:
// WriteJSON is called only from the client's send loop, and
// CloseWithReason, which the broadcaster may call from Offer's goroutine
// while the send loop is still running, uses only WriteControl and Close,
// the two methods gorilla/websocket allows concurrently with the others.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn { return &wsConn{conn: conn} }

func (w *wsConn) WriteJSON(v any) error { return w.conn.WriteJSON(v) }

func (w *wsConn) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }

func (w *wsConn) Close() error { return w.conn.Close() }

func (w *wsConn) CloseWithReason(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}
