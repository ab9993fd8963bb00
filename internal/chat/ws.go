package chat

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler serves the frame protocol over WebSocket. Frames may be
// split across messages or packed several to one message; the byte stream
// is what counts.
func (s *Server) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}
		s.logger.Info("websocket client connected", "addr", r.RemoteAddr)
		s.ServeConn(&wsConn{c: conn}, r.RemoteAddr)
	})
}

// wsConn adapts a websocket connection to a byte stream. Writes are not
// synchronized: a session has at most one write in flight.
type wsConn struct {
	c *websocket.Conn
	r io.Reader
}

func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.r == nil {
			mt, r, err := w.c.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			w.r = r
		}
		n, err := w.r.Read(p)
		if errors.Is(err, io.EOF) {
			w.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
