package broker

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/wsproto"
)

// gorillaSocket adapts a gorilla connection to wsproto.Socket. The
// session's writer goroutine is the only caller of WriteJSON and Ping, so
// no extra locking is needed here. Close uses WriteControl, which gorilla
// allows concurrently with an in-flight write.
type gorillaSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (g *gorillaSocket) WriteJSON(v any) error {
	_ = g.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	return g.conn.WriteJSON(v)
}

func (g *gorillaSocket) Ping() error {
	return g.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.writeTimeout))
}

func (g *gorillaSocket) Close() error {
	deadline := time.Now().Add(g.writeTimeout)
	_ = g.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return g.conn.Close()
}

func (s *Service) upgrader() websocket.Upgrader {
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if s.cfg.AllowAnyOrigin {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}
	return up
}

// handleWS upgrades the request and runs the connection's read loop until
// the client goes away or the session is terminated.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.DebugContext(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	connID := uuid.NewString()
	sock := &gorillaSocket{conn: conn, writeTimeout: s.cfg.WriteTimeout}

	sess, err := wsproto.NewSession(connID, sock, s.reg,
		wsproto.WithLogger(s.logger),
		wsproto.WithSendBuffer(s.cfg.SendBuffer))
	if err != nil {
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		sess.MarkAlive()
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	s.addSession(sess)
	defer func() {
		sess.Terminate()
		s.removeSession(connID)
	}()

	s.logger.DebugContext(r.Context(), "websocket connected", logger.ConnectionID(connID))

	if err := sess.Hello(); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.DebugContext(r.Context(), "websocket read failed",
					logger.ConnectionID(connID), logger.Error(err))
			}
			return
		}

		// Any inbound traffic proves the peer is alive, not just pongs.
		sess.MarkAlive()
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var msg wsproto.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Leave Type empty so the session answers with an in-band
			// validation error instead of dropping the connection.
			msg = wsproto.ClientMessage{}
		}
		sess.HandleMessage(msg)

		if sess.State() == wsproto.StateTerminated {
			return
		}
	}
}
