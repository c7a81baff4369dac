package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/carts/internal/events"
	"github.com/alfredjeanlab/carts/internal/idgen"
	"github.com/alfredjeanlab/carts/internal/registry"
)

const (
	wsMaxMessageSize = 4096
	wsPongWait       = 60 * time.Second
	wsPingInterval   = 25 * time.Second
	wsControlWait    = 5 * time.Second
)

// wsConn is a websocket observer registered in the registry. Writes are
// serialized; Close may be called from any goroutine.
type wsConn struct {
	id string
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(id string, ws *websocket.Conn) *wsConn {
	return &wsConn{id: id, ws: ws}
}

func (c *wsConn) ID() string { return c.id }

// Send writes one text frame, giving up at the ctx deadline.
func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(registry.DefaultSendTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a going-away frame and closes the connection.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// keepalive pings the peer until stop is closed or a ping fails.
func (c *wsConn) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsControlWait)); err != nil {
				return
			}
		}
	}
}

// handleMonitor handles GET /ws/monitor. The observer is registered for
// broadcasts; every frame it sends is acknowledged to it alone.
func (s *CartsServer) handleMonitor(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	id, err := idgen.Observer(idgen.PrefixWebSocket)
	if err != nil {
		slog.Warn("failed to generate observer id", "error", err)
		_ = ws.Close()
		return
	}

	conn := newWSConn(id, ws)
	s.registry.Register(conn)
	// Close before unregistering so a broadcast blocked on this conn
	// returns and releases the registry.
	defer func() {
		_ = conn.Close()
		s.registry.Unregister(conn)
	}()

	stop := make(chan struct{})
	defer close(stop)
	go conn.keepalive(stop)

	ws.SetReadLimit(wsMaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("observer read failed", "conn", id, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

		payload, err := json.Marshal(events.NewAck(string(data)))
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		err = conn.Send(ctx, payload)
		cancel()
		if err != nil {
			slog.Debug("observer ack failed", "conn", id, "error", err)
			return
		}
	}
}
