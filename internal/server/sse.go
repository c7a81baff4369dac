package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alfredjeanlab/carts/internal/idgen"
	"github.com/alfredjeanlab/carts/internal/registry"
)

const (
	// sseBufferSize is how many messages may wait for a slow stream before
	// sends start blocking.
	sseBufferSize = 64

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second
)

// sseConn is a server-sent-events observer registered in the registry.
// There is no replay: a reconnecting client only sees later broadcasts.
type sseConn struct {
	id        string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEConn(id string) *sseConn {
	return &sseConn{
		id:   id,
		ch:   make(chan []byte, sseBufferSize),
		done: make(chan struct{}),
	}
}

func (c *sseConn) ID() string { return c.id }

// Send queues payload for the stream, waiting at most until ctx is done.
func (c *sseConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return registry.ErrClosed
	default:
	}
	select {
	case c.ch <- payload:
		return nil
	case <-c.done:
		return registry.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *sseConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// handleEventStream handles GET /v1/events/stream (SSE endpoint).
func (s *CartsServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	// Ensure response supports flushing (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	id, err := idgen.Observer(idgen.PrefixStream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn := newSSEConn(id)
	s.registry.Register(conn)
	// Close before unregistering so a broadcast blocked on this conn
	// returns and releases the registry.
	defer func() {
		_ = conn.Close()
		s.registry.Unregister(conn)
	}()

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Stream messages until the client disconnects or the registry drops us.
	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.done:
			slog.Debug("event stream dropped by registry", "conn", id)
			return
		case payload := <-conn.ch:
			fmt.Fprintf(w, "data:%s\n\n", payload)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}
