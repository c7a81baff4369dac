// Package registry tracks live observer connections and fans broadcast
// messages out to them.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/carts/internal/events"
	"github.com/alfredjeanlab/carts/internal/metrics"
)

// DefaultSendTimeout bounds a single send when none is configured.
const DefaultSendTimeout = 5 * time.Second

// ErrClosed is returned by Conn implementations after Close.
var ErrClosed = errors.New("connection closed")

// Conn is a live observer channel. Send must be safe to call concurrently
// with Close; it must return once ctx is done.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Registry is the set of active observer connections. Mutation and broadcast
// iteration share one lock, so a connection that stays registered receives
// broadcasts in the order they were issued.
type Registry struct {
	mu          sync.Mutex
	conns       map[Conn]struct{}
	closed      bool
	sendTimeout time.Duration
	log         *slog.Logger
}

// New creates an empty registry. A zero sendTimeout uses DefaultSendTimeout.
func New(sendTimeout time.Duration, log *slog.Logger) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		conns:       make(map[Conn]struct{}),
		sendTimeout: sendTimeout,
		log:         log,
	}
}

// Register adds c to the active set. On a closed registry the connection is
// closed instead.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = c.Close()
		return
	}
	r.conns[c] = struct{}{}
	metrics.Observers.Set(float64(len(r.conns)))
	r.log.Debug("observer registered", "conn", c.ID(), "observers", len(r.conns))
}

// Unregister removes c if present. It does not close c.
func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return
	}
	delete(r.conns, c)
	metrics.Observers.Set(float64(len(r.conns)))
	r.log.Debug("observer unregistered", "conn", c.ID(), "observers", len(r.conns))
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Broadcast sends msg to every registered connection. Sends run in parallel,
// each bounded by the send timeout; a connection whose send fails is closed
// and removed. Broadcast never reports delivery failures to the caller.
//
// Sends are detached from ctx cancellation: a command whose caller has gone
// away still reaches the observers.
func (r *Registry) Broadcast(ctx context.Context, msg events.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("failed to encode broadcast", "tipo", msg.Type(), "error", err)
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(msg.Type()).Inc()
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return
	}

	failed := make(chan Conn, len(r.conns))
	var wg sync.WaitGroup
	for c := range r.conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				r.log.Debug("dropping observer after failed send", "conn", c.ID(), "tipo", msg.Type(), "error", err)
				failed <- c
				return
			}
			metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryOK).Inc()
		}()
	}
	wg.Wait()
	close(failed)

	for c := range failed {
		delete(r.conns, c)
		_ = c.Close()
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryFailed).Inc()
	}
	metrics.Observers.Set(float64(len(r.conns)))
}

// Close closes and removes every connection. Later registrations are closed
// immediately.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for c := range r.conns {
		_ = c.Close()
		delete(r.conns, c)
	}
	metrics.Observers.Set(0)
}
