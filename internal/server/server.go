package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/pipeline"
	"github.com/alfredjeanlab/carts/internal/presence"
	"github.com/alfredjeanlab/carts/internal/registry"
	"github.com/alfredjeanlab/carts/internal/store"
)

// Bounds for the n parameter of latest-events reads.
const (
	defaultEventsLimit = 10
	maxEventsLimit     = 100
)

// CartsServer serves the command pipeline, the event reads and the observer
// endpoints over HTTP and gRPC.
type CartsServer struct {
	pipeline    *pipeline.Pipeline
	store       store.Store
	registry    *registry.Registry
	sendTimeout time.Duration
	upgrader    websocket.Upgrader

	// Presence backs the device roster. Nil serves an empty roster.
	Presence *presence.Tracker
}

// NewCartsServer returns a CartsServer. Commands go through p, reads go to s,
// and observers are registered in reg.
func NewCartsServer(p *pipeline.Pipeline, s store.Store, reg *registry.Registry, sendTimeout time.Duration) *CartsServer {
	if sendTimeout <= 0 {
		sendTimeout = registry.DefaultSendTimeout
	}
	return &CartsServer{
		pipeline:    p,
		store:       s,
		registry:    reg,
		sendTimeout: sendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// inputError indicates invalid user input that is not a field rule, such as
// a malformed body or path parameter.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// decodeRequest reads a JSON request body into dst and checks its validate
// tags.
func decodeRequest(r io.Reader, dst any) error {
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return inputError(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return model.Validate(dst)
}

// latestEvents reads up to n events for a device.
func (s *CartsServer) latestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error) {
	if deviceID < 0 {
		return nil, inputError("id_dispositivo must be 0 or greater")
	}
	if n < 1 {
		return nil, inputError("n must be at least 1")
	}
	evs, err := s.store.LatestEvents(ctx, deviceID, min(n, maxEventsLimit))
	if err != nil {
		slog.Warn("failed to read events", "device", deviceID, "error", err)
		return nil, &model.PersistenceError{Op: "read events", Err: err}
	}
	return evs, nil
}

// devices returns the roster entries idle for at most idleSecs seconds; 0
// returns every tracked device.
func (s *CartsServer) devices(idleSecs int) ([]presence.Entry, error) {
	if idleSecs < 0 {
		return nil, inputError("idle_secs must be 0 or greater")
	}
	if s.Presence == nil {
		return []presence.Entry{}, nil
	}
	return s.Presence.Roster(time.Duration(idleSecs) * time.Second), nil
}

// isClientError reports whether err was caused by the request itself.
func isClientError(err error) bool {
	var ve *model.ValidationError
	var ie inputError
	return errors.As(err, &ve) || errors.As(err, &ie)
}

// httpStatus maps a command or read error to an HTTP status code.
func httpStatus(err error) int {
	if isClientError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// grpcError maps a command or read error to a gRPC status error.
func grpcError(err error) error {
	if isClientError(err) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
