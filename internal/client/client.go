// Package client provides a transport-agnostic interface for the carts service
// and HTTP/JSON and gRPC implementations of it.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/presence"
)

// CartsClient is the interface that all cartctl commands use to communicate
// with the carts server. It is implemented by HTTPClient (default) and
// GRPCClient.
type CartsClient interface {
	// Commands
	Move(ctx context.Context, cmd model.MovementCommand) (*model.Event, error)
	ReportObstacle(ctx context.Context, cmd model.ObstacleCommand) (*model.Event, error)
	SetSpeed(ctx context.Context, cmd model.SpeedCommand) (*model.Event, error)
	SubmitSequence(ctx context.Context, cmd model.SequenceCommand) (*SequenceResult, error)

	// Events
	LatestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error)
	// LastEvent returns nil, nil when the device has no events.
	LastEvent(ctx context.Context, deviceID int64) (*model.Event, error)

	// Devices returns the carts commanded within idle; 0 returns all of them.
	Devices(ctx context.Context, idle time.Duration) ([]presence.Entry, error)

	// Health
	Health(ctx context.Context) (*HealthStatus, error)

	// Lifecycle
	Close() error
}

// SequenceResult is the server's reply to a submitted sequence.
type SequenceResult struct {
	OK         bool   `json:"ok"`
	ID         int64  `json:"id_secuencia"`
	TotalSteps int    `json:"total_movimientos"`
	Message    string `json:"mensaje"`
}

// HealthStatus is the result of a health check. Observers is only reported
// over HTTP.
type HealthStatus struct {
	OK        bool `json:"ok"`
	Observers int  `json:"observers"`
}

// devicesResponse wraps the device roster.
type devicesResponse struct {
	Devices []presence.Entry `json:"dispositivos"`
}

// idleSecs converts a roster idle limit to whole seconds.
func idleSecs(idle time.Duration) int {
	return int(idle / time.Second)
}

// obstacleResponse wraps the event returned by the obstacle endpoint.
type obstacleResponse struct {
	OK    bool         `json:"ok"`
	Event *model.Event `json:"evento"`
}
