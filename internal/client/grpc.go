package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/presence"
)

const commandService = "/carts.v1.CommandService/"

// GRPCClient implements CartsClient using the gRPC transport.
type GRPCClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// Extra dial options are applied after the default insecure credentials.
func NewGRPCClient(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
	}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// --- Commands ---

func (c *GRPCClient) Move(ctx context.Context, cmd model.MovementCommand) (*model.Event, error) {
	var ev model.Event
	if err := c.invoke(ctx, "RecordMovement", cmd, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *GRPCClient) ReportObstacle(ctx context.Context, cmd model.ObstacleCommand) (*model.Event, error) {
	var resp obstacleResponse
	if err := c.invoke(ctx, "RecordObstacle", cmd, &resp); err != nil {
		return nil, err
	}
	return resp.Event, nil
}

func (c *GRPCClient) SetSpeed(ctx context.Context, cmd model.SpeedCommand) (*model.Event, error) {
	var ev model.Event
	if err := c.invoke(ctx, "RecordSpeed", cmd, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *GRPCClient) SubmitSequence(ctx context.Context, cmd model.SequenceCommand) (*SequenceResult, error) {
	var resp SequenceResult
	if err := c.invoke(ctx, "SubmitSequence", cmd, &resp); err != nil {
		if id := sequenceIDFromStatus(err); id != 0 {
			return nil, &APIError{StatusCode: http.StatusInternalServerError, Message: status.Convert(err).Message(), SequenceID: id}
		}
		return nil, err
	}
	return &resp, nil
}

// sequenceIDFromStatus returns the id_secuencia detail of a gRPC status, or 0.
func sequenceIDFromStatus(err error) int64 {
	for _, d := range status.Convert(err).Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		if v, ok := s.GetFields()["id_secuencia"]; ok {
			return int64(v.GetNumberValue())
		}
	}
	return 0
}

// --- Events ---

func (c *GRPCClient) LatestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error) {
	req := map[string]any{"id_dispositivo": deviceID}
	if n > 0 {
		req["n"] = n
	}
	var resp struct {
		Events []*model.Event `json:"eventos"`
	}
	if err := c.invoke(ctx, "LatestEvents", req, &resp); err != nil {
		return nil, err
	}
	if resp.Events == nil {
		resp.Events = []*model.Event{}
	}
	return resp.Events, nil
}

func (c *GRPCClient) LastEvent(ctx context.Context, deviceID int64) (*model.Event, error) {
	evs, err := c.LatestEvents(ctx, deviceID, 1)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, nil
	}
	return evs[0], nil
}

func (c *GRPCClient) Devices(ctx context.Context, idle time.Duration) ([]presence.Entry, error) {
	var resp devicesResponse
	if err := c.invoke(ctx, "ListDevices", map[string]any{"idle_secs": idleSecs(idle)}, &resp); err != nil {
		return nil, err
	}
	if resp.Devices == nil {
		resp.Devices = []presence.Entry{}
	}
	return resp.Devices, nil
}

// --- Health ---

func (c *GRPCClient) Health(ctx context.Context) (*HealthStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: "carts.v1.CommandService"})
	if err != nil {
		return nil, err
	}
	return &HealthStatus{OK: resp.GetStatus() == healthpb.HealthCheckResponse_SERVING}, nil
}

// --- conversion helpers ---

// invoke calls a CommandService method. Requests and responses travel as
// google.protobuf.Struct and are converted through their JSON form.
func (c *GRPCClient) invoke(ctx context.Context, method string, req, result any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, commandService+method, in, out); err != nil {
		return err
	}
	data, err := protojson.Marshal(out)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return s, nil
}
