package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ CommandServiceServer = (*CartsServer)(nil)

// RecordMovement records a movement command.
func (s *CartsServer) RecordMovement(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req moveRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	ev, err := s.pipeline.RecordMovement(ctx, req.command())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(ev)
}

// RecordObstacle records an obstacle report.
func (s *CartsServer) RecordObstacle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req obstacleRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	ev, err := s.pipeline.RecordObstacle(ctx, req.command())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"ok": true, "evento": ev})
}

// RecordSpeed records a speed change.
func (s *CartsServer) RecordSpeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req speedRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	ev, err := s.pipeline.RecordSpeed(ctx, req.command())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(ev)
}

// SubmitSequence submits a movement sequence.
func (s *CartsServer) SubmitSequence(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sequenceRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	cmd := req.command()
	id, err := s.pipeline.SubmitSequence(ctx, cmd)
	if err != nil {
		if id != 0 {
			return nil, sequenceStepsError(id, err)
		}
		return nil, grpcError(err)
	}
	return toStruct(sequenceResponse(id, cmd))
}

// sequenceStepsError reports a sequence that reached the cart without its
// step records. The status carries {"id_secuencia"} as a Struct detail.
func sequenceStepsError(id int64, err error) error {
	st := status.New(codes.Internal, err.Error())
	detail, derr := structpb.NewStruct(map[string]any{"id_secuencia": id})
	if derr != nil {
		return st.Err()
	}
	if withID, derr := st.WithDetails(detail); derr == nil {
		st = withID
	}
	return st.Err()
}

// LatestEvents returns {"eventos": [...]} for {"id_dispositivo", "n"}.
func (s *CartsServer) LatestEvents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		DeviceID *int64 `json:"id_dispositivo" validate:"required"`
		N        *int   `json:"n"`
	}
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	n := defaultEventsLimit
	if req.N != nil {
		n = *req.N
	}
	evs, err := s.latestEvents(ctx, *req.DeviceID, n)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"eventos": evs})
}

// ListDevices returns {"dispositivos": [...]} for an optional {"idle_secs"}.
func (s *CartsServer) ListDevices(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		IdleSecs int `json:"idle_secs"`
	}
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	entries, err := s.devices(req.IdleSecs)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"dispositivos": entries})
}

// decodeStruct decodes a Struct request through its JSON form, so gRPC and
// HTTP share the same request types and checks.
func decodeStruct(in *structpb.Struct, dst any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return inputError(fmt.Sprintf("invalid request: %v", err))
	}
	return decodeRequest(bytes.NewReader(data), dst)
}

// toStruct converts a JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, grpcError(fmt.Errorf("encoding response: %w", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, grpcError(fmt.Errorf("encoding response: %w", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcError(fmt.Errorf("encoding response: %w", err))
	}
	return out, nil
}
