package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// CommandServiceName is the fully qualified gRPC service name.
const CommandServiceName = "carts.v1.CommandService"

// CommandServiceServer is the server API for carts.v1.CommandService.
// Requests and responses are google.protobuf.Struct values carrying the same
// JSON shapes as the HTTP API.
type CommandServiceServer interface {
	RecordMovement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordObstacle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordSpeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitSequence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LatestEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(CommandServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var commandServiceDesc = grpc.ServiceDesc{
	ServiceName: CommandServiceName,
	HandlerType: (*CommandServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordMovement", Handler: unaryHandler("RecordMovement", CommandServiceServer.RecordMovement)},
		{MethodName: "RecordObstacle", Handler: unaryHandler("RecordObstacle", CommandServiceServer.RecordObstacle)},
		{MethodName: "RecordSpeed", Handler: unaryHandler("RecordSpeed", CommandServiceServer.RecordSpeed)},
		{MethodName: "SubmitSequence", Handler: unaryHandler("SubmitSequence", CommandServiceServer.SubmitSequence)},
		{MethodName: "LatestEvents", Handler: unaryHandler("LatestEvents", CommandServiceServer.LatestEvents)},
		{MethodName: "ListDevices", Handler: unaryHandler("ListDevices", CommandServiceServer.ListDevices)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "carts/v1/command.proto",
}

func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + CommandServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CommandServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CommandServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterCommandServiceServer registers srv on s.
func RegisterCommandServiceServer(s grpc.ServiceRegistrar, srv CommandServiceServer) {
	s.RegisterService(&commandServiceDesc, srv)
}

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the CommandService and the health service, and returns the server ready to
// serve.
func NewGRPCServer(cartsServer *CartsServer) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
		),
	)

	RegisterCommandServiceServer(srv, cartsServer)

	hs := health.NewServer()
	hs.SetServingStatus(CommandServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}
