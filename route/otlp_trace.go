package route

import (
	"context"
	"errors"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
)

type TraceServer struct {
	router *Router
	collectortrace.UnimplementedTraceServiceServer
}

func NewTraceServer(router *Router) *TraceServer {
	return &TraceServer{router: router}
}

// Export accepts an OTLP trace export. The request has already been decoded
// by gRPC, so the message and its size are counted here.
func (t *TraceServer) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	collector := t.router.grpcCollector
	m := collector.Counters()
	m.IncrementMessages()
	m.IncrementBytes(proto.Size(req))

	spans, err := codec.FromOTLP(req)
	if err != nil {
		m.IncrementMessagesDropped()
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	err = wait(ctx, func(cb call.Callback[struct{}]) {
		collector.Accept(ctx, spans, cb)
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// grpcError maps an accept failure to a status. ResourceExhausted tells OTLP
// exporters to back off and retry.
func grpcError(err error) error {
	switch errorForAccept(err) {
	case ErrDecode:
		return status.Error(codes.InvalidArgument, err.Error())
	case ErrOverCapacity:
		return status.Error(codes.ResourceExhausted, err.Error())
	case ErrUnavailable:
		if errors.Is(err, context.DeadlineExceeded) {
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// healthServer answers the gRPC health protocol from the same state as
// /ready.
type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	router *Router
}

func (h *healthServer) status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	if h.router.Health != nil && !h.router.Health.IsReady() {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

func (h *healthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.router.Logger.Debug().Logf("answered grpc_health_v1 check")
	return &grpc_health_v1.HealthCheckResponse{Status: h.status()}, nil
}

func (h *healthServer) Watch(req *grpc_health_v1.HealthCheckRequest, server grpc_health_v1.Health_WatchServer) error {
	h.router.Logger.Debug().Logf("serving grpc_health_v1 watch")
	return server.Send(&grpc_health_v1.HealthCheckResponse{Status: h.status()})
}
