// Package grpcapi exposes the engine over gRPC: a hand-written Acquire
// service (this repository owns no .proto/generated stubs, per scope) plus
// the standard grpc-go health service wired to the store's reachability.
package grpcapi

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rs/zerolog/log"

	"github.com/arcflow/ratelimitd/meta"
	"github.com/arcflow/ratelimitd/obsmetrics"
	"github.com/arcflow/ratelimitd/ratelimit"
)

// jsonCodecName is registered with grpc-go's encoding package so a
// grpc.Server carrying this ServiceDesc can marshal requests and responses
// without a .proto-generated codec.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// AcquireRequest is the wire request for the Acquire RPC.
type AcquireRequest struct {
	Resource string `json:"resource"`
	Caller   string `json:"caller"`
}

// AcquireResponse is the wire response for the Acquire RPC.
type AcquireResponse struct {
	Allowed      bool   `json:"allowed"`
	Remaining    uint32 `json:"remaining"`
	RetryAfterMS uint32 `json:"retry_after_ms"`
}

// Server implements the Acquire RPC over a *ratelimit.Engine.
type Server struct {
	engine  *ratelimit.Engine
	metrics *obsmetrics.Metrics
}

// NewServer wraps engine for gRPC serving. metrics may be nil, in which case
// no Prometheus series are recorded.
func NewServer(engine *ratelimit.Engine, metrics *obsmetrics.Metrics) *Server {
	return &Server{engine: engine, metrics: metrics}
}

// Acquire handles one decoded AcquireRequest, mapping the engine's Code
// taxonomy onto gRPC status codes per §7.
func (s *Server) Acquire(ctx context.Context, req *AcquireRequest) (*AcquireResponse, error) {
	ctx = meta.WithCall(ctx, req.Resource, req.Caller, traceIDFromIncoming(ctx))

	start := time.Now()
	d, err := s.engine.Acquire(ctx, req.Resource, req.Caller)

	if s.metrics != nil {
		s.metrics.ObserveStoreCall(req.Resource, start)
		s.metrics.AcquireTotal.WithLabelValues(req.Resource, strconv.FormatBool(d.Allowed)).Inc()
		if d.Code == ratelimit.CodeUnavailable || d.Code == ratelimit.CodeDeadlineExceeded || d.Code == ratelimit.CodeInternal {
			s.metrics.StoreErrors.WithLabelValues(d.Code.String()).Inc()
		}
	}

	resp := &AcquireResponse{
		Allowed:      d.Allowed,
		Remaining:    uint32(d.Remaining),
		RetryAfterMS: uint32(d.RetryAfterMS),
	}

	logEvent := log.Debug()
	if err != nil {
		logEvent = log.Warn().Err(err)
	}
	logEvent.
		Str("resource", meta.ResourceFrom(ctx)).
		Str("caller", meta.CallerFrom(ctx)).
		Str("trace_id", meta.TraceIDFrom(ctx)).
		Bool("allowed", resp.Allowed).
		Str("code", d.Code.String()).
		Msg("acquire")

	if err == nil {
		return resp, nil
	}
	return resp, status.Error(grpcCodeFor(d.Code), err.Error())
}

// traceIDFromIncoming reads the x-trace-id header a caller may attach via
// gRPC metadata, falling back to an empty string when absent.
func traceIDFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("x-trace-id")
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func grpcCodeFor(c ratelimit.Code) codes.Code {
	switch c {
	case ratelimit.CodeInvalidArgument:
		return codes.InvalidArgument
	case ratelimit.CodeUnavailable:
		return codes.Unavailable
	case ratelimit.CodeDeadlineExceeded:
		return codes.DeadlineExceeded
	case ratelimit.CodeInternal:
		return codes.Internal
	default:
		return codes.OK
	}
}

func acquireHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(AcquireRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*Server).Acquire(ctx, req)
}

// ServiceDesc is the grpc.ServiceDesc for the rate limiter's Acquire RPC,
// registered directly with a grpc.Server in place of generated stubs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ratelimitd.RateLimiter",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Acquire",
			Handler:    acquireHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ratelimitd.proto",
}

// Register attaches srv to gs under ServiceDesc.
func Register(gs *grpc.Server, srv *Server) {
	gs.RegisterService(&ServiceDesc, srv)
}
