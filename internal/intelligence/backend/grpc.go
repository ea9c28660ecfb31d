package backend

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// StructuredOutputService is the health service name an inference server
// reports SERVING for when it supports structured output.
const StructuredOutputService = "lexextract.inference.StructuredOutput"

// GRPCProber probes an inference server through the standard gRPC health
// protocol. The overall service must be SERVING; structured-output support
// is read from StructuredOutputService.
type GRPCProber struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewGRPCProber dials target lazily. Without dial options the connection is
// plaintext.
func NewGRPCProber(target string, opts ...grpc.DialOption) (*GRPCProber, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewGRPCProberFromConn(conn), nil
}

// NewGRPCProberFromConn wraps an existing connection.
func NewGRPCProberFromConn(conn *grpc.ClientConn) *GRPCProber {
	return &GRPCProber{conn: conn, client: healthpb.NewHealthClient(conn)}
}

// Probe implements common.HealthProber.
func (p *GRPCProber) Probe(ctx context.Context) common.ProbeResult {
	start := time.Now()
	result := func(s common.ProbeStatus, detail string) common.ProbeResult {
		return common.ProbeResult{Status: s, Detail: detail, Latency: time.Since(start)}
	}

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return result(common.ProbeUnreachable, err.Error())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return result(common.ProbeUnreachable, resp.GetStatus().String())
	}

	so, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: StructuredOutputService})
	switch {
	case status.Code(err) == codes.NotFound:
		return result(common.ProbeDegraded, "structured output not registered")
	case err != nil:
		return result(common.ProbeDegraded, err.Error())
	case so.GetStatus() != healthpb.HealthCheckResponse_SERVING:
		return result(common.ProbeDegraded, "structured output "+so.GetStatus().String())
	}
	return result(common.ProbeHealthy, "")
}

// Close closes the connection.
func (p *GRPCProber) Close() error { return p.conn.Close() }

//Personal.AI order the ending
