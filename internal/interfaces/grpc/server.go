// ---
// internal/interfaces/grpc/server.go
// gRPC 健康检查端点。
//
// 功能定位：为负载均衡器与编排系统暴露标准 grpc.health.v1 服务，
// 反映模式库是否就绪以及模型阶段是否可用。
//
// 核心实现：
//   - Server：grpcServer, listener, healthServer, logger, metrics
//   - NewServer：绑定 listener、组装拦截器链（recovery → logging → metrics）
//   - SyncStatus / WatchStatus：按库与模式刷新各服务的 SERVING 状态
//   - Stop：NOT_SERVING → GracefulStop 带超时 → Stop
// ---
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// Health service names. The empty name is the server as a whole.
const (
	ExtractionService  = "lexextract.v1.Extraction"
	ModelStagesService = "lexextract.v1.ModelStages"
)

const (
	defaultMaxRecvMsgSize  = 4 * 1024 * 1024
	defaultGracefulTimeout = 10 * time.Second
)

var defaultKeepaliveParams = keepalive.ServerParameters{
	MaxConnectionIdle:     15 * time.Minute,
	MaxConnectionAge:      30 * time.Minute,
	MaxConnectionAgeGrace: 5 * time.Second,
	Time:                  5 * time.Minute,
	Timeout:               1 * time.Second,
}

var defaultKeepalivePolicy = keepalive.EnforcementPolicy{
	MinTime:             5 * time.Second,
	PermitWithoutStream: true,
}

// Config is the listener configuration.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	Reflection      bool          `mapstructure:"reflection"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// Option configures the gRPC Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger         logging.Logger
	metrics        *prometheus.ServiceMetrics
	tlsConfig      *tls.Config
	maxRecvMsgSize int
}

func WithLogger(l logging.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

func WithMetrics(m *prometheus.ServiceMetrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

func WithTLSConfig(tc *tls.Config) Option {
	return func(o *serverOptions) { o.tlsConfig = tc }
}

// WithMaxRecvMsgSize sets the maximum receive message size in bytes.
func WithMaxRecvMsgSize(size int) Option {
	return func(o *serverOptions) {
		if size > 0 {
			o.maxRecvMsgSize = size
		}
	}
}

// Server serves grpc.health.v1 with per-service status.
type Server struct {
	grpcServer      *grpc.Server
	listener        net.Listener
	healthServer    *health.Server
	logger          logging.Logger
	gracefulTimeout time.Duration

	mu      sync.Mutex
	started bool
}

// NewServer binds cfg.Addr and registers the health service. Every service
// starts NOT_SERVING until the first SyncStatus.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	sopts := &serverOptions{maxRecvMsgSize: defaultMaxRecvMsgSize}
	for _, o := range opts {
		o(sopts)
	}
	logger := logging.OrNop(sopts.logger).Named("grpc")

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	grpcOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(sopts.maxRecvMsgSize),
		grpc.KeepaliveParams(defaultKeepaliveParams),
		grpc.KeepaliveEnforcementPolicy(defaultKeepalivePolicy),
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(logger),
			loggingUnaryInterceptor(logger),
			metricsUnaryInterceptor(sopts.metrics),
		),
		grpc.ChainStreamInterceptor(
			recoveryStreamInterceptor(logger),
			metricsStreamInterceptor(sopts.metrics),
		),
	}
	if sopts.tlsConfig != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(sopts.tlsConfig)))
	}

	gs := grpc.NewServer(grpcOpts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	for _, name := range []string{"", ExtractionService, ModelStagesService} {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	if cfg.Reflection {
		reflection.Register(gs)
		logger.Info("grpc reflection service registered")
	}

	timeout := cfg.GracefulTimeout
	if timeout <= 0 {
		timeout = defaultGracefulTimeout
	}
	return &Server{
		grpcServer:      gs,
		listener:        lis,
		healthServer:    hs,
		logger:          logger,
		gracefulTimeout: timeout,
	}, nil
}

// SyncStatus publishes readiness. ModelStagesService serves while the mode
// still runs model stages.
func (s *Server) SyncStatus(ready bool, m common.Mode) {
	serving := func(ok bool) healthpb.HealthCheckResponse_ServingStatus {
		if ok {
			return healthpb.HealthCheckResponse_SERVING
		}
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.healthServer.SetServingStatus("", serving(ready))
	s.healthServer.SetServingStatus(ExtractionService, serving(ready))
	s.healthServer.SetServingStatus(ModelStagesService, serving(ready && m != common.ModeRulesOnly))
}

// WatchStatus calls SyncStatus with src every interval until ctx ends.
func (s *Server) WatchStatus(ctx context.Context, interval time.Duration, src func() (bool, common.Mode)) {
	ready, m := src()
	s.SyncStatus(ready, m)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready, m := src()
			s.SyncStatus(ready, m)
		}
	}
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("grpc server starting", logging.String("address", s.Addr()))
	return s.grpcServer.Serve(s.listener)
}

// Stop drains connections, forcing a stop when the graceful period or ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return s.listener.Close()
	}

	s.healthServer.Shutdown()

	gracefulCtx, cancel := context.WithTimeout(ctx, s.gracefulTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("grpc server stopped gracefully")
	case <-gracefulCtx.Done():
		s.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// ---------------------------------------------------------------------------
// Interceptors
// ---------------------------------------------------------------------------

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					logging.String("method", info.FullMethod),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc stream panic recovered",
					logging.String("method", info.FullMethod),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

// loggingUnaryInterceptor logs every non-health call at debug level and
// failures at warn.
func loggingUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []logging.Field{
			logging.String("method", info.FullMethod),
			logging.Duration("duration", time.Since(start)),
			logging.String("code", code.String()),
		}
		switch {
		case code != codes.OK:
			logger.Warn("grpc request failed", fields...)
		case !isHealthCheck(info.FullMethod):
			logger.Debug("grpc request", fields...)
		}
		return resp, err
	}
}

func metricsUnaryInterceptor(m *prometheus.ServiceMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if m == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		service, method := splitMethodName(info.FullMethod)
		prometheus.RecordGRPCRequest(m, service, method, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

func metricsStreamInterceptor(m *prometheus.ServiceMetrics) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if m == nil {
			return handler(srv, ss)
		}
		start := time.Now()
		err := handler(srv, ss)
		service, method := splitMethodName(info.FullMethod)
		prometheus.RecordGRPCRequest(m, service, method, status.Code(err).String(), time.Since(start))
		return err
	}
}

// splitMethodName splits "/package.Service/Method".
func splitMethodName(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[:i], fullMethod[i+1:]
	}
	return "unknown", fullMethod
}

//Personal.AI order the ending
