// ---
// internal/interfaces/cli/serve.go
// serve 守护进程命令。
//
// serve：构建 App，启动 HTTP API（chi）与可选的 gRPC 健康服务，
// 监听配置文件变化以热更新限流参数，收到 SIGINT/SIGTERM 后优雅退出。
// ---
package cli

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/LexExtract-Intelligence/internal/app"
	"github.com/turtacn/LexExtract-Intelligence/internal/config"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/LexExtract-Intelligence/internal/interfaces/grpc"
	httpapi "github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/middleware"
)

const grpcStatusInterval = 5 * time.Second

// NewServeCommand starts the HTTP API.
func NewServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Run the extraction HTTP API",
		Annotations: map[string]string{daemonCommand: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cliCtx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.host:server.port)")
	return cmd
}

func runServe(ctx context.Context, cliCtx *CLIContext, addr string) error {
	cfg, logger := cliCtx.Config, cliCtx.Logger
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}

	rc := httpapi.RouterConfig{
		ExtractionHandler: handlers.NewExtractionHandler(a.Service, cfg.Server.MaxBodySize, logger),
		HealthHandler:     handlers.NewHealthHandler(Version, a.Service.Mode, a.Checkers()...),
		LoggingMiddleware: middleware.NewLoggingMiddleware(logger, a.Metrics, middleware.DefaultLoggingConfig()),
		Logger:            logger,
	}
	limiter := newSwappableLimiter(cfg.Server)
	defer limiter.Stop()
	if limiter.enabled() || cliCtx.ConfigPath != "" {
		rc.RateLimitMiddleware = middleware.NewRateLimitMiddleware(limiter, middleware.DefaultRateLimitConfig())
	}
	if cfg.Metrics.Enabled {
		rc.MetricsCollector, rc.MetricsPath = a.Collector, cfg.Metrics.Path
	}
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	srv := httpapi.NewServer(httpapi.ServerConfig{
		Addr:            addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpapi.NewRouter(rc), logger)

	if cliCtx.ConfigPath != "" {
		watchConfig(cliCtx.ConfigPath, limiter, logger)
	}

	var gs *grpcserver.Server
	if cfg.GRPC.Enabled {
		gs, err = grpcserver.NewServer(cfg.GRPC.Config, grpcserver.WithLogger(logger), grpcserver.WithMetrics(a.Metrics))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Stop(sctx)
	})
	if gs != nil {
		runGRPC(gctx, g, gs, a)
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// runGRPC adds the gRPC health server to g. Its status follows App.Ready.
func runGRPC(ctx context.Context, g *errgroup.Group, gs *grpcserver.Server, a *app.App) {
	gs.SyncStatus(a.Ready())
	go gs.WatchStatus(ctx, grpcStatusInterval, a.Ready)
	g.Go(gs.Start)
	g.Go(func() error {
		<-ctx.Done()
		return gs.Stop(context.Background())
	})
}

// watchConfig applies rate limit changes from the config file. Other
// sections need a restart.
func watchConfig(path string, limiter *swappableLimiter, logger logging.Logger) {
	err := config.Watch(path, func(next *config.Config) {
		if limiter.update(next.Server) {
			logger.Info("rate limit updated",
				logging.Float64("rps", next.Server.RateLimit), logging.Int("burst", next.Server.RateBurst))
			return
		}
		logger.Info("config file changed; restart to apply")
	}, func(err error) {
		logger.Warn("config reload rejected", logging.Err(err))
	})
	if err != nil {
		logger.Warn("config watch disabled", logging.Err(err))
	}
}

// swappableLimiter is a middleware.RateLimiter whose rate can change while
// serving. A zero rate lets every request through. update is called from a
// single goroutine.
type swappableLimiter struct {
	cur  atomic.Pointer[middleware.KeyedLimiter]
	last limitSettings
}

type limitSettings struct {
	rps   float64
	burst int
}

func newSwappableLimiter(s config.ServerConfig) *swappableLimiter {
	l := &swappableLimiter{}
	l.update(s)
	return l
}

func (l *swappableLimiter) enabled() bool { return l.cur.Load() != nil }

// update installs a new limiter when the settings differ and reports whether
// it did.
func (l *swappableLimiter) update(s config.ServerConfig) bool {
	next := limitSettings{rps: s.RateLimit, burst: s.RateBurst}
	if next == l.last {
		return false
	}
	l.last = next
	var lim *middleware.KeyedLimiter
	if next.rps > 0 {
		lim = middleware.NewKeyedLimiter(next.rps, next.burst, middleware.DefaultRateLimitConfig().CleanupInterval)
	}
	if old := l.cur.Swap(lim); old != nil {
		old.Stop()
	}
	return true
}

func (l *swappableLimiter) Allow(key string) (bool, middleware.RateLimitInfo) {
	lim := l.cur.Load()
	if lim == nil {
		return true, middleware.RateLimitInfo{}
	}
	return lim.Allow(key)
}

func (l *swappableLimiter) Stop() {
	if lim := l.cur.Swap(nil); lim != nil {
		lim.Stop()
	}
}

//Personal.AI order the ending
