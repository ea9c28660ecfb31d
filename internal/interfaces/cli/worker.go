package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/LexExtract-Intelligence/internal/app"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	httpapi "github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// NewWorkerCommand consumes extraction requests from Kafka. Results leave
// through the configured sinks; failed records go to the dead-letter topic.
func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "worker",
		Short:       "Consume extraction requests from Kafka",
		Annotations: map[string]string{daemonCommand: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cliCtx)
		},
	}
}

func runWorker(ctx context.Context, cliCtx *CLIContext) error {
	cfg, logger := cliCtx.Config, cliCtx.Logger
	if !cfg.Kafka.Enabled {
		return errors.New(errors.ErrCodeValidation, "worker requires kafka.enabled")
	}
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

	consumer, err := kafka.NewConsumer(cfg.Kafka.ConsumerConfig(), a.Producer, logger)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMessaging, "create kafka consumer")
	}
	consumer.Subscribe(cfg.Kafka.RequestTopic, a.Service.ProcessMessage)

	router := httpapi.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(Version, a.Service.Mode, a.Checkers()...),
		Logger:        logger,
	}
	if cfg.Metrics.Enabled {
		router.MetricsCollector, router.MetricsPath = a.Collector, cfg.Metrics.Path
	}
	probes := httpapi.NewServer(httpapi.ServerConfig{
		Addr:            cfg.Worker.HTTPAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpapi.NewRouter(router), logger)

	if err := consumer.Start(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessaging, "start kafka consumer")
	}
	logger.Info("worker started",
		logging.String("topic", cfg.Kafka.RequestTopic),
		logging.String("group", cfg.Kafka.GroupID))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(probes.Start)
	g.Go(func() error {
		<-gctx.Done()
		// Drain the in-flight record before the sinks close.
		cerr := consumer.Close()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := probes.Stop(sctx); err != nil {
			return err
		}
		return cerr
	})
	err = g.Wait()

	processed, failed, dead := consumer.Stats()
	logger.Info("worker stopped",
		logging.Int64("processed", processed),
		logging.Int64("failed", failed),
		logging.Int64("dead_lettered", dead))
	return err
}

//Personal.AI order the ending
