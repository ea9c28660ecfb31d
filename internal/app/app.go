/*
 * app.go 组装根：按配置构建日志、指标、模式库（本地目录 + MinIO）、推理后端（HTTP + Redis 缓存 + gRPC 探测）、
 * 模式控制器、编排器、流水线、结果下游（Kafka / Neo4j / OpenSearch / MinIO）与 Redis 文档锁。
 * serve 命令与 worker 进程共用。
 */

// Package app wires the extraction service from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/application/extraction"
	"github.com/turtacn/LexExtract-Intelligence/internal/config"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/database/neo4j"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/backend"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/orchestrator"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// EventSource tags result events published by this service.
const EventSource = "lexextract"

const startupTimeout = 30 * time.Second

type closer struct {
	name string
	fn   func() error
}

// App holds every long-lived component. Fields for disabled integrations are
// nil.
type App struct {
	Config            *config.Config
	Logger            logging.Logger
	Collector         prometheus.MetricsCollector
	Metrics           *prometheus.ServiceMetrics
	ExtractionMetrics common.ExtractionMetrics

	Patterns   *patterns.Holder
	Watcher    *patterns.Watcher
	Controller *mode.Controller
	Pipeline   *pipeline.Pipeline
	Service    *extraction.Service

	Redis    *redis.Client
	Producer *kafka.Producer

	checkers []handlers.HealthChecker
	closers  []closer
}

// Build constructs the application. On error every component opened so far is
// closed.
func Build(ctx context.Context, cfg *config.Config, logger logging.Logger) (a *App, err error) {
	a = &App{Config: cfg, Logger: logging.OrNop(logger)}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err = a.buildMetrics(); err != nil {
		return a, err
	}
	var store *minio.MinIOClient
	if cfg.MinIO.Enabled {
		if store, err = a.buildMinIO(ctx); err != nil {
			return a, err
		}
	}
	if err = a.buildPatterns(store); err != nil {
		return a, err
	}
	if cfg.Redis.Enabled {
		if a.Redis, err = redis.NewClient(&cfg.Redis.RedisConfig, a.Logger); err != nil {
			return a, errors.Wrap(err, errors.ErrCodeCacheError, "connect redis")
		}
		a.addCloser("redis", a.Redis.Close)
		a.checkers = append(a.checkers, handlers.CheckerFunc{ComponentName: "redis", Fn: a.Redis.Ping})
	}

	orch, err := a.buildOrchestrator()
	if err != nil {
		return a, err
	}
	a.Pipeline = pipeline.New(a.Patterns, orch, cfg.Pipeline,
		pipeline.WithLogger(a.Logger),
		pipeline.WithMetrics(a.ExtractionMetrics))

	sinks, err := a.buildSinks(ctx, store)
	if err != nil {
		return a, err
	}
	opts := []extraction.Option{
		extraction.WithSinks(sinks...),
		extraction.WithServiceMetrics(a.Metrics),
		extraction.WithLogger(a.Logger),
	}
	if a.Controller != nil {
		opts = append(opts, extraction.WithModeReporter(a.Controller))
	}
	if a.Redis != nil {
		opts = append(opts, extraction.WithLocker(extraction.NewRedisLocker(a.Redis), cfg.Worker.LockTTL))
	}
	a.Service = extraction.NewService(a.Pipeline, opts...)
	return a, nil
}

func (a *App) buildMetrics() error {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            a.Config.Metrics.Namespace,
		EnableProcessMetrics: a.Config.Metrics.Enabled,
		EnableGoMetrics:      a.Config.Metrics.Enabled,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}
	a.Collector = collector
	a.Metrics = prometheus.NewServiceMetrics(collector)
	if a.ExtractionMetrics, err = common.NewPrometheusExtractionMetrics(collector.Registerer()); err != nil {
		return fmt.Errorf("extraction metrics: %w", err)
	}
	return nil
}

func (a *App) buildMinIO(ctx context.Context) (*minio.MinIOClient, error) {
	store, err := minio.NewMinIOClient(&a.Config.MinIO.MinIOConfig, a.Logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "connect minio")
	}
	a.addCloser("minio", store.Close)
	if err := store.EnsureBuckets(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "ensure minio buckets")
	}
	a.checkers = append(a.checkers, handlers.CheckerFunc{ComponentName: "minio", Fn: func(ctx context.Context) error {
		_, err := store.HealthCheck(ctx)
		return err
	}})
	return store, nil
}

// buildPatterns performs the initial load through the watcher so startup and
// hot reloads share one code path. Startup fails only when nothing loads.
func (a *App) buildPatterns(store *minio.MinIOClient) error {
	cfg := a.Config.Patterns
	a.Patterns = patterns.NewHolder(nil)

	wopts := []patterns.WatcherOption{
		patterns.WithWatcherLogger(a.Logger),
		patterns.WithLoadOptions(
			patterns.WithLogger(a.Logger),
			patterns.WithMetrics(a.ExtractionMetrics),
			patterns.WithComplexityLimits(cfg.Complexity),
		),
		patterns.OnReload(func(_ *patterns.Library, errs []patterns.LoadError) {
			prometheus.RecordPatternReload(a.Metrics, nil)
			logLoadErrors(a.Logger, errs)
		}),
	}
	if cfg.FromMinIO && store != nil {
		ps := store.PatternStore()
		wopts = append(wopts, patterns.WithExtraSources(func() ([]patterns.Source, error) {
			fetchCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
			defer cancel()
			return patterns.FromObjectStore(fetchCtx, ps, ps.Prefix())
		}))
	}
	a.Watcher = patterns.NewWatcher(a.Patterns, cfg.Paths(), wopts...)

	lib, errs, err := a.Watcher.Reload()
	if err != nil {
		prometheus.RecordPatternReload(a.Metrics, err)
		logLoadErrors(a.Logger, errs)
		return errors.Wrap(err, errors.ErrCodePatternLoad, "load pattern library")
	}
	a.Logger.Info("pattern library loaded",
		logging.Int("patterns", lib.Len()),
		logging.Strings("jurisdictions", lib.Jurisdictions()))
	a.checkers = append(a.checkers, handlers.LibraryChecker(func() int { return a.Patterns.Library().Len() }))
	return nil
}

func logLoadErrors(logger logging.Logger, errs []patterns.LoadError) {
	for _, e := range errs {
		logger.Warn("pattern rejected",
			logging.PatternID(e.PatternID),
			logging.String("source", e.Source),
			logging.String("kind", string(e.Kind)),
			logging.String("reason", e.Message))
	}
}

// buildOrchestrator wires the inference backend and mode controller. Without
// a backend every document runs rules-only.
func (a *App) buildOrchestrator() (*orchestrator.Orchestrator, error) {
	cfg := a.Config
	oopts := []orchestrator.Option{
		orchestrator.WithLogger(a.Logger),
		orchestrator.WithMetrics(a.ExtractionMetrics),
	}
	if !cfg.Backend.Enabled {
		return orchestrator.New(nil, nil, cfg.Pipeline.Orchestrator, oopts...), nil
	}

	httpBackend, err := backend.NewHTTPBackend(cfg.Backend.HTTPConfig, a.Logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBackendUnavailable, "create inference backend")
	}
	var model common.ModelBackend = httpBackend
	if cfg.Backend.Cache && a.Redis != nil {
		cache := redis.NewRedisCache(a.Redis, a.Logger, redis.WithPrefix(cfg.Redis.KeyPrefix+"stage:"))
		model = backend.NewCachedBackend(httpBackend, cache, cfg.Backend.CacheTTL, a.Logger, a.ExtractionMetrics)
	}
	a.addCloser("backend", model.Close)

	var prober common.HealthProber = httpBackend
	if cfg.Backend.GRPCHealthAddress != "" {
		gp, err := backend.NewGRPCProber(cfg.Backend.GRPCHealthAddress)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBackendUnavailable, "dial backend health endpoint")
		}
		a.addCloser("backend-health", gp.Close)
		prober = gp
	}

	a.Controller = mode.NewController(prober, cfg.Mode, a.Logger, a.ExtractionMetrics)
	oopts = append(oopts, orchestrator.WithGate(a.Controller.Breaker()))
	return orchestrator.New(model, a.Controller, cfg.Pipeline.Orchestrator, oopts...), nil
}

func (a *App) buildSinks(ctx context.Context, store *minio.MinIOClient) ([]extraction.ResultSink, error) {
	cfg := a.Config
	var sinks []extraction.ResultSink

	if cfg.Kafka.Enabled {
		if cfg.Kafka.AutoCreateTopics {
			if err := ensureTopics(ctx, cfg.Kafka, a.Logger); err != nil {
				return nil, err
			}
		}
		producer, err := kafka.NewProducer(cfg.Kafka.ProducerConfig(), a.Logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMessaging, "create kafka producer")
		}
		a.Producer = producer
		a.addCloser("kafka-producer", producer.Close)
		sinks = append(sinks, extraction.NewEventSink(producer, cfg.Kafka.ResultTopic, EventSource))
	}

	if cfg.Neo4j.Enabled {
		driver, err := neo4j.NewDriver(cfg.Neo4j.Neo4jConfig, a.Logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "connect neo4j")
		}
		a.addCloser("neo4j", driver.Close)
		a.checkers = append(a.checkers, handlers.CheckerFunc{ComponentName: "neo4j", Fn: driver.HealthCheck})
		sinks = append(sinks, extraction.NewGraphSink(neo4j.NewGraphWriter(driver, a.Logger)))
	}

	if cfg.OpenSearch.Enabled {
		client, err := opensearch.NewClient(cfg.OpenSearch.ClientConfig, a.Logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExternalService, "connect opensearch")
		}
		a.addCloser("opensearch", client.Close)
		indexer := opensearch.NewEntityIndexer(client, cfg.OpenSearch.Indexer, a.Logger)
		if err := indexer.EnsureIndex(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExternalService, "ensure entity index")
		}
		a.checkers = append(a.checkers, handlers.CheckerFunc{ComponentName: "opensearch", Fn: client.Ping})
		sinks = append(sinks, extraction.NewIndexSink(indexer))
	}

	if cfg.MinIO.ArchiveResults && store != nil {
		sinks = append(sinks, extraction.NewArchiveSink(store.ResultArchive()))
	}
	return sinks, nil
}

func ensureTopics(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(cfg.Brokers, logger)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMessaging, "connect kafka controller")
	}
	defer tm.Close()
	if err := tm.EnsureTopics(ctx, kafka.DefaultTopics(cfg.ReplicationFactor)); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessaging, "ensure kafka topics")
	}
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Checkers returns the readiness checks of every enabled component.
func (a *App) Checkers() []handlers.HealthChecker {
	return append([]handlers.HealthChecker(nil), a.checkers...)
}

// Ready reports whether the pattern library can serve requests, and the
// current mode.
func (a *App) Ready() (bool, common.Mode) {
	return a.Patterns.Library().Len() > 0, a.Pipeline.Mode()
}

// Start launches background work: mode probing and, when configured, the
// catalog watcher. Both stop when ctx ends.
func (a *App) Start(ctx context.Context) error {
	if a.Controller != nil {
		if err := a.Controller.Start(ctx); err != nil {
			return fmt.Errorf("start mode controller: %w", err)
		}
	}
	if a.Config.Patterns.Watch && len(a.Config.Patterns.Paths()) > 0 {
		go func() {
			if err := a.Watcher.Run(ctx); err != nil {
				a.Logger.Error("pattern watcher stopped", logging.Err(err))
			}
		}()
	}
	return nil
}

// Close stops the controller and releases connections in reverse order.
func (a *App) Close() {
	if a.Controller != nil {
		a.Controller.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("close failed", logging.String("component", c.name), logging.Err(err))
		}
	}
	a.closers = nil
}

//Personal.AI order the ending
