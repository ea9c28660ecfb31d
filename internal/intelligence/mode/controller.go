/*
 * controller.go 运行模式控制器：Full / Degraded / RulesOnly。
 * 由定时健康探测（cron 调度）与阶段失败熔断器共同驱动；单写者（apply 循环），多读者（原子快照）。
 */

// Package mode tracks the pipeline capability level.
package mode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// Config tunes probing and the stage-failure breaker.
type Config struct {
	// Schedule is a cron spec for health probes. Defaults to "@every" the
	// probe interval.
	Schedule         string        `mapstructure:"schedule" json:"schedule"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval" json:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" json:"probe_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" json:"cooldown"`
}

// NewConfig returns the defaults.
func NewConfig() Config {
	return Config{
		ProbeInterval:    15 * time.Second,
		ProbeTimeout:     2 * time.Second,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := NewConfig()
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.Schedule == "" {
		c.Schedule = fmt.Sprintf("@every %s", c.ProbeInterval)
	}
	return c
}

// Snapshot is an immutable view of the controller state.
type Snapshot struct {
	Mode      common.Mode        `json:"mode"`
	Since     time.Time          `json:"since"`
	LastProbe common.ProbeResult `json:"last_probe"`
	ProbedAt  time.Time          `json:"probed_at,omitempty"`
	Breaker   string             `json:"breaker"`
}

// Evaluate maps a probe outcome and breaker state onto a mode. An open
// breaker or an unreachable (or never probed) backend means RulesOnly.
func Evaluate(probe common.ProbeStatus, breaker common.BreakerState) common.Mode {
	if breaker == common.BreakerOpen {
		return common.ModeRulesOnly
	}
	switch probe {
	case common.ProbeHealthy:
		return common.ModeFull
	case common.ProbeDegraded:
		return common.ModeDegraded
	default:
		return common.ModeRulesOnly
	}
}

type event struct {
	probe *common.ProbeResult
	done  chan struct{}
}

// Controller owns the mode. Only the apply loop writes the snapshot.
type Controller struct {
	cfg     Config
	prober  common.HealthProber
	breaker *common.CircuitBreaker
	logger  logging.Logger
	metrics common.ExtractionMetrics
	now     func() time.Time

	snap   atomic.Pointer[Snapshot]
	events chan event
	cron   *cron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	// running holds the stopped channel of the live loop, nil otherwise.
	running atomic.Pointer[chan struct{}]
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller in RulesOnly mode. Start begins probing.
func NewController(prober common.HealthProber, cfg Config, logger logging.Logger, metrics common.ExtractionMetrics, opts ...Option) *Controller {
	if metrics == nil {
		metrics = common.NewNoopExtractionMetrics()
	}
	c := &Controller{
		cfg:     cfg.withDefaults(),
		prober:  prober,
		logger:  logging.OrNop(logger).Named("mode"),
		metrics: metrics,
		now:     time.Now,
		events:  make(chan event, 16),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = common.NewCircuitBreaker("inference", c.cfg.FailureThreshold, c.cfg.Cooldown, c.logger, metrics,
		common.WithBreakerClock(c.now),
		common.WithBreakerListener(func(_, _ common.BreakerState) { c.nudge() }))
	c.snap.Store(&Snapshot{Mode: common.ModeRulesOnly, Since: c.now(), Breaker: c.breaker.State().String()})
	return c
}

// Breaker returns the stage-failure breaker the orchestrator reports to.
func (c *Controller) Breaker() *common.CircuitBreaker { return c.breaker }

// Mode returns the current mode.
func (c *Controller) Mode() common.Mode { return c.snap.Load().Mode }

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot { return *c.snap.Load() }

// Start probes once, schedules periodic probes and starts the apply loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	stopped := c.stopped
	c.running.Store(&stopped)
	go c.loop(loopCtx, c.stopped)

	if c.prober == nil {
		c.logger.Info("no health prober configured; staying rules-only")
		return nil
	}
	c.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.cron.AddFunc(c.cfg.Schedule, func() { c.ProbeNow(loopCtx) }); err != nil {
		c.running.Store(nil)
		cancel()
		<-c.stopped
		c.cancel = nil
		return fmt.Errorf("schedule health probe %q: %w", c.cfg.Schedule, err)
	}
	c.ProbeNow(loopCtx)
	c.cron.Start()
	c.logger.Info("mode controller started",
		logging.String("schedule", c.cfg.Schedule),
		logging.Mode(string(c.Mode())))
	return nil
}

// Stop halts probing and the apply loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.running.Store(nil)
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	c.cancel()
	<-c.stopped
	c.cancel = nil
}

// ProbeNow runs one probe and waits until its outcome has been applied.
func (c *Controller) ProbeNow(ctx context.Context) common.ProbeResult {
	if c.prober == nil {
		return common.ProbeResult{Status: common.ProbeUnreachable, Detail: "no prober"}
	}
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	start := c.now()
	res := c.prober.Probe(pctx)
	cancel()
	if res.Latency == 0 {
		res.Latency = c.now().Sub(start)
	}
	c.Observe(ctx, res)
	return res
}

// Observe submits a probe result and waits for it to be applied. Results
// submitted while the loop is not running are dropped.
func (c *Controller) Observe(ctx context.Context, res common.ProbeResult) {
	live := c.running.Load()
	if live == nil {
		return
	}
	stopped := *live
	ev := event{probe: &res, done: make(chan struct{})}
	select {
	case c.events <- ev:
	case <-ctx.Done():
		return
	case <-stopped:
		return
	}
	select {
	case <-ev.done:
	case <-ctx.Done():
	case <-stopped:
	}
}

// nudge asks the loop to re-read the breaker. It never blocks: the breaker
// listener runs on request goroutines.
func (c *Controller) nudge() {
	select {
	case c.events <- event{}:
	default:
	}
}

func (c *Controller) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.apply(ev.probe)
			if ev.done != nil {
				close(ev.done)
			}
		}
	}
}

// apply is the only writer of the snapshot.
func (c *Controller) apply(probe *common.ProbeResult) {
	cur := c.snap.Load()
	next := *cur
	if probe != nil {
		next.LastProbe = *probe
		next.ProbedAt = c.now()
		// A successful probe after the cool-down stands in for the half-open
		// trial call.
		if probe.Status != common.ProbeUnreachable &&
			c.breaker.State() != common.BreakerClosed && c.breaker.CooldownElapsed() {
			c.breaker.Reset()
		}
	}
	next.Breaker = c.breaker.State().String()
	next.Mode = Evaluate(next.LastProbe.Status, c.breaker.State())
	if next.Mode != cur.Mode {
		next.Since = c.now()
		c.logger.Info("mode transition",
			logging.String("from", string(cur.Mode)),
			logging.String("to", string(next.Mode)),
			logging.String("probe", string(next.LastProbe.Status)),
			logging.String("breaker", next.Breaker))
		c.metrics.RecordModeTransition(context.Background(), cur.Mode, next.Mode)
	}
	c.snap.Store(&next)
}

//Personal.AI order the ending
