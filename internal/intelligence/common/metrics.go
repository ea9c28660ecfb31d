/*
 * metrics.go 实现 ExtractionMetrics 接口的三种变体（Prometheus、Noop、InMemory）。
 * Prometheus 指标统一使用 lexextract_ 前缀，覆盖模式库加载、规则匹配、增强阶段、运行模式切换与文档级处理。
 */

package common

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

// ExtractionMetrics is the telemetry API of the extraction pipeline.
type ExtractionMetrics interface {
	RecordPatternLoad(ctx context.Context, loaded, rejected int, durationMs float64)
	RecordMatch(ctx context.Context, jurisdiction string, candidates int, durationMs float64)
	RecordMatchFault(ctx context.Context, patternID string)
	RecordStage(ctx context.Context, stage Stage, outcome string, entities int, durationMs float64)
	RecordCacheAccess(ctx context.Context, hit bool, stage Stage)
	RecordCircuitBreakerStateChange(ctx context.Context, name, fromState, toState string)
	RecordModeTransition(ctx context.Context, from, to Mode)
	RecordDocument(ctx context.Context, params *DocumentMetricParams)
	GetCurrentStats() *ExtractionStats
}

// Stage outcomes.
const (
	StageOutcomeSuccess = "success"
	StageOutcomeSkipped = "skipped"
)

// DocumentMetricParams carries the data for one processed document.
type DocumentMetricParams struct {
	Mode          Mode    `json:"mode"`
	Entities      int     `json:"entities"`
	Relationships int     `json:"relationships"`
	Partial       bool    `json:"partial"`
	DurationMs    float64 `json:"duration_ms"`
}

// ExtractionStats is a point-in-time snapshot.
type ExtractionStats struct {
	DocumentsProcessed int64             `json:"documents_processed"`
	PartialDocuments   int64             `json:"partial_documents"`
	EntitiesEmitted    int64             `json:"entities_emitted"`
	MatchFaults        int64             `json:"match_faults"`
	StagesSucceeded    int64             `json:"stages_succeeded"`
	StagesSkipped      int64             `json:"stages_skipped"`
	CacheHitRate       float64           `json:"cache_hit_rate"`
	CurrentMode        Mode              `json:"current_mode"`
	BreakerStates      map[string]string `json:"breaker_states"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "lexextract_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type prometheusExtractionMetrics struct {
	patternsLoaded      prometheus.Gauge
	patternsRejected    prometheus.Gauge
	patternLoadDuration prometheus.Histogram
	matchDuration       *prometheus.HistogramVec
	candidatesTotal     *prometheus.CounterVec
	matchFaultsTotal    *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	stageTotal          *prometheus.CounterVec
	cacheAccessTotal    *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
	modeGauge           prometheus.Gauge
	modeTransitions     *prometheus.CounterVec
	documentDuration    *prometheus.HistogramVec
	documentsTotal      *prometheus.CounterVec
	entitiesTotal       prometheus.Counter
	relationshipsTotal  prometheus.Counter

	stats statsTracker
}

// NewPrometheusExtractionMetrics registers all collectors on registerer
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusExtractionMetrics(registerer prometheus.Registerer) (ExtractionMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &prometheusExtractionMetrics{stats: newStatsTracker()}

	m.patternsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricsPrefix + "patterns_loaded",
		Help: "Number of compiled patterns in the active library.",
	})
	m.patternsRejected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricsPrefix + "patterns_rejected",
		Help: "Number of pattern definitions rejected during the last load.",
	})
	m.patternLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricsPrefix + "pattern_load_duration_milliseconds",
		Help:    "Pattern library load duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	})
	m.matchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "match_duration_milliseconds",
		Help:    "Rule matching duration per document in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"jurisdiction"})
	m.candidatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "candidates_total",
		Help: "Total raw candidates produced by the matching engine.",
	}, []string{"jurisdiction"})
	m.matchFaultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "match_faults_total",
		Help: "Patterns skipped at match time.",
	}, []string{"pattern_id"})
	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "stage_duration_milliseconds",
		Help:    "Enhancement stage duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"stage", "outcome"})
	m.stageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "stage_total",
		Help: "Enhancement stage executions by outcome.",
	}, []string{"stage", "outcome"})
	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "stage_cache_access_total",
		Help: "Stage response cache accesses.",
	}, []string{"stage", "result"})
	m.circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open).",
	}, []string{"breaker"})
	m.modeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricsPrefix + "mode",
		Help: "Pipeline mode (2=Full, 1=Degraded, 0=RulesOnly).",
	})
	m.modeTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "mode_transitions_total",
		Help: "Mode controller transitions.",
	}, []string{"from", "to"})
	m.documentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "document_duration_milliseconds",
		Help:    "End-to-end extraction duration per document.",
		Buckets: defaultLatencyBuckets,
	}, []string{"mode"})
	m.documentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "documents_total",
		Help: "Documents processed by mode and completeness.",
	}, []string{"mode", "partial"})
	m.entitiesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "entities_total",
		Help: "Entities returned to callers.",
	})
	m.relationshipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "relationships_total",
		Help: "Relationships returned to callers.",
	})

	collectors := []prometheus.Collector{
		m.patternsLoaded, m.patternsRejected, m.patternLoadDuration,
		m.matchDuration, m.candidatesTotal, m.matchFaultsTotal,
		m.stageDuration, m.stageTotal, m.cacheAccessTotal,
		m.circuitBreakerState, m.modeGauge, m.modeTransitions,
		m.documentDuration, m.documentsTotal, m.entitiesTotal, m.relationshipsTotal,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusExtractionMetrics) RecordPatternLoad(_ context.Context, loaded, rejected int, durationMs float64) {
	m.patternsLoaded.Set(float64(loaded))
	m.patternsRejected.Set(float64(rejected))
	m.patternLoadDuration.Observe(durationMs)
}

func (m *prometheusExtractionMetrics) RecordMatch(_ context.Context, jurisdiction string, candidates int, durationMs float64) {
	if jurisdiction == "" {
		jurisdiction = "all"
	}
	m.matchDuration.WithLabelValues(jurisdiction).Observe(durationMs)
	m.candidatesTotal.WithLabelValues(jurisdiction).Add(float64(candidates))
}

func (m *prometheusExtractionMetrics) RecordMatchFault(_ context.Context, patternID string) {
	m.matchFaultsTotal.WithLabelValues(patternID).Inc()
	m.stats.matchFaults.Add(1)
}

func (m *prometheusExtractionMetrics) RecordStage(_ context.Context, stage Stage, outcome string, _ int, durationMs float64) {
	m.stageDuration.WithLabelValues(string(stage), outcome).Observe(durationMs)
	m.stageTotal.WithLabelValues(string(stage), outcome).Inc()
	m.stats.recordStage(outcome)
}

func (m *prometheusExtractionMetrics) RecordCacheAccess(_ context.Context, hit bool, stage Stage) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheAccessTotal.WithLabelValues(string(stage), result).Inc()
	m.stats.recordCache(hit)
}

func (m *prometheusExtractionMetrics) RecordCircuitBreakerStateChange(_ context.Context, name, _, toState string) {
	m.circuitBreakerState.WithLabelValues(name).Set(breakerStateToFloat(toState))
	m.stats.breakers.Store(name, toState)
}

func (m *prometheusExtractionMetrics) RecordModeTransition(_ context.Context, from, to Mode) {
	m.modeGauge.Set(to.Ordinal())
	m.modeTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.stats.mode.Store(to)
}

func (m *prometheusExtractionMetrics) RecordDocument(_ context.Context, p *DocumentMetricParams) {
	if p == nil {
		return
	}
	partial := "false"
	if p.Partial {
		partial = "true"
	}
	m.documentDuration.WithLabelValues(string(p.Mode)).Observe(p.DurationMs)
	m.documentsTotal.WithLabelValues(string(p.Mode), partial).Inc()
	m.entitiesTotal.Add(float64(p.Entities))
	m.relationshipsTotal.Add(float64(p.Relationships))
	m.stats.recordDocument(p)
}

func (m *prometheusExtractionMetrics) GetCurrentStats() *ExtractionStats {
	return m.stats.snapshot()
}

func breakerStateToFloat(s string) float64 {
	switch s {
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}

// ---------------------------------------------------------------------------
// statsTracker backs GetCurrentStats for the prometheus and in-memory variants.
// ---------------------------------------------------------------------------

type statsTracker struct {
	documents   *atomic.Int64
	partial     *atomic.Int64
	entities    *atomic.Int64
	matchFaults *atomic.Int64
	stagesOK    *atomic.Int64
	stagesSkip  *atomic.Int64
	cacheHits   *atomic.Int64
	cacheMisses *atomic.Int64
	mode        *atomic.Value
	breakers    *sync.Map
}

func newStatsTracker() statsTracker {
	t := statsTracker{
		documents:   new(atomic.Int64),
		partial:     new(atomic.Int64),
		entities:    new(atomic.Int64),
		matchFaults: new(atomic.Int64),
		stagesOK:    new(atomic.Int64),
		stagesSkip:  new(atomic.Int64),
		cacheHits:   new(atomic.Int64),
		cacheMisses: new(atomic.Int64),
		mode:        new(atomic.Value),
		breakers:    new(sync.Map),
	}
	t.mode.Store(ModeRulesOnly)
	return t
}

func (t statsTracker) recordStage(outcome string) {
	if outcome == StageOutcomeSuccess {
		t.stagesOK.Add(1)
	} else {
		t.stagesSkip.Add(1)
	}
}

func (t statsTracker) recordCache(hit bool) {
	if hit {
		t.cacheHits.Add(1)
	} else {
		t.cacheMisses.Add(1)
	}
}

func (t statsTracker) recordDocument(p *DocumentMetricParams) {
	t.documents.Add(1)
	if p.Partial {
		t.partial.Add(1)
	}
	t.entities.Add(int64(p.Entities))
}

func (t statsTracker) snapshot() *ExtractionStats {
	hits, misses := t.cacheHits.Load(), t.cacheMisses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	breakers := make(map[string]string)
	t.breakers.Range(func(k, v any) bool {
		breakers[k.(string)] = v.(string)
		return true
	})
	return &ExtractionStats{
		DocumentsProcessed: t.documents.Load(),
		PartialDocuments:   t.partial.Load(),
		EntitiesEmitted:    t.entities.Load(),
		MatchFaults:        t.matchFaults.Load(),
		StagesSucceeded:    t.stagesOK.Load(),
		StagesSkipped:      t.stagesSkip.Load(),
		CacheHitRate:       hitRate,
		CurrentMode:        t.mode.Load().(Mode),
		BreakerStates:      breakers,
	}
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopExtractionMetrics struct{}

// NewNoopExtractionMetrics returns a metrics sink that records nothing.
func NewNoopExtractionMetrics() ExtractionMetrics {
	return noopExtractionMetrics{}
}

func (noopExtractionMetrics) RecordPatternLoad(context.Context, int, int, float64)              {}
func (noopExtractionMetrics) RecordMatch(context.Context, string, int, float64)                 {}
func (noopExtractionMetrics) RecordMatchFault(context.Context, string)                          {}
func (noopExtractionMetrics) RecordStage(context.Context, Stage, string, int, float64)          {}
func (noopExtractionMetrics) RecordCacheAccess(context.Context, bool, Stage)                    {}
func (noopExtractionMetrics) RecordCircuitBreakerStateChange(context.Context, string, string, string) {}
func (noopExtractionMetrics) RecordModeTransition(context.Context, Mode, Mode)                  {}
func (noopExtractionMetrics) RecordDocument(context.Context, *DocumentMetricParams)             {}

func (noopExtractionMetrics) GetCurrentStats() *ExtractionStats {
	return &ExtractionStats{CurrentMode: ModeRulesOnly, BreakerStates: map[string]string{}}
}

// ---------------------------------------------------------------------------
// In-memory implementation (tests)
// ---------------------------------------------------------------------------

// StageRecord is one RecordStage call captured by InMemoryExtractionMetrics.
type StageRecord struct {
	Stage    Stage
	Outcome  string
	Entities int
}

// InMemoryExtractionMetrics records calls for assertions in tests.
type InMemoryExtractionMetrics struct {
	mu              sync.Mutex
	Stages          []StageRecord
	ModeTransitions [][2]Mode
	Documents       []DocumentMetricParams
	MatchFaults     []string
	PatternLoads    int
	stats           statsTracker
}

// NewInMemoryExtractionMetrics returns an empty recorder.
func NewInMemoryExtractionMetrics() *InMemoryExtractionMetrics {
	return &InMemoryExtractionMetrics{stats: newStatsTracker()}
}

func (m *InMemoryExtractionMetrics) RecordPatternLoad(context.Context, int, int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PatternLoads++
}

func (m *InMemoryExtractionMetrics) RecordMatch(context.Context, string, int, float64) {}

func (m *InMemoryExtractionMetrics) RecordMatchFault(_ context.Context, patternID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MatchFaults = append(m.MatchFaults, patternID)
	m.stats.matchFaults.Add(1)
}

func (m *InMemoryExtractionMetrics) RecordStage(_ context.Context, stage Stage, outcome string, entities int, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stages = append(m.Stages, StageRecord{Stage: stage, Outcome: outcome, Entities: entities})
	m.stats.recordStage(outcome)
}

func (m *InMemoryExtractionMetrics) RecordCacheAccess(_ context.Context, hit bool, _ Stage) {
	m.stats.recordCache(hit)
}

func (m *InMemoryExtractionMetrics) RecordCircuitBreakerStateChange(_ context.Context, name, _, toState string) {
	m.stats.breakers.Store(name, toState)
}

func (m *InMemoryExtractionMetrics) RecordModeTransition(_ context.Context, from, to Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModeTransitions = append(m.ModeTransitions, [2]Mode{from, to})
	m.stats.mode.Store(to)
}

func (m *InMemoryExtractionMetrics) RecordDocument(_ context.Context, p *DocumentMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents = append(m.Documents, *p)
	m.stats.recordDocument(p)
}

func (m *InMemoryExtractionMetrics) GetCurrentStats() *ExtractionStats {
	return m.stats.snapshot()
}

// StageOutcomes returns a copy of the recorded stage calls.
func (m *InMemoryExtractionMetrics) StageOutcomes() []StageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StageRecord(nil), m.Stages...)
}

// Transitions returns a copy of the recorded mode transitions.
func (m *InMemoryExtractionMetrics) Transitions() [][2]Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]Mode(nil), m.ModeTransitions...)
}

//Personal.AI order the ending
