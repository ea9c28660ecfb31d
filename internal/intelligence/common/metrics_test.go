package common

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusExtractionMetrics_Success(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusExtractionMetrics(registry)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewPrometheusExtractionMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusExtractionMetrics(registry)
	require.NoError(t, err)

	_, err = NewPrometheusExtractionMetrics(registry)
	assert.Error(t, err)
}

func TestPrometheus_RecordsAndStats(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusExtractionMetrics(registry)
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordPatternLoad(ctx, 40, 2, 12)
	m.RecordMatch(ctx, "", 7, 3)
	m.RecordMatchFault(ctx, "us.bad.0")
	m.RecordStage(ctx, StageValidation, StageOutcomeSuccess, 5, 40)
	m.RecordStage(ctx, StageEnhancement, StageOutcomeSkipped, 5, 40)
	m.RecordCacheAccess(ctx, true, StageValidation)
	m.RecordCacheAccess(ctx, false, StageValidation)
	m.RecordCircuitBreakerStateChange(ctx, "backend", "CLOSED", "OPEN")
	m.RecordModeTransition(ctx, ModeFull, ModeRulesOnly)
	m.RecordDocument(ctx, &DocumentMetricParams{Mode: ModeRulesOnly, Entities: 3, Partial: true})
	m.RecordDocument(ctx, nil)

	pm := m.(*prometheusExtractionMetrics)
	assert.Equal(t, 40.0, testutil.ToFloat64(pm.patternsLoaded))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.modeGauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.circuitBreakerState.WithLabelValues("backend")))

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(1), stats.DocumentsProcessed)
	assert.Equal(t, int64(1), stats.PartialDocuments)
	assert.Equal(t, int64(3), stats.EntitiesEmitted)
	assert.Equal(t, int64(1), stats.MatchFaults)
	assert.Equal(t, int64(1), stats.StagesSucceeded)
	assert.Equal(t, int64(1), stats.StagesSkipped)
	assert.InDelta(t, 0.5, stats.CacheHitRate, 1e-9)
	assert.Equal(t, ModeRulesOnly, stats.CurrentMode)
	assert.Equal(t, "OPEN", stats.BreakerStates["backend"])
}

func TestNoop_AllMethods_NoPanic(t *testing.T) {
	m := NewNoopExtractionMetrics()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordPatternLoad(ctx, 1, 0, 1)
		m.RecordMatch(ctx, "us", 1, 1)
		m.RecordMatchFault(ctx, "p")
		m.RecordStage(ctx, StageValidation, StageOutcomeSuccess, 1, 1)
		m.RecordCacheAccess(ctx, true, StageValidation)
		m.RecordCircuitBreakerStateChange(ctx, "b", "CLOSED", "OPEN")
		m.RecordModeTransition(ctx, ModeFull, ModeDegraded)
		m.RecordDocument(ctx, &DocumentMetricParams{})
	})
	assert.NotNil(t, m.GetCurrentStats())
}

func TestInMemory_Records(t *testing.T) {
	m := NewInMemoryExtractionMetrics()
	ctx := context.Background()

	m.RecordStage(ctx, StageValidation, StageOutcomeSkipped, 2, 5)
	m.RecordModeTransition(ctx, ModeFull, ModeDegraded)
	m.RecordMatchFault(ctx, "p1")
	m.RecordPatternLoad(ctx, 1, 0, 1)

	assert.Equal(t, []StageRecord{{Stage: StageValidation, Outcome: StageOutcomeSkipped, Entities: 2}}, m.StageOutcomes())
	assert.Equal(t, [][2]Mode{{ModeFull, ModeDegraded}}, m.Transitions())
	assert.Equal(t, []string{"p1"}, m.MatchFaults)
	assert.Equal(t, 1, m.PatternLoads)
	assert.Equal(t, ModeDegraded, m.GetCurrentStats().CurrentMode)
}

//Personal.AI order the ending
