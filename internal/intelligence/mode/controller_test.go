package mode

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		probe   common.ProbeStatus
		breaker common.BreakerState
		want    common.Mode
	}{
		{common.ProbeHealthy, common.BreakerClosed, common.ModeFull},
		{common.ProbeHealthy, common.BreakerHalfOpen, common.ModeFull},
		{common.ProbeHealthy, common.BreakerOpen, common.ModeRulesOnly},
		{common.ProbeDegraded, common.BreakerClosed, common.ModeDegraded},
		{common.ProbeUnreachable, common.BreakerClosed, common.ModeRulesOnly},
		{"", common.BreakerClosed, common.ModeRulesOnly},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Evaluate(tt.probe, tt.breaker), "%s/%s", tt.probe, tt.breaker)
	}
}

type scripted struct {
	status atomic.Value
}

func newScripted(s common.ProbeStatus) (*scripted, *common.MockBackend) {
	sc := &scripted{}
	sc.status.Store(s)
	return sc, &common.MockBackend{ProbeFunc: func(context.Context) common.ProbeResult {
		return common.ProbeResult{Status: sc.status.Load().(common.ProbeStatus)}
	}}
}

func hourly() Config {
	cfg := NewConfig()
	cfg.Schedule = "@every 1h"
	return cfg
}

func TestController_ProbesDriveMode(t *testing.T) {
	sc, b := newScripted(common.ProbeHealthy)
	m := common.NewInMemoryExtractionMetrics()
	c := NewController(b, hourly(), nil, m)
	assert.Equal(t, common.ModeRulesOnly, c.Mode(), "rules-only until the first probe")

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	assert.Equal(t, common.ModeFull, c.Mode())

	sc.status.Store(common.ProbeDegraded)
	c.ProbeNow(ctx)
	assert.Equal(t, common.ModeDegraded, c.Mode())

	sc.status.Store(common.ProbeDegraded)
	c.ProbeNow(ctx)

	sc.status.Store(common.ProbeUnreachable)
	c.ProbeNow(ctx)
	snap := c.Snapshot()
	assert.Equal(t, common.ModeRulesOnly, snap.Mode)
	assert.Equal(t, common.ProbeUnreachable, snap.LastProbe.Status)

	assert.Equal(t, [][2]common.Mode{
		{common.ModeRulesOnly, common.ModeFull},
		{common.ModeFull, common.ModeDegraded},
		{common.ModeDegraded, common.ModeRulesOnly},
	}, m.Transitions(), "one transition per change")
}

func TestController_BreakerForcesRulesOnly(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	_, b := newScripted(common.ProbeHealthy)
	cfg := hourly()
	cfg.FailureThreshold = 2
	cfg.Cooldown = time.Minute
	c := NewController(b, cfg, nil, nil, WithClock(clock))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	require.Equal(t, common.ModeFull, c.Mode())

	c.Breaker().RecordFailure()
	c.Breaker().RecordFailure()
	assert.Eventually(t, func() bool { return c.Mode() == common.ModeRulesOnly }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "OPEN", c.Snapshot().Breaker)

	c.ProbeNow(ctx)
	assert.Equal(t, common.ModeRulesOnly, c.Mode(), "cool-down not elapsed")

	now.Add(int64(2 * time.Minute))
	c.ProbeNow(ctx)
	assert.Equal(t, common.ModeFull, c.Mode())
	assert.Equal(t, common.BreakerClosed, c.Breaker().State())
}

func TestController_NoProber(t *testing.T) {
	c := NewController(nil, NewConfig(), nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	assert.Equal(t, common.ModeRulesOnly, c.Mode())
	assert.Equal(t, common.ProbeUnreachable, c.ProbeNow(context.Background()).Status)
}

func TestController_BadSchedule(t *testing.T) {
	_, b := newScripted(common.ProbeHealthy)
	cfg := NewConfig()
	cfg.Schedule = "whenever"
	c := NewController(b, cfg, nil, nil)
	assert.Error(t, c.Start(context.Background()))
	c.Stop()
}

func returnsWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call did not return")
	}
}

func TestController_ObserveWithoutLoopIsDropped(t *testing.T) {
	sc, b := newScripted(common.ProbeHealthy)
	c := NewController(b, hourly(), nil, nil)
	ctx := context.Background()

	returnsWithin(t, 2*time.Second, func() {
		c.Observe(ctx, common.ProbeResult{Status: common.ProbeHealthy})
		c.ProbeNow(ctx)
	})
	assert.Equal(t, common.ModeRulesOnly, c.Mode(), "not started")

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, common.ModeFull, c.Mode())
	c.Stop()

	sc.status.Store(common.ProbeUnreachable)
	returnsWithin(t, 2*time.Second, func() { c.ProbeNow(ctx) })
	assert.Equal(t, common.ModeFull, c.Mode(), "stopped controller keeps its last snapshot")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ProbeInterval: 5 * time.Second}.withDefaults()
	assert.Equal(t, "@every 5s", cfg.Schedule)
	assert.Equal(t, 3, cfg.FailureThreshold)
}

//Personal.AI order the ending
