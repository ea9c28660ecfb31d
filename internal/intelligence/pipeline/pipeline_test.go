package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/orchestrator"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

const brown = "Brown v. Board of Education, 347 U.S. 483 (1954)"

const opinion = `In Brown v. Board of Education, 347 U.S. 483 (1954), the Supreme Court held that ` +
	`segregated schools violate the Equal Protection Clause. Chief Justice Warren delivered the opinion of the Court. ` +
	`Plaintiffs sought relief under 42 U.S.C. § 1983 and damages of $1,250,000.00 on May 17, 1954.`

func caseLibrary(t *testing.T) *patterns.Library {
	t.Helper()
	d, err := patterns.NewDefinition("us.case.official_reporter", common.EntityCaseCitation,
		`(?P<case_name>[A-Z][A-Za-z.']* v\. [A-Z][A-Za-z.' ]*?), (?P<volume>\d{1,4}) (?P<reporter>U\.S\.) (?P<page>\d{1,5}) \((?P<year>\d{4})\)`,
		0.98,
		patterns.WithJurisdiction("us"),
		patterns.WithAttributes(map[string]string{
			"case_name": "case_name", "volume": "volume", "reporter": "reporter", "page": "page", "year": "year",
		}))
	require.NoError(t, err)
	return patterns.NewLibrary(d)
}

func shippedLibrary(t *testing.T) *patterns.Library {
	t.Helper()
	srcs, err := patterns.FromDir("../../../configs/patterns")
	require.NoError(t, err)
	lib, errs := patterns.Load(srcs)
	require.Empty(t, errs)
	return lib
}

func TestExtract_BrownRulesOnly(t *testing.T) {
	p := New(patterns.NewHolder(caseLibrary(t)), nil, NewConfig())

	res, err := p.Extract(context.Background(), brown, Options{})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)

	e := res.Entities[0]
	assert.Equal(t, common.EntityCaseCitation, e.Type)
	assert.Equal(t, common.Span{Start: 0, End: len(brown)}, e.Span)
	assert.Equal(t, 0.98, e.Confidence)
	assert.Equal(t, common.ProvenanceRuleOnly, e.Provenance)
	assert.Equal(t, brown, e.OriginalText)
	assert.Equal(t, "347", e.Attributes["volume"])

	assert.Equal(t, common.ModeRulesOnly, res.Mode)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Annotations)
	assert.Empty(t, res.Relationships)
	assert.Len(t, res.RequestID, 26)
	assert.Equal(t, 1, res.PatternCount)
}

func TestExtract_GracefulDegradation(t *testing.T) {
	lib := patterns.NewHolder(shippedLibrary(t))
	rulesOnly, err := New(lib, nil, NewConfig()).Extract(context.Background(), opinion, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, rulesOnly.Entities)

	calls := 0
	down := &common.MockBackend{
		RunStageFunc: func(context.Context, *common.StageRequest) (*common.StageResponse, error) {
			calls++
			return nil, common.ErrBackendUnavailable
		},
		ProbeFunc: func(context.Context) common.ProbeResult {
			return common.ProbeResult{Status: common.ProbeUnreachable}
		},
	}
	ctrl := mode.NewController(down, mode.Config{Schedule: "@every 1h"}, nil, nil)
	require.NoError(t, ctrl.Start(context.Background()))
	defer ctrl.Stop()

	orch := orchestrator.New(down, ctrl, orchestrator.NewConfig(), orchestrator.WithGate(ctrl.Breaker()))
	start := time.Now()
	res, err := New(lib, orch, NewConfig()).Extract(context.Background(), opinion, Options{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, calls)
	assert.Equal(t, common.ModeRulesOnly, res.Mode)
	assert.Equal(t, rulesOnly.Entities, res.Entities)
	assert.Equal(t, rulesOnly.Relationships, res.Relationships)
}

func TestExtract_ValidationTimeout(t *testing.T) {
	b := &common.MockBackend{RunStageFunc: func(ctx context.Context, req *common.StageRequest) (*common.StageResponse, error) {
		if req.Stage == common.StageValidation {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &common.StageResponse{}, nil
	}}
	ctrl := mode.NewController(b, mode.Config{Schedule: "@every 1h"}, nil, nil)
	require.NoError(t, ctrl.Start(context.Background()))
	defer ctrl.Stop()
	require.Equal(t, common.ModeFull, ctrl.Mode())

	cfg := NewConfig()
	cfg.Orchestrator.StageTimeouts[common.StageValidation] = 30 * time.Millisecond
	orch := orchestrator.New(b, ctrl, cfg.Orchestrator, orchestrator.WithGate(ctrl.Breaker()))
	lib := patterns.NewHolder(caseLibrary(t))

	rulesOnly, err := New(lib, nil, cfg).Extract(context.Background(), brown, Options{})
	require.NoError(t, err)
	res, err := New(lib, orch, cfg).Extract(context.Background(), brown, Options{})
	require.NoError(t, err)

	assert.Equal(t, rulesOnly.Entities, res.Entities)
	assert.Equal(t, []string{"stage_skipped: validation/timeout"}, res.Annotations)
	assert.Equal(t, common.ModeFull, res.Mode)
	assert.False(t, res.Partial)
	assert.Equal(t, common.ModeFull, ctrl.Mode(), "one failure stays under the breaker threshold")
	assert.Equal(t, common.BreakerClosed, ctrl.Breaker().State())
}

func TestExtract_StageNamesAreCaseInsensitive(t *testing.T) {
	var called []common.Stage
	b := &common.MockBackend{RunStageFunc: func(_ context.Context, req *common.StageRequest) (*common.StageResponse, error) {
		called = append(called, req.Stage)
		return &common.StageResponse{}, nil
	}}
	ctrl := mode.NewController(b, mode.Config{Schedule: "@every 1h"}, nil, nil)
	require.NoError(t, ctrl.Start(context.Background()))
	defer ctrl.Stop()
	require.Equal(t, common.ModeFull, ctrl.Mode())

	cfg := NewConfig()
	orch := orchestrator.New(b, ctrl, cfg.Orchestrator, orchestrator.WithGate(ctrl.Breaker()))
	p := New(patterns.NewHolder(caseLibrary(t)), orch, cfg)

	opts := Options{EnabledStages: []common.Stage{"Validation", " ENHANCEMENT "}}
	require.NoError(t, p.Validate(brown, opts))
	res, err := p.Extract(context.Background(), brown, opts)
	require.NoError(t, err)
	assert.Equal(t, []common.Stage{common.StageValidation, common.StageEnhancement}, called)
	assert.Empty(t, res.Annotations)
	assert.Equal(t, common.Stage("Validation"), opts.EnabledStages[0], "caller options untouched")
}

func TestExtract_HeuristicRelationships(t *testing.T) {
	p := New(patterns.NewHolder(shippedLibrary(t)), nil, NewConfig())
	res, err := p.Extract(context.Background(), opinion, Options{JurisdictionHint: "us"})
	require.NoError(t, err)

	ids := map[string]common.Entity{}
	for _, e := range res.Entities {
		ids[e.ID] = e
	}
	var decided bool
	for _, r := range res.Relationships {
		require.Contains(t, ids, r.SourceID)
		require.Contains(t, ids, r.TargetID)
		assert.Equal(t, common.OriginHeuristic, r.Origin)
		if r.Type == common.RelDecidedBy {
			decided = true
			assert.Equal(t, common.EntityCaseCitation, ids[r.SourceID].Type)
			assert.Equal(t, common.EntityJudge, ids[r.TargetID].Type)
		}
	}
	assert.True(t, decided)
}

func TestExtract_ConfidenceThreshold(t *testing.T) {
	p := New(patterns.NewHolder(shippedLibrary(t)), nil, NewConfig())
	all, err := p.Extract(context.Background(), opinion, Options{})
	require.NoError(t, err)
	high, err := p.Extract(context.Background(), opinion, Options{ConfidenceThreshold: 0.95})
	require.NoError(t, err)

	assert.Less(t, len(high.Entities), len(all.Entities))
	kept := map[string]bool{}
	for _, e := range high.Entities {
		assert.GreaterOrEqual(t, e.Confidence, 0.95)
		kept[e.ID] = true
		if e.Nested {
			assert.True(t, kept[e.ContainerID] || containsID(high.Entities, e.ContainerID))
		}
	}
	for _, r := range high.Relationships {
		assert.True(t, kept[r.SourceID] && kept[r.TargetID])
	}
}

func containsID(es []common.Entity, id string) bool {
	for _, e := range es {
		if e.ID == id {
			return true
		}
	}
	return false
}

func TestExtract_DeadlineYieldsPartial(t *testing.T) {
	p := New(patterns.NewHolder(shippedLibrary(t)), nil, NewConfig())
	res, err := p.Extract(context.Background(), opinion, Options{Deadline: time.Nanosecond})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.NotNil(t, res.Entities)
}

func TestExtract_InvalidInput(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxTextBytes = 64
	p := New(patterns.NewHolder(caseLibrary(t)), nil, cfg)

	cases := map[string]struct {
		text string
		opts Options
	}{
		"empty":       {"", Options{}},
		"blank":       {" \n\t ", Options{}},
		"oversized":   {strings.Repeat("a", 65), Options{}},
		"bad utf8":    {"\xff\xfe", Options{}},
		"threshold":   {brown, Options{ConfidenceThreshold: 1.5}},
		"stage":       {brown, Options{EnabledStages: []common.Stage{"summarise"}}},
		"neg deadline": {brown, Options{Deadline: -time.Second}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := p.Extract(context.Background(), tc.text, tc.opts)
			assert.Nil(t, res)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput), "%v", err)
		})
	}
}

func TestExtract_RequestIDsUnique(t *testing.T) {
	p := New(patterns.NewHolder(caseLibrary(t)), nil, NewConfig())
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		res, err := p.Extract(context.Background(), brown, Options{})
		require.NoError(t, err)
		assert.False(t, seen[res.RequestID])
		seen[res.RequestID] = true
	}
}

//Personal.AI order the ending
