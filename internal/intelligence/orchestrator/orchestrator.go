/*
 * orchestrator.go 增强编排器：按固定顺序（校验 → 增强 → 关系发现 → 引文规范化 → 纠错）调用推理后端。
 * 任一阶段超时或后端异常时跳过该阶段、原样传递实体集并记录 stage_skipped 注解；规则层结果始终可用。
 */

// Package orchestrator runs the model-backed enhancement stages over a
// reconciled, scored entity set.
package orchestrator

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// ModeReader exposes the current capability level. Implementations must be
// cheap and safe for concurrent use.
type ModeReader interface {
	Mode() common.Mode
}

// StageGate is consulted before and informed after every backend stage.
// *common.CircuitBreaker satisfies it.
type StageGate interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// StaticMode is a ModeReader that always reports m.
type StaticMode common.Mode

// Mode implements ModeReader.
func (m StaticMode) Mode() common.Mode { return common.Mode(m) }

type openGate struct{}

func (openGate) Allow() bool    { return true }
func (openGate) RecordSuccess() {}
func (openGate) RecordFailure() {}

// RelationshipStatus tells the relationship builder what discovery produced.
type RelationshipStatus string

const (
	// RelationshipsFromModel: the discovery stage succeeded.
	RelationshipsFromModel RelationshipStatus = "model"
	// RelationshipsSkipped: the stage ran and failed.
	RelationshipsSkipped RelationshipStatus = "skipped"
	// RelationshipsNotRun: the stage was disabled, short-circuited or had
	// nothing to relate.
	RelationshipsNotRun RelationshipStatus = "not_run"
)

// StageOutput is the result of a single stage.
type StageOutput struct {
	Entities      []common.Entity
	Relationships []common.Relationship
	Annotations   []string
}

// Result is the outcome of the full stage sequence for one document.
type Result struct {
	Entities           []common.Entity
	Relationships      []common.Relationship
	Annotations        []string
	Mode               common.Mode
	StagesRun          []common.Stage
	RelationshipStatus RelationshipStatus
	// Partial is set when the document context expired before every enabled
	// stage had a chance to run.
	Partial bool
}

// Orchestrator sequences the enhancement stages. It keeps no per-document
// state and is safe for concurrent use.
type Orchestrator struct {
	backend common.ModelBackend
	mode    ModeReader
	gate    StageGate
	cfg     Config
	logger  logging.Logger
	metrics common.ExtractionMetrics
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithGate sets the circuit breaker consulted around stage calls.
func WithGate(g StageGate) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.gate = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m common.ExtractionMetrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New creates an orchestrator. A nil backend or mode reader means every
// document is handled rules-only.
func New(backend common.ModelBackend, mode ModeReader, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		mode:    mode,
		gate:    openGate{},
		cfg:     cfg.withDefaults(),
		metrics: common.NewNoopExtractionMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.logger).Named("orchestrator")
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// CurrentMode returns the mode a document starting now would run in.
func (o *Orchestrator) CurrentMode() common.Mode {
	if o.backend == nil || o.mode == nil {
		return common.ModeRulesOnly
	}
	return o.mode.Mode()
}

// EnabledStages resolves a per-request stage subset against the configured
// set, keeping the fixed execution order.
func (o *Orchestrator) EnabledStages(requested []common.Stage) []common.Stage {
	allowed := make(map[common.Stage]bool)
	if len(o.cfg.EnabledStages) == 0 {
		for _, s := range common.AllStages() {
			allowed[s] = true
		}
	} else {
		for _, s := range o.cfg.EnabledStages {
			allowed[s] = true
		}
	}
	if len(requested) > 0 {
		want := make(map[common.Stage]bool, len(requested))
		for _, s := range requested {
			want[s] = true
		}
		for s := range allowed {
			allowed[s] = want[s]
		}
	}
	var out []common.Stage
	for _, s := range common.AllStages() {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// Enhance runs the enabled stages in order. The input is never modified.
// In RulesOnly mode nothing runs and the entities come back unchanged with
// rule_only provenance. In Degraded mode all entities carry degraded
// provenance once any stage ran. Stage failures are absorbed into annotations.
func (o *Orchestrator) Enhance(ctx context.Context, entities []common.Entity, text string, stages []common.Stage) *Result {
	mode := o.CurrentMode()
	res := &Result{
		Entities:           common.CloneEntities(entities),
		Mode:               mode,
		RelationshipStatus: RelationshipsNotRun,
	}
	if mode == common.ModeRulesOnly {
		for i := range res.Entities {
			res.Entities[i].Provenance = common.ProvenanceRuleOnly
		}
		return res
	}

	current := res.Entities
	for _, stage := range o.EnabledStages(stages) {
		if err := ctx.Err(); err != nil {
			res.Partial = true
			res.Annotations = append(res.Annotations, common.StageSkipped(stage, parentReason(err)))
			if stage == common.StageRelationshipDiscovery {
				res.RelationshipStatus = RelationshipsSkipped
			}
			continue
		}

		out, ran, err := o.run(ctx, stage, mode, current, text, o.cfg.StageTimeout(stage))
		res.Annotations = append(res.Annotations, out.Annotations...)
		if err != nil {
			if ctx.Err() != nil {
				res.Partial = true
			}
			if stage == common.StageRelationshipDiscovery {
				res.RelationshipStatus = RelationshipsSkipped
			}
			continue
		}
		current = out.Entities
		if !ran {
			continue
		}
		res.StagesRun = append(res.StagesRun, stage)
		if stage == common.StageRelationshipDiscovery {
			res.Relationships = out.Relationships
			res.RelationshipStatus = RelationshipsFromModel
		}
	}
	res.Entities = current
	if mode == common.ModeDegraded && len(res.StagesRun) > 0 {
		markDegraded(res.Entities)
	}
	return res
}

// Run executes a single stage under the current mode. On failure the input
// entities pass through unchanged with a stage_skipped annotation and the
// returned error is a *common.StageError.
func (o *Orchestrator) Run(ctx context.Context, stage common.Stage, entities []common.Entity, text string, timeout time.Duration) (*StageOutput, error) {
	mode := o.CurrentMode()
	if mode == common.ModeRulesOnly {
		return o.skip(ctx, stage, entities, time.Now(), common.ReasonUnavailable, common.ErrBackendUnavailable)
	}
	out, ran, err := o.run(ctx, stage, mode, entities, text, timeout)
	if err == nil && ran && mode == common.ModeDegraded {
		markDegraded(out.Entities)
	}
	return out, err
}

// markDegraded flags every output of a document that went through a stage in
// Degraded mode, including entities the backend left alone.
func markDegraded(es []common.Entity) {
	for i := range es {
		es[i].Provenance = common.ProvenanceDegraded
	}
}

// run performs one stage. ran is false when the stage had nothing to do and
// made no backend call.
func (o *Orchestrator) run(ctx context.Context, stage common.Stage, mode common.Mode, in []common.Entity, text string, timeout time.Duration) (*StageOutput, bool, error) {
	start := time.Now()
	if o.backend == nil {
		out, err := o.skip(ctx, stage, in, start, common.ReasonUnavailable, common.ErrBackendUnavailable)
		return out, false, err
	}

	eligible := eligibleFor(stage, in)
	if !hasWork(stage, eligible) {
		return &StageOutput{Entities: common.CloneEntities(in)}, false, nil
	}
	if !o.gate.Allow() {
		out, err := o.skip(ctx, stage, in, start, common.ReasonCircuitOpen,
			common.ErrBackendUnavailable.WithDetail("circuit open"))
		return out, false, err
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var merged common.StageResponse
	for _, batch := range batches(eligible, o.cfg.MaxEntitiesPerRequest) {
		req := &common.StageRequest{
			Stage:        stage,
			Entities:     common.CloneEntities(batch),
			DocumentText: text,
			TimeoutMs:    remainingMs(stageCtx),
		}
		resp, err := o.backend.RunStage(stageCtx, req)
		if err == nil {
			err = resp.Validate(len(text))
		}
		if err != nil {
			return o.fail(ctx, stageCtx, stage, in, start, err)
		}
		merged.Entities = append(merged.Entities, resp.Entities...)
		merged.Relationships = append(merged.Relationships, resp.Relationships...)
		merged.Annotations = append(merged.Annotations, resp.Annotations...)
	}
	o.gate.RecordSuccess()

	out := o.apply(stage, mode, in, &merged, text)
	if n := guardMonotonic(stage, in, out.Entities); n > 0 {
		o.logger.Warn("reverted unannotated confidence drops",
			logging.Stage(string(stage)), logging.Int("entities", n))
	}

	o.metrics.RecordStage(ctx, stage, common.StageOutcomeSuccess, len(eligible), msSince(start))
	o.logger.Debug("stage complete",
		logging.Stage(string(stage)),
		logging.Int("in", len(in)),
		logging.Int("out", len(out.Entities)),
		logging.Int("relationships", len(out.Relationships)),
		logging.Duration("took", time.Since(start)))
	return out, true, nil
}

// fail classifies a backend failure. Failures caused by the document context
// expiring are not held against the backend.
func (o *Orchestrator) fail(ctx, stageCtx context.Context, stage common.Stage, in []common.Entity, start time.Time, err error) (*StageOutput, bool, error) {
	if perr := ctx.Err(); perr != nil {
		out, serr := o.skip(ctx, stage, in, start, parentReason(perr), common.ErrDeadlineExceeded.WithCause(err))
		return out, false, serr
	}
	reason := common.ClassifyStageError(err)
	if stageCtx.Err() != nil && stderrors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		reason = common.ReasonTimeout
		err = common.ErrStageTimeout.WithCause(err)
	}
	if reason != common.ReasonCancelled {
		o.gate.RecordFailure()
	}
	out, serr := o.skip(ctx, stage, in, start, reason, err)
	return out, false, serr
}

func (o *Orchestrator) skip(ctx context.Context, stage common.Stage, in []common.Entity, start time.Time, reason string, cause error) (*StageOutput, error) {
	o.metrics.RecordStage(ctx, stage, common.StageOutcomeSkipped, len(in), msSince(start))
	o.logger.Warn("stage skipped",
		logging.Stage(string(stage)),
		logging.String("reason", reason),
		logging.Err(cause))
	return &StageOutput{
		Entities:    common.CloneEntities(in),
		Annotations: []string{common.StageSkipped(stage, reason)},
	}, &common.StageError{Stage: stage, Reason: reason, Err: cause}
}

func parentReason(err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return common.ReasonDeadline
	}
	return common.ReasonCancelled
}

// eligibleFor returns the entities a stage sends to the backend.
func eligibleFor(stage common.Stage, in []common.Entity) []common.Entity {
	if stage != common.StageCitationRefinement {
		return in
	}
	var out []common.Entity
	for _, e := range in {
		if e.Type.IsCitation() {
			out = append(out, e)
		}
	}
	return out
}

func hasWork(stage common.Stage, eligible []common.Entity) bool {
	switch stage {
	case common.StageErrorCorrection:
		return true
	case common.StageRelationshipDiscovery:
		return len(eligible) >= 2
	default:
		return len(eligible) > 0
	}
}

// batches splits entities into sequential sub-batches of at most max. An
// empty input yields a single empty batch.
func batches(entities []common.Entity, max int) [][]common.Entity {
	if len(entities) == 0 {
		return [][]common.Entity{nil}
	}
	if max <= 0 {
		max = len(entities)
	}
	var out [][]common.Entity
	for start := 0; start < len(entities); start += max {
		end := start + max
		if end > len(entities) {
			end = len(entities)
		}
		out = append(out, entities[start:end])
	}
	return out
}

// guardMonotonic reverts confidence drops that the stage did not annotate as
// demotions. It returns the number of reverted entities.
func guardMonotonic(stage common.Stage, before, after []common.Entity) int {
	prev := make(map[string]*common.Entity, len(before))
	for i := range before {
		prev[before[i].ID] = &before[i]
	}
	reverted := 0
	for i := range after {
		p, ok := prev[after[i].ID]
		if !ok || after[i].Confidence >= p.Confidence {
			continue
		}
		if demotedDuring(stage, p.Annotations, after[i].Annotations) {
			continue
		}
		after[i].Confidence = p.Confidence
		reverted++
	}
	return reverted
}

func demotedDuring(stage common.Stage, before, after []string) bool {
	if len(after) <= len(before) {
		return false
	}
	prefix := common.Demoted(stage, "")
	for _, a := range after[len(before):] {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func remainingMs(ctx context.Context) int64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	ms := time.Until(deadline).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

//Personal.AI order the ending
