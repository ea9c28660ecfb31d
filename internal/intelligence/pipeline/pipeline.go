/*
 * pipeline.go 抽取流水线入口：匹配 → 消歧 → 打分 → 增强编排 → 关系构建 → 置信度阈值过滤。
 * 仅输入校验失败（空文本、超长文本）会以错误形式返回；其余失败均被吸收并记录在结果注解中。
 */

// Package pipeline wires the rule layer and the enhancement layer into the
// single Extract entry point.
package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/matcher"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/orchestrator"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/reconcile"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/relations"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/scoring"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// ErrInvalidInput rejects a document before matching starts.
var ErrInvalidInput = errors.New(errors.ErrCodeInvalidInput, "invalid input")

// Defaults.
const (
	DefaultMaxTextBytes   = 1 << 20
	DefaultMatchingBudget = 2 * time.Second
)

// Config assembles the per-component settings.
type Config struct {
	MaxTextBytes   int                 `mapstructure:"max_text_bytes" json:"max_text_bytes"`
	MatchingBudget time.Duration       `mapstructure:"matching_budget" json:"matching_budget"`
	Matcher        matcher.Config      `mapstructure:"matcher" json:"matcher"`
	Scoring        scoring.Config      `mapstructure:"scoring" json:"scoring"`
	Relations      relations.Config    `mapstructure:"relations" json:"relations"`
	Orchestrator   orchestrator.Config `mapstructure:"orchestrator" json:"orchestrator"`
}

// NewConfig returns the defaults.
func NewConfig() Config {
	return Config{
		MaxTextBytes:   DefaultMaxTextBytes,
		MatchingBudget: DefaultMatchingBudget,
		Orchestrator:   orchestrator.NewConfig(),
	}
}

// Options are per-request settings.
type Options struct {
	// ConfidenceThreshold drops entities scoring below it. Zero keeps all.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	// JurisdictionHint restricts matching to one jurisdiction plus general
	// patterns.
	JurisdictionHint string `json:"jurisdiction_hint,omitempty"`
	// EnabledStages limits the enhancement stages. Empty means all configured.
	EnabledStages []common.Stage `json:"enabled_stages,omitempty"`
	// Deadline overrides the document deadline (sum of stage timeouts plus
	// the matching budget).
	Deadline time.Duration `json:"deadline,omitempty"`
}

// ExtractionResult is the output of one Extract call.
type ExtractionResult struct {
	RequestID        string                `json:"request_id"`
	Entities         []common.Entity       `json:"entities"`
	Relationships    []common.Relationship `json:"relationships"`
	Mode             common.Mode           `json:"mode"`
	ProcessingTimeMs float64               `json:"processing_time_ms"`
	Partial          bool                  `json:"partial"`
	Annotations      []string              `json:"annotations,omitempty"`
	MatchFaults      []common.MatchFault   `json:"match_faults,omitempty"`
	PatternCount     int                   `json:"pattern_count"`
}

// LibrarySource yields the current pattern library. *patterns.Holder
// implements it.
type LibrarySource interface {
	Library() *patterns.Library
}

// Pipeline is safe for concurrent use; documents are independent.
type Pipeline struct {
	cfg       Config
	library   LibrarySource
	engine    *matcher.Engine
	scorer    *scoring.Scorer
	orch      *orchestrator.Orchestrator
	relations *relations.Builder
	logger    logging.Logger
	metrics   common.ExtractionMetrics

	matcherOpts []matcher.Option

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m common.ExtractionMetrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithScorer replaces the standard scorer.
func WithScorer(s *scoring.Scorer) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.scorer = s
		}
	}
}

// WithMatcherOptions passes options to the matching engine.
func WithMatcherOptions(opts ...matcher.Option) Option {
	return func(p *Pipeline) { p.matcherOpts = append(p.matcherOpts, opts...) }
}

// New builds a pipeline. A nil orchestrator runs every document rules-only.
func New(lib LibrarySource, orch *orchestrator.Orchestrator, cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = DefaultMaxTextBytes
	}
	if cfg.MatchingBudget <= 0 {
		cfg.MatchingBudget = DefaultMatchingBudget
	}
	if orch == nil {
		orch = orchestrator.New(nil, nil, cfg.Orchestrator)
	}
	p := &Pipeline{
		cfg:     cfg,
		library: lib,
		orch:    orch,
		metrics: common.NewNoopExtractionMetrics(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = logging.OrNop(p.logger).Named("pipeline")
	p.engine = matcher.NewEngine(cfg.Matcher, p.logger, p.metrics, p.matcherOpts...)
	if p.scorer == nil {
		p.scorer = scoring.NewScorer(cfg.Scoring)
	}
	p.relations = relations.NewBuilder(cfg.Relations, p.logger)
	return p
}

// Mode reports the mode a document starting now would run in.
func (p *Pipeline) Mode() common.Mode { return p.orch.CurrentMode() }

// Library returns the library currently in use.
func (p *Pipeline) Library() *patterns.Library {
	if p.library == nil {
		return nil
	}
	return p.library.Library()
}

func (p *Pipeline) newRequestID() string {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	return ulid.MustNew(ulid.Now(), p.entropy).String()
}

// Validate checks text and opts without running anything.
func (p *Pipeline) Validate(text string, opts Options) error {
	switch {
	case strings.TrimSpace(text) == "":
		return ErrInvalidInput.WithDetail("text is empty")
	case len(text) > p.cfg.MaxTextBytes:
		return ErrInvalidInput.WithDetail(fmt.Sprintf("text is %d bytes; limit is %d", len(text), p.cfg.MaxTextBytes))
	case !utf8.ValidString(text):
		return ErrInvalidInput.WithDetail("text is not valid UTF-8")
	case opts.ConfidenceThreshold < 0 || opts.ConfidenceThreshold > 1:
		return ErrInvalidInput.WithDetail("confidence_threshold must be within [0,1]")
	case opts.Deadline < 0:
		return ErrInvalidInput.WithDetail("deadline must not be negative")
	}
	for _, s := range opts.EnabledStages {
		if _, ok := common.ParseStage(string(s)); !ok {
			return ErrInvalidInput.WithDetail("unknown stage " + string(s))
		}
	}
	return nil
}

// canonicalStages rewrites validated stage names into their canonical form.
func canonicalStages(in []common.Stage) []common.Stage {
	if len(in) == 0 {
		return nil
	}
	out := make([]common.Stage, 0, len(in))
	for _, s := range in {
		if st, ok := common.ParseStage(string(s)); ok {
			out = append(out, st)
		}
	}
	return out
}

// Extract runs the full pipeline over text. The only error is input
// rejection; everything else degrades into annotations and the partial flag.
func (p *Pipeline) Extract(ctx context.Context, text string, opts Options) (*ExtractionResult, error) {
	if err := p.Validate(text, opts); err != nil {
		return nil, err
	}
	opts.EnabledStages = canonicalStages(opts.EnabledStages)
	start := time.Now()
	res := &ExtractionResult{RequestID: p.newRequestID()}
	log := p.logger.With(logging.RequestID(res.RequestID))

	deadline := opts.Deadline
	if deadline == 0 {
		deadline = p.orch.Config().TotalTimeout(p.orch.EnabledStages(opts.EnabledStages)) + p.cfg.MatchingBudget
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	lib := p.Library()
	res.PatternCount = lib.Len()
	cands, faults := p.engine.Match(ctx, text, lib, opts.JurisdictionHint)
	res.MatchFaults = faults
	entities := p.scorer.ScoreAll(reconcile.Reconcile(cands))
	if ctx.Err() != nil {
		res.Partial = true
	}

	enhanced := p.orch.Enhance(ctx, entities, text, opts.EnabledStages)
	res.Mode = enhanced.Mode
	res.Partial = res.Partial || enhanced.Partial
	res.Annotations = enhanced.Annotations

	heuristics := enhanced.RelationshipStatus != orchestrator.RelationshipsFromModel || len(enhanced.Relationships) == 0
	rels := p.relations.Build(enhanced.Entities, text, enhanced.Relationships, heuristics)

	res.Entities = filterByConfidence(enhanced.Entities, opts.ConfidenceThreshold)
	res.Relationships = relations.Finalize(rels, res.Entities)
	if res.Entities == nil {
		res.Entities = []common.Entity{}
	}
	if res.Relationships == nil {
		res.Relationships = []common.Relationship{}
	}

	took := time.Since(start)
	res.ProcessingTimeMs = float64(took.Microseconds()) / 1000.0
	p.metrics.RecordDocument(ctx, &common.DocumentMetricParams{
		Mode:          res.Mode,
		Entities:      len(res.Entities),
		Relationships: len(res.Relationships),
		Partial:       res.Partial,
		DurationMs:    res.ProcessingTimeMs,
	})
	log.Info("extraction complete",
		logging.Mode(string(res.Mode)),
		logging.Int("bytes", len(text)),
		logging.Int("candidates", len(cands)),
		logging.Int("entities", len(res.Entities)),
		logging.Int("relationships", len(res.Relationships)),
		logging.Int("match_faults", len(faults)),
		logging.Bool("partial", res.Partial),
		logging.Duration("took", took))
	return res, nil
}

// filterByConfidence keeps entities at or above min. A nested entity whose
// container is gone loses its container reference.
func filterByConfidence(es []common.Entity, min float64) []common.Entity {
	kept := make(map[string]bool, len(es))
	out := make([]common.Entity, 0, len(es))
	for _, e := range es {
		if e.Confidence >= min {
			out = append(out, e)
			kept[e.ID] = true
		}
	}
	for i := range out {
		if out[i].Nested && !kept[out[i].ContainerID] {
			out[i].Nested = false
			out[i].ContainerID = ""
		}
	}
	return out
}

//Personal.AI order the ending
