/*
 * engine.go 规则匹配引擎：在有界协程池上并行执行模式库中的每条模式，产出候选匹配。
 * 单条模式的运行期故障（panic、匹配数超限）只跳过该模式并记录 MatchFault，不影响整篇文档。
 */

// Package matcher applies a pattern library to document text and produces
// raw, possibly overlapping candidates.
package matcher

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
)

// Defaults.
const (
	DefaultMaxMatchesPerPattern = 10000
)

// Config tunes the engine.
type Config struct {
	// Workers bounds concurrent pattern evaluation. <= 0 means GOMAXPROCS.
	Workers int `mapstructure:"workers" json:"workers"`
	// MaxMatchesPerPattern faults a pattern that matches more often than this
	// in one document.
	MaxMatchesPerPattern int `mapstructure:"max_matches_per_pattern" json:"max_matches_per_pattern"`
}

// AttributeHook post-processes a candidate's attributes. A returned error
// faults the whole pattern for the current document.
type AttributeHook func(def *patterns.Definition, c *common.Candidate) error

// Engine runs pattern matching. It holds no per-document state and may be
// shared.
type Engine struct {
	cfg     Config
	logger  logging.Logger
	metrics common.ExtractionMetrics
	hook    AttributeHook
}

// Option customises an Engine.
type Option func(*Engine)

// WithAttributeHook replaces the default attribute canonicalisation.
func WithAttributeHook(h AttributeHook) Option {
	return func(e *Engine) { e.hook = h }
}

// NewEngine creates an engine.
func NewEngine(cfg Config, logger logging.Logger, metrics common.ExtractionMetrics, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxMatchesPerPattern <= 0 {
		cfg.MaxMatchesPerPattern = DefaultMaxMatchesPerPattern
	}
	if metrics == nil {
		metrics = common.NewNoopExtractionMetrics()
	}
	e := &Engine{
		cfg:     cfg,
		logger:  logging.OrNop(logger).Named("matcher"),
		metrics: metrics,
		hook:    canonicalAttributes,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Match applies every selected pattern to text. Patterns tagged for another
// jurisdiction than hint are skipped; general patterns always run. A faulty
// pattern contributes no candidates and one MatchFault. The result is sorted
// by (start, end, priority) independent of scheduling.
func (e *Engine) Match(ctx context.Context, text string, lib *patterns.Library, hint string) ([]common.Candidate, []common.MatchFault) {
	start := time.Now()
	defs := lib.Select(hint)
	if len(defs) == 0 || text == "" {
		return nil, nil
	}

	type slot struct {
		cands []common.Candidate
		fault *common.MatchFault
	}
	results := make([]slot, len(defs))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for i, def := range defs {
		i, def := i, def
		if ctx.Err() != nil {
			results[i].fault = &common.MatchFault{PatternID: def.ID, Reason: "cancelled before evaluation"}
			continue
		}
		g.Go(func() error {
			cands, fault := e.matchOne(def, text)
			results[i] = slot{cands: cands, fault: fault}
			return nil
		})
	}
	_ = g.Wait()

	var (
		out    []common.Candidate
		faults []common.MatchFault
	)
	for _, r := range results {
		if r.fault != nil {
			faults = append(faults, *r.fault)
			e.metrics.RecordMatchFault(ctx, r.fault.PatternID)
			e.logger.Warn("pattern skipped", logging.PatternID(r.fault.PatternID), logging.String("reason", r.fault.Reason))
			continue
		}
		out = append(out, r.cands...)
	}
	SortCandidates(out)

	e.metrics.RecordMatch(ctx, hint, len(out), float64(time.Since(start).Microseconds())/1000.0)
	return out, faults
}

// matchOne evaluates a single pattern, converting panics into faults.
func (e *Engine) matchOne(def *patterns.Definition, text string) (cands []common.Candidate, fault *common.MatchFault) {
	defer func() {
		if r := recover(); r != nil {
			cands = nil
			fault = &common.MatchFault{PatternID: def.ID, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	limit := e.cfg.MaxMatchesPerPattern
	locs := def.Regexp().FindAllStringSubmatchIndex(text, limit+1)
	if len(locs) > limit {
		return nil, &common.MatchFault{PatternID: def.ID, Reason: fmt.Sprintf("match cap %d exceeded", limit)}
	}

	cands = make([]common.Candidate, 0, len(locs))
	for _, loc := range locs {
		if loc[0] == loc[1] {
			continue
		}
		c := common.Candidate{
			PatternID:    def.ID,
			Text:         text[loc[0]:loc[1]],
			Span:         common.Span{Start: loc[0], End: loc[1]},
			EntityType:   def.EntityType,
			Subtype:      def.Subtype,
			Confidence:   def.Confidence,
			Priority:     def.Priority,
			Jurisdiction: def.Jurisdiction,
		}
		for _, name := range def.AttributeNames() {
			idx, _ := def.AttributeIndex(name)
			s, end := loc[2*idx], loc[2*idx+1]
			if s < 0 {
				continue
			}
			if c.Attributes == nil {
				c.Attributes = make(map[string]string, len(def.Attributes))
			}
			c.Attributes[name] = text[s:end]
		}
		if e.hook != nil {
			if err := e.hook(def, &c); err != nil {
				return nil, &common.MatchFault{PatternID: def.ID, Reason: "attribute extraction: " + err.Error()}
			}
		}
		cands = append(cands, c)
	}
	return cands, nil
}

func canonicalAttributes(_ *patterns.Definition, c *common.Candidate) error {
	for k, v := range c.Attributes {
		if cv := common.Canonicalize(v); cv != "" {
			c.Attributes[k] = cv
		} else {
			delete(c.Attributes, k)
		}
	}
	return nil
}

// SortCandidates orders candidates by start, end, priority and pattern id.
func SortCandidates(cs []common.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.PatternID < b.PatternID
	})
}

//Personal.AI order the ending
