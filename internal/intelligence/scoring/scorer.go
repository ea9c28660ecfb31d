// Package scoring applies deterministic structural validators to reconciled
// entities. Validators only ever lower confidence; the scorer performs no I/O
// and never consults the inference backend.
package scoring

import (
	"math"
	"strings"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// AnnotationPrefix marks confidence reductions applied by the scorer.
const AnnotationPrefix = "score_cap: "

// Verdict is what a validator decides for one entity. Cap < 0 means no cap.
type Verdict struct {
	Cap     float64
	Penalty float64
}

var pass = Verdict{Cap: -1}

// CapAt caps confidence at c.
func CapAt(c float64) Verdict { return Verdict{Cap: c} }

// Penalize subtracts p from confidence.
func Penalize(p float64) Verdict { return Verdict{Cap: -1, Penalty: p} }

// Validator inspects one entity.
type Validator interface {
	Name() string
	Validate(e *common.Entity) Verdict
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc struct {
	ValidatorName string
	Fn            func(e *common.Entity) Verdict
}

func (v ValidatorFunc) Name() string                         { return v.ValidatorName }
func (v ValidatorFunc) Validate(e *common.Entity) Verdict { return v.Fn(e) }

// Scorer holds validators per entity type plus validators for every type.
// It is immutable after construction and safe for concurrent use.
type Scorer struct {
	global []Validator
	byType map[common.EntityType][]Validator
}

// NewScorer builds a scorer with the standard validators configured by cfg.
func NewScorer(cfg Config) *Scorer {
	cfg = cfg.withDefaults()
	s := &Scorer{byType: make(map[common.EntityType][]Validator)}
	s.RegisterGlobal(yearRange(cfg.MinYear, cfg.MaxYear))
	s.Register(common.EntityCaseCitation, caseCitationComponents())
	s.Register(common.EntityStatuteCitation, statuteComponents())
	s.Register(common.EntityRegulationCitation, statuteComponents())
	s.Register(common.EntityMonetaryAmount, monetaryAmount())
	s.Register(common.EntityDate, dateValidity())
	if len(cfg.CourtVocabulary) > 0 {
		s.Register(common.EntityCourt, courtVocabulary(cfg.CourtVocabulary, cfg.CourtPenalty))
	}
	return s
}

// NewEmptyScorer returns a scorer without validators.
func NewEmptyScorer() *Scorer {
	return &Scorer{byType: make(map[common.EntityType][]Validator)}
}

// Register adds a validator for one entity type. Call before first use.
func (s *Scorer) Register(t common.EntityType, v Validator) {
	s.byType[t] = append(s.byType[t], v)
}

// RegisterGlobal adds a validator for every entity type.
func (s *Scorer) RegisterGlobal(v Validator) {
	s.global = append(s.global, v)
}

// Score returns a copy of e with validator caps and penalties applied. Each
// validator that lowers confidence appends "score_cap: <name>".
func (s *Scorer) Score(e common.Entity) common.Entity {
	out := e.Clone()
	out.Confidence = clamp01(out.Confidence)
	apply := func(v Validator) {
		verdict := v.Validate(&out)
		next := out.Confidence
		if verdict.Cap >= 0 && next > verdict.Cap {
			next = verdict.Cap
		}
		if verdict.Penalty > 0 {
			next -= verdict.Penalty
		}
		next = clamp01(next)
		if next < out.Confidence {
			out.Confidence = round4(next)
			out.Annotate(AnnotationPrefix + v.Name())
		}
	}
	for _, v := range s.global {
		apply(v)
	}
	for _, v := range s.byType[e.Type] {
		apply(v)
	}
	return out
}

// ScoreAll scores every entity, preserving order.
func (s *Scorer) ScoreAll(es []common.Entity) []common.Entity {
	if es == nil {
		return nil
	}
	out := make([]common.Entity, len(es))
	for i := range es {
		out[i] = s.Score(es[i])
	}
	return out
}

// IsScoreCap reports whether a is a scorer annotation.
func IsScoreCap(a string) bool { return strings.HasPrefix(a, AnnotationPrefix) }

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

//Personal.AI order the ending
