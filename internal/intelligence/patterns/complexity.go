package patterns

import (
	"fmt"
	"regexp/syntax"
)

// ComplexityLimits bounds the structural cost of a pattern. Patterns over any
// limit are rejected at load time with KindComplexity.
type ComplexityLimits struct {
	// MaxNestedQuantifiers is the deepest allowed nesting of unbounded
	// quantifiers (*, +, {n,}). 1 permits `a+` but rejects `(a+)+`.
	MaxNestedQuantifiers int `mapstructure:"max_nested_quantifiers" json:"max_nested_quantifiers"`

	// MaxAlternationDepth is the deepest allowed nesting of alternations.
	MaxAlternationDepth int `mapstructure:"max_alternation_depth" json:"max_alternation_depth"`

	// MaxAlternationBranches caps the branch count of a single alternation.
	MaxAlternationBranches int `mapstructure:"max_alternation_branches" json:"max_alternation_branches"`

	// MaxRepeat caps counted repetition bounds such as {1,500}.
	MaxRepeat int `mapstructure:"max_repeat" json:"max_repeat"`
}

// DefaultComplexityLimits returns the limits used when none are configured.
func DefaultComplexityLimits() ComplexityLimits {
	return ComplexityLimits{
		MaxNestedQuantifiers:   1,
		MaxAlternationDepth:    4,
		MaxAlternationBranches: 64,
		MaxRepeat:              200,
	}
}

func (l ComplexityLimits) withDefaults() ComplexityLimits {
	d := DefaultComplexityLimits()
	if l.MaxNestedQuantifiers <= 0 {
		l.MaxNestedQuantifiers = d.MaxNestedQuantifiers
	}
	if l.MaxAlternationDepth <= 0 {
		l.MaxAlternationDepth = d.MaxAlternationDepth
	}
	if l.MaxAlternationBranches <= 0 {
		l.MaxAlternationBranches = d.MaxAlternationBranches
	}
	if l.MaxRepeat <= 0 {
		l.MaxRepeat = d.MaxRepeat
	}
	return l
}

// ComplexityReport describes the structure measured by CheckComplexity.
type ComplexityReport struct {
	QuantifierDepth  int
	AlternationDepth int
	MaxBranches      int
	MaxRepeat        int
}

// CheckComplexity parses expr and walks its syntax tree. It returns the
// measured report and an error naming the first exceeded limit.
func CheckComplexity(expr string, limits ComplexityLimits) (ComplexityReport, error) {
	limits = limits.withDefaults()
	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return ComplexityReport{}, err
	}
	var rep ComplexityReport
	walkComplexity(re, 0, 0, &rep)

	switch {
	case rep.QuantifierDepth > limits.MaxNestedQuantifiers:
		return rep, fmt.Errorf("nested unbounded quantifiers depth %d exceeds %d", rep.QuantifierDepth, limits.MaxNestedQuantifiers)
	case rep.AlternationDepth > limits.MaxAlternationDepth:
		return rep, fmt.Errorf("alternation nesting depth %d exceeds %d", rep.AlternationDepth, limits.MaxAlternationDepth)
	case rep.MaxBranches > limits.MaxAlternationBranches:
		return rep, fmt.Errorf("alternation with %d branches exceeds %d", rep.MaxBranches, limits.MaxAlternationBranches)
	case rep.MaxRepeat > limits.MaxRepeat:
		return rep, fmt.Errorf("counted repetition bound %d exceeds %d", rep.MaxRepeat, limits.MaxRepeat)
	}
	return rep, nil
}

func walkComplexity(re *syntax.Regexp, quantDepth, altDepth int, rep *ComplexityReport) {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		quantDepth++
	case syntax.OpRepeat:
		bound := re.Max
		if re.Max == -1 {
			bound = re.Min
			quantDepth++
		}
		if bound > rep.MaxRepeat {
			rep.MaxRepeat = bound
		}
	case syntax.OpAlternate:
		altDepth++
		if len(re.Sub) > rep.MaxBranches {
			rep.MaxBranches = len(re.Sub)
		}
	}
	if quantDepth > rep.QuantifierDepth {
		rep.QuantifierDepth = quantDepth
	}
	if altDepth > rep.AlternationDepth {
		rep.AlternationDepth = altDepth
	}
	for _, sub := range re.Sub {
		walkComplexity(sub, quantDepth, altDepth, rep)
	}
}

//Personal.AI order the ending
