package patterns

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// LoadError
// ---------------------------------------------------------------------------

// LoadErrorKind classifies why a definition or source was rejected.
type LoadErrorKind string

const (
	KindParse        LoadErrorKind = "parse"
	KindVersion      LoadErrorKind = "version"
	KindUnknownField LoadErrorKind = "unknown_field"
	KindMissingField LoadErrorKind = "missing_field"
	KindUnknownType  LoadErrorKind = "unknown_type"
	KindConfidence   LoadErrorKind = "confidence"
	KindSyntax       LoadErrorKind = "syntax"
	KindComplexity   LoadErrorKind = "complexity"
	KindAttribute    LoadErrorKind = "attribute"
	KindSelfTest     LoadErrorKind = "self_test"
	KindDuplicate    LoadErrorKind = "duplicate"
)

// ErrPatternLoad is the sentinel every LoadError unwraps to.
var ErrPatternLoad = errors.New(errors.ErrCodePatternLoad, "pattern definition rejected")

// LoadError is a non-fatal rejection of one definition (or of a whole source
// when PatternID is empty). Rejected definitions are excluded from the
// library; the rest still load.
type LoadError struct {
	Source    string        `json:"source"`
	Group     string        `json:"group,omitempty"`
	PatternID string        `json:"pattern_id,omitempty"`
	Kind      LoadErrorKind `json:"kind"`
	Message   string        `json:"message"`
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.PatternID != "" {
		b.WriteString(": ")
		b.WriteString(e.PatternID)
	} else if e.Group != "" {
		b.WriteString(": group ")
		b.WriteString(e.Group)
	}
	fmt.Fprintf(&b, ": %s: %s", e.Kind, e.Message)
	return b.String()
}

// Unwrap lets errors.IsCode(err, ErrCodePatternLoad) match.
func (e *LoadError) Unwrap() error { return ErrPatternLoad }

func newLoadError(ctx entryContext, id string, kind LoadErrorKind, format string, args ...interface{}) *LoadError {
	return &LoadError{
		Source:    ctx.source,
		Group:     ctx.group,
		PatternID: id,
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
	}
}

// ---------------------------------------------------------------------------
// Raw catalog entries
// ---------------------------------------------------------------------------

// rawEntry is one catalog entry as written by pattern authors. Required:
// pattern, entity_type, confidence.
type rawEntry struct {
	ID           string            `yaml:"id" toml:"id"`
	Pattern      string            `yaml:"pattern" toml:"pattern"`
	EntityType   string            `yaml:"entity_type" toml:"entity_type"`
	Subtype      string            `yaml:"subtype" toml:"subtype"`
	Confidence   *float64          `yaml:"confidence" toml:"confidence"`
	Attributes   map[string]string `yaml:"attributes" toml:"attributes"`
	Jurisdiction string            `yaml:"jurisdiction" toml:"jurisdiction"`
	Category     string            `yaml:"category" toml:"category"`
	Examples     []string          `yaml:"examples" toml:"examples"`

	index int
}

var rawEntryFields = map[string]struct{}{
	"id": {}, "pattern": {}, "entity_type": {}, "subtype": {}, "confidence": {},
	"attributes": {}, "jurisdiction": {}, "category": {}, "examples": {},
}

// entryContext carries the position of an entry inside its catalog.
type entryContext struct {
	source       string
	group        string
	jurisdiction string
	index        int
}

func (c entryContext) defaultID() string {
	return fmt.Sprintf("%s.%d", c.group, c.index)
}

// compileEntry validates and compiles one entry. Priority is assigned by the
// caller.
func compileEntry(raw rawEntry, ctx entryContext, limits ComplexityLimits) (*Definition, *LoadError) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = ctx.defaultID()
	}

	var missing []string
	if strings.TrimSpace(raw.Pattern) == "" {
		missing = append(missing, "pattern")
	}
	if strings.TrimSpace(raw.EntityType) == "" {
		missing = append(missing, "entity_type")
	}
	if raw.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return nil, newLoadError(ctx, id, KindMissingField, "missing required field(s): %s", strings.Join(missing, ", "))
	}

	entityType, ok := common.ParseEntityType(raw.EntityType)
	if !ok {
		return nil, newLoadError(ctx, id, KindUnknownType, "unknown entity type %q", raw.EntityType)
	}

	conf := *raw.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return nil, newLoadError(ctx, id, KindConfidence, "confidence %v outside [0,1]", conf)
	}

	re, err := regexp.Compile(raw.Pattern)
	if err != nil {
		return nil, newLoadError(ctx, id, KindSyntax, "%v", err)
	}
	if _, err := CheckComplexity(raw.Pattern, limits); err != nil {
		return nil, newLoadError(ctx, id, KindComplexity, "%v", err)
	}

	groupIndex := make(map[string]int, len(raw.Attributes))
	for attr, group := range raw.Attributes {
		idx := re.SubexpIndex(group)
		if idx < 0 {
			return nil, newLoadError(ctx, id, KindAttribute, "attribute %q references undeclared group %q", attr, group)
		}
		groupIndex[attr] = idx
	}

	for _, ex := range raw.Examples {
		if !re.MatchString(ex) {
			return nil, newLoadError(ctx, id, KindSelfTest, "example %q does not match", ex)
		}
	}

	jurisdiction := strings.ToLower(strings.TrimSpace(raw.Jurisdiction))
	if jurisdiction == "" {
		jurisdiction = ctx.jurisdiction
	}
	if jurisdiction == "" {
		jurisdiction = JurisdictionGeneral
	}
	category := raw.Category
	if category == "" {
		category = ctx.group
	}

	var attrs map[string]string
	if len(raw.Attributes) > 0 {
		attrs = make(map[string]string, len(raw.Attributes))
		for k, v := range raw.Attributes {
			attrs[k] = v
		}
	}

	return &Definition{
		ID:           id,
		Group:        ctx.group,
		Source:       ctx.source,
		EntityType:   entityType,
		Subtype:      raw.Subtype,
		Expr:         raw.Pattern,
		Confidence:   conf,
		Attributes:   attrs,
		Jurisdiction: jurisdiction,
		Category:     category,
		Examples:     append([]string(nil), raw.Examples...),
		re:           re,
		groupIndex:   groupIndex,
	}, nil
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

type loadConfig struct {
	logger  logging.Logger
	metrics common.ExtractionMetrics
	limits  ComplexityLimits
}

// LoadOption customises Load.
type LoadOption func(*loadConfig)

// WithLogger sets the logger used to report rejected definitions.
func WithLogger(l logging.Logger) LoadOption {
	return func(c *loadConfig) { c.logger = l }
}

// WithMetrics sets the metrics sink for load counts and duration.
func WithMetrics(m common.ExtractionMetrics) LoadOption {
	return func(c *loadConfig) { c.metrics = m }
}

// WithComplexityLimits overrides DefaultComplexityLimits.
func WithComplexityLimits(l ComplexityLimits) LoadOption {
	return func(c *loadConfig) { c.limits = l }
}

// Load parses and compiles every source. Sources are processed in order;
// within a source groups keep their declared order and entries their list
// order, which together define each definition's priority index. Load never
// fails as a whole: bad definitions and unreadable sources are reported as
// LoadErrors and skipped.
func Load(sources []Source, opts ...LoadOption) (*Library, []LoadError) {
	cfg := loadConfig{limits: DefaultComplexityLimits()}
	for _, o := range opts {
		o(&cfg)
	}
	logger := logging.OrNop(cfg.logger)
	if cfg.metrics == nil {
		cfg.metrics = common.NewNoopExtractionMetrics()
	}

	start := time.Now()
	var (
		defs    []*Definition
		errs    []LoadError
		seenIDs = make(map[string]string)
	)

	for _, src := range sources {
		cat, perrs := parseSource(src)
		errs = append(errs, perrs...)
		if cat == nil {
			continue
		}
		for _, g := range cat.groups {
			for _, raw := range g.entries {
				ctx := entryContext{source: src.Name, group: g.name, jurisdiction: cat.jurisdiction, index: raw.index}
				def, lerr := compileEntry(raw, ctx, cfg.limits)
				if lerr != nil {
					errs = append(errs, *lerr)
					continue
				}
				if prev, dup := seenIDs[def.ID]; dup {
					errs = append(errs, *newLoadError(ctx, def.ID, KindDuplicate, "id already defined in %s", prev))
					continue
				}
				seenIDs[def.ID] = src.Name
				def.Priority = len(defs)
				defs = append(defs, def)
			}
		}
	}

	lib := buildLibrary(defs, len(sources), len(errs), time.Since(start))

	for i := range errs {
		logger.Warn("pattern rejected",
			logging.String("source", errs[i].Source),
			logging.PatternID(errs[i].PatternID),
			logging.String("kind", string(errs[i].Kind)),
			logging.String("reason", errs[i].Message))
	}
	logger.Info("pattern library loaded",
		logging.Int("patterns", lib.Len()),
		logging.Int("rejected", len(errs)),
		logging.Int("sources", len(sources)),
		logging.Duration("duration", lib.stats.LoadDuration))
	cfg.metrics.RecordPatternLoad(context.Background(), lib.Len(), len(errs), float64(lib.stats.LoadDuration.Microseconds())/1000.0)

	return lib, errs
}

//Personal.AI order the ending
