// Package patterns loads declarative pattern catalogs into an immutable,
// read-only Library of compiled definitions queryable by jurisdiction and
// entity type.
package patterns

import (
	"regexp"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// JurisdictionGeneral tags patterns that apply regardless of the
// jurisdiction hint.
const JurisdictionGeneral = "general"

// Definition is one compiled pattern. It is created during Load and never
// mutated afterwards, so it may be shared across goroutines without locking.
type Definition struct {
	ID           string            `json:"id"`
	Group        string            `json:"group"`
	Source       string            `json:"source"`
	EntityType   common.EntityType `json:"entity_type"`
	Subtype      string            `json:"subtype,omitempty"`
	Expr         string            `json:"pattern"`
	Confidence   float64           `json:"confidence"`
	Attributes   map[string]string `json:"attributes,omitempty"` // attribute name -> named group
	Jurisdiction string            `json:"jurisdiction"`
	Category     string            `json:"category,omitempty"`
	Priority     int               `json:"priority"`
	Examples     []string          `json:"examples,omitempty"`

	re         *regexp.Regexp
	groupIndex map[string]int // attribute name -> submatch index
}

// Regexp returns the compiled matcher.
func (d *Definition) Regexp() *regexp.Regexp { return d.re }

// AttributeIndex returns the submatch index backing attribute name.
func (d *Definition) AttributeIndex(name string) (int, bool) {
	idx, ok := d.groupIndex[name]
	return idx, ok
}

// AttributeNames returns the declared attribute names.
func (d *Definition) AttributeNames() []string {
	out := make([]string, 0, len(d.Attributes))
	for name := range d.Attributes {
		out = append(out, name)
	}
	return out
}

// AppliesTo reports whether the pattern runs for a jurisdiction hint. An
// empty hint selects everything; general patterns always apply.
func (d *Definition) AppliesTo(hint string) bool {
	return hint == "" || d.Jurisdiction == JurisdictionGeneral || d.Jurisdiction == hint
}

// NewDefinition compiles a single definition outside of a catalog. It runs
// the same validation as Load and is used by tests and the CLI.
func NewDefinition(id string, entityType common.EntityType, expr string, confidence float64, opts ...DefinitionOption) (*Definition, error) {
	raw := rawEntry{
		ID:         id,
		Pattern:    expr,
		EntityType: string(entityType),
		Confidence: &confidence,
	}
	for _, o := range opts {
		o(&raw)
	}
	d, lerr := compileEntry(raw, entryContext{source: "inline", group: "inline", jurisdiction: JurisdictionGeneral}, DefaultComplexityLimits())
	if lerr != nil {
		return nil, lerr
	}
	return d, nil
}

// DefinitionOption customises NewDefinition.
type DefinitionOption func(*rawEntry)

// WithAttributes maps attribute names onto named groups.
func WithAttributes(attrs map[string]string) DefinitionOption {
	return func(r *rawEntry) { r.Attributes = attrs }
}

// WithJurisdiction sets the jurisdiction tag.
func WithJurisdiction(j string) DefinitionOption {
	return func(r *rawEntry) { r.Jurisdiction = j }
}

// WithExamples sets the self-test examples.
func WithExamples(examples ...string) DefinitionOption {
	return func(r *rawEntry) { r.Examples = examples }
}

// WithSubtype sets the entity subtype.
func WithSubtype(subtype string) DefinitionOption {
	return func(r *rawEntry) { r.Subtype = subtype }
}

//Personal.AI order the ending
