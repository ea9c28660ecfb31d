/*
 * types.go 定义抽取流水线各阶段共享的领域类型：实体类型、跨度、候选匹配、实体、关系、增强阶段与运行模式。
 * 规则层（patterns / matcher / reconcile / scoring）与模型层（orchestrator / relations）只通过这些类型交换数据。
 */

package common

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType is the closed set of legal entity categories the pipeline emits.
type EntityType string

const (
	EntityParty              EntityType = "PARTY"
	EntityCourt              EntityType = "COURT"
	EntityJudge              EntityType = "JUDGE"
	EntityAttorney           EntityType = "ATTORNEY"
	EntityCaseCitation       EntityType = "CASE_CITATION"
	EntityStatuteCitation    EntityType = "STATUTE_CITATION"
	EntityRegulationCitation EntityType = "REGULATION_CITATION"
	EntityDate               EntityType = "DATE"
	EntityMonetaryAmount     EntityType = "MONETARY_AMOUNT"
	EntityProceduralDocument EntityType = "PROCEDURAL_DOCUMENT"
	EntityDocketNumber       EntityType = "DOCKET_NUMBER"
	EntityLegalConcept       EntityType = "LEGAL_CONCEPT"
)

var knownEntityTypes = map[EntityType]struct{}{
	EntityParty:              {},
	EntityCourt:              {},
	EntityJudge:              {},
	EntityAttorney:           {},
	EntityCaseCitation:       {},
	EntityStatuteCitation:    {},
	EntityRegulationCitation: {},
	EntityDate:               {},
	EntityMonetaryAmount:     {},
	EntityProceduralDocument: {},
	EntityDocketNumber:       {},
	EntityLegalConcept:       {},
}

// Valid reports whether t belongs to the closed taxonomy.
func (t EntityType) Valid() bool {
	_, ok := knownEntityTypes[t]
	return ok
}

// IsCitation reports whether t is handled by the citation refinement stage.
func (t EntityType) IsCitation() bool {
	switch t {
	case EntityCaseCitation, EntityStatuteCitation, EntityRegulationCitation:
		return true
	}
	return false
}

// ParseEntityType normalises s ("case citation", "case_citation") and checks
// it against the taxonomy.
func ParseEntityType(s string) (EntityType, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	t := EntityType(norm)
	return t, t.Valid()
}

// EntityTypes returns the taxonomy in sorted order.
func EntityTypes() []EntityType {
	out := make([]EntityType, 0, len(knownEntityTypes))
	for t := range knownEntityTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---------------------------------------------------------------------------
// Span
// ---------------------------------------------------------------------------

// Span is a half-open byte range [Start, End) into the document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Valid reports whether the span is non-empty and non-negative.
func (s Span) Valid() bool { return s.Start >= 0 && s.End > s.Start }

// Within reports whether the span lies inside a text of length n.
func (s Span) Within(n int) bool { return s.Valid() && s.End <= n }

// Overlaps reports whether the spans share at least one byte. Spans that only
// touch (a.End == b.Start) do not overlap.
func (s Span) Overlaps(o Span) bool { return s.Start < o.End && o.Start < s.End }

// Contains reports whether o lies inside s (equal spans contain each other).
func (s Span) Contains(o Span) bool { return s.Start <= o.Start && o.End <= s.End }

// StrictlyContains reports containment with s strictly larger than o.
func (s Span) StrictlyContains(o Span) bool { return s.Contains(o) && s != o }

func (s Span) String() string { return fmt.Sprintf("[%d,%d)", s.Start, s.End) }

// ---------------------------------------------------------------------------
// Provenance
// ---------------------------------------------------------------------------

// Provenance records which layers shaped an entity's final state.
type Provenance string

const (
	ProvenanceRuleOnly      Provenance = "rule_only"
	ProvenanceRulePlusModel Provenance = "rule_plus_model"
	// ProvenanceDegraded marks every entity of a document enhanced while the
	// backend ran without structured-output support.
	ProvenanceDegraded Provenance = "rule_plus_model_degraded"
)

// ---------------------------------------------------------------------------
// Candidate
// ---------------------------------------------------------------------------

// Candidate is one raw pattern match. It lives only until reconciliation.
type Candidate struct {
	PatternID    string            `json:"pattern_id"`
	Text         string            `json:"text"`
	Span         Span              `json:"span"`
	EntityType   EntityType        `json:"entity_type"`
	Subtype      string            `json:"subtype,omitempty"`
	Confidence   float64           `json:"confidence"`
	Priority     int               `json:"priority"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

// Entity is the reconciled, scored unit of output.
type Entity struct {
	ID           string            `json:"id"`
	Type         EntityType        `json:"type"`
	Subtype      string            `json:"subtype,omitempty"`
	Text         string            `json:"text"`
	OriginalText string            `json:"original_text"`
	Span         Span              `json:"span"`
	Confidence   float64           `json:"confidence"`
	Provenance   Provenance        `json:"provenance"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Annotations  []string          `json:"annotations,omitempty"`
	Nested       bool              `json:"nested,omitempty"`
	ContainerID  string            `json:"container_id,omitempty"`
	PatternID    string            `json:"pattern_id,omitempty"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
}

// Clone returns a deep copy so stages never alias their input.
func (e Entity) Clone() Entity {
	out := e
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	if e.Annotations != nil {
		out.Annotations = append([]string(nil), e.Annotations...)
	}
	return out
}

// Annotate appends an annotation.
func (e *Entity) Annotate(a string) { e.Annotations = append(e.Annotations, a) }

// SetAttribute sets k=v, allocating the map on first use.
func (e *Entity) SetAttribute(k, v string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[k] = v
}

// HasDemotion reports whether any annotation records an explicit demotion.
func (e Entity) HasDemotion() bool {
	for _, a := range e.Annotations {
		if IsDemotion(a) {
			return true
		}
	}
	return false
}

// CloneEntities deep-copies a slice of entities.
func CloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// SortEntities orders entities by span start, then end, then type, then id.
func SortEntities(es []Entity) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End > b.Span.End
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
}

// ---------------------------------------------------------------------------
// Annotations
// ---------------------------------------------------------------------------

const (
	annotationStageSkipped = "stage_skipped: "
	annotationDemoted      = "demoted: "
	annotationAddedBy      = "added_by: "
)

// StageSkipped formats the annotation recorded when a stage is bypassed,
// e.g. "stage_skipped: validation/timeout".
func StageSkipped(stage Stage, reason string) string {
	return annotationStageSkipped + string(stage) + "/" + reason
}

// Demoted formats an explicit demotion annotation, e.g.
// "demoted: validation/model_rejected_context".
func Demoted(stage Stage, reason string) string {
	return annotationDemoted + string(stage) + "/" + reason
}

// AddedBy marks an entity introduced by a stage, e.g.
// "added_by: error_correction".
func AddedBy(stage Stage) string { return annotationAddedBy + string(stage) }

// IsDemotion reports whether a is a demotion annotation.
func IsDemotion(a string) bool { return strings.HasPrefix(a, annotationDemoted) }

// IsStageSkipped reports whether a is a stage-skip annotation.
func IsStageSkipped(a string) bool { return strings.HasPrefix(a, annotationStageSkipped) }

// ---------------------------------------------------------------------------
// Relationship
// ---------------------------------------------------------------------------

// RelationshipType is the closed relationship taxonomy.
type RelationshipType string

const (
	RelCites               RelationshipType = "CITES"
	RelDecidedBy           RelationshipType = "DECIDED_BY"
	RelFiledBy             RelationshipType = "FILED_BY"
	RelRepresents          RelationshipType = "REPRESENTS"
	RelEstablishesDeadline RelationshipType = "ESTABLISHES_DEADLINE"
)

// Valid reports whether r belongs to the taxonomy.
func (r RelationshipType) Valid() bool {
	switch r {
	case RelCites, RelDecidedBy, RelFiledBy, RelRepresents, RelEstablishesDeadline:
		return true
	}
	return false
}

// Relationship origins.
const (
	OriginModel     = "model"
	OriginHeuristic = "heuristic"
)

// Relationship is a typed edge between two entities of the same result.
type Relationship struct {
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Type       RelationshipType  `json:"type"`
	Confidence float64           `json:"confidence"`
	Evidence   Span              `json:"evidence"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Origin     string            `json:"origin"`
}

// Key is the deduplication key (source, target, type).
func (r Relationship) Key() string {
	return r.SourceID + "|" + r.TargetID + "|" + string(r.Type)
}

// ---------------------------------------------------------------------------
// Stage
// ---------------------------------------------------------------------------

// Stage names one step of the enhancement sequence.
type Stage string

const (
	StageValidation            Stage = "validation"
	StageEnhancement           Stage = "enhancement"
	StageRelationshipDiscovery Stage = "relationship_discovery"
	StageCitationRefinement    Stage = "citation_refinement"
	StageErrorCorrection       Stage = "error_correction"
)

// AllStages returns the fixed execution order.
func AllStages() []Stage {
	return []Stage{
		StageValidation,
		StageEnhancement,
		StageRelationshipDiscovery,
		StageCitationRefinement,
		StageErrorCorrection,
	}
}

// ParseStage accepts the canonical name of a stage.
func ParseStage(s string) (Stage, bool) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStages() {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Mode
// ---------------------------------------------------------------------------

// Mode is the pipeline capability level.
type Mode string

const (
	ModeFull      Mode = "Full"
	ModeDegraded  Mode = "Degraded"
	ModeRulesOnly Mode = "RulesOnly"
)

// Ordinal maps a mode onto a gauge value (2=Full, 1=Degraded, 0=RulesOnly).
func (m Mode) Ordinal() float64 {
	switch m {
	case ModeFull:
		return 2
	case ModeDegraded:
		return 1
	default:
		return 0
	}
}

// ---------------------------------------------------------------------------
// MatchFault
// ---------------------------------------------------------------------------

// MatchFault records one pattern that failed at match time and was skipped.
type MatchFault struct {
	PatternID string `json:"pattern_id"`
	Reason    string `json:"reason"`
}

func (f MatchFault) Error() string {
	return fmt.Sprintf("match fault in pattern %s: %s", f.PatternID, f.Reason)
}

//Personal.AI order the ending
