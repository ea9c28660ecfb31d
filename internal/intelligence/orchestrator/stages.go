package orchestrator

import (
	"math"
	"sort"
	"strings"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/reconcile"
)

// Annotation reasons used by the stage appliers.
const (
	reasonRejected      = "rejected"
	reasonAdjusted      = "model_adjustment"
	reasonBelowFloor    = "below_floor"
	reasonFalsePositive = "false_positive"

	// AttrParallelCitation lists the ids of other reporters' citations of the
	// same decision.
	AttrParallelCitation = "parallel_citation"
)

// apply merges a validated stage response into a copy of in.
func (o *Orchestrator) apply(stage common.Stage, mode common.Mode, in []common.Entity, resp *common.StageResponse, text string) *StageOutput {
	a := &applier{
		stage:   stage,
		out:     common.CloneEntities(in),
		removed: make(map[string]bool),
		prov:    common.ProvenanceRulePlusModel,
		cfg:     o.cfg,
		text:    text,
	}
	if mode == common.ModeDegraded {
		a.prov = common.ProvenanceDegraded
	}
	a.index = make(map[string]int, len(a.out))
	for i := range a.out {
		a.index[a.out[i].ID] = i
	}

	switch stage {
	case common.StageValidation:
		a.validate(in, resp.Entities)
	case common.StageEnhancement:
		a.enhance(resp.Entities, nil)
	case common.StageRelationshipDiscovery:
		a.relate(resp.Relationships)
	case common.StageCitationRefinement:
		a.enhance(resp.Entities, func(e *common.Entity) bool { return e.Type.IsCitation() })
		a.linkParallelCitations()
	case common.StageErrorCorrection:
		a.correct(resp.Entities)
	}
	return a.result()
}

type applier struct {
	stage   common.Stage
	out     []common.Entity
	index   map[string]int
	removed map[string]bool
	added   []common.Entity
	rels    []common.Relationship
	notes   []string
	prov    common.Provenance
	cfg     Config
	text    string
}

func (a *applier) lookup(id string) (*common.Entity, bool) {
	i, ok := a.index[id]
	if !ok || a.removed[id] {
		return nil, false
	}
	return &a.out[i], true
}

func (a *applier) drop(id, reason string) {
	a.removed[id] = true
	a.notes = append(a.notes, common.Demoted(a.stage, reason+":"+id))
}

// validate applies accept/reject verdicts and bounded confidence changes.
func (a *applier) validate(in []common.Entity, proposals []common.EntityProposal) {
	for _, p := range proposals {
		e, ok := a.lookup(p.ID)
		if !ok {
			continue
		}
		if p.Accept != nil && !*p.Accept {
			a.drop(p.ID, reasonRejected)
			continue
		}
		e.Provenance = a.prov
		if p.Confidence == nil {
			continue
		}
		base := in[a.index[p.ID]].Confidence
		adj := a.cfg.MaxValidationAdjustment
		c := clamp(*p.Confidence, base-adj, base+adj)
		c = round4(clamp(c, 0, 1))
		if c < e.Confidence {
			e.Annotate(common.Demoted(a.stage, orDefault(p.Reason, reasonAdjusted)))
		}
		e.Confidence = c
		if c < a.cfg.ConfidenceFloor {
			a.drop(p.ID, reasonBelowFloor)
		}
	}
}

// enhance applies normalised text and attribute updates. Span, type and
// confidence proposals are ignored.
func (a *applier) enhance(proposals []common.EntityProposal, eligible func(*common.Entity) bool) {
	for _, p := range proposals {
		e, ok := a.lookup(p.ID)
		if !ok || (eligible != nil && !eligible(e)) {
			continue
		}
		if t := common.Canonicalize(p.Text); t != "" {
			e.Text = t
		}
		for k, v := range p.Attributes {
			if v = common.Canonicalize(v); v != "" {
				e.SetAttribute(k, v)
			}
		}
		e.Provenance = a.prov
	}
}

// relate keeps proposals whose endpoints exist and whose type is known.
func (a *applier) relate(proposals []common.RelationshipProposal) {
	for _, p := range proposals {
		src, okS := a.lookup(p.SourceID)
		tgt, okT := a.lookup(p.TargetID)
		if !okS || !okT || src.ID == tgt.ID || !p.Type.Valid() {
			continue
		}
		evidence := cover(src.Span, tgt.Span)
		if p.Evidence != nil && p.Evidence.Within(len(a.text)) {
			evidence = *p.Evidence
		}
		var attrs map[string]string
		if len(p.Attributes) > 0 {
			attrs = make(map[string]string, len(p.Attributes))
			for k, v := range p.Attributes {
				attrs[k] = v
			}
		}
		a.rels = append(a.rels, common.Relationship{
			SourceID:   src.ID,
			TargetID:   tgt.ID,
			Type:       p.Type,
			Confidence: round4(p.Confidence),
			Evidence:   evidence,
			Attributes: attrs,
			Origin:     common.OriginModel,
		})
	}
}

// linkParallelCitations marks case citations that share a case name and year
// but come from different reporters.
func (a *applier) linkParallelCitations() {
	groups := make(map[string][]int)
	var keys []string
	for i := range a.out {
		e := &a.out[i]
		if e.Type != common.EntityCaseCitation || a.removed[e.ID] {
			continue
		}
		name, year := e.Attributes["case_name"], e.Attributes["year"]
		if name == "" || year == "" || e.Attributes["reporter"] == "" {
			continue
		}
		key := strings.ToLower(common.Canonicalize(name)) + "|" + year
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}
	for _, key := range keys {
		idx := groups[key]
		reporters := make(map[string]bool)
		for _, i := range idx {
			reporters[a.out[i].Attributes["reporter"]] = true
		}
		if len(reporters) < 2 {
			continue
		}
		for _, i := range idx {
			var others []string
			for _, j := range idx {
				if j != i && a.out[j].Attributes["reporter"] != a.out[i].Attributes["reporter"] {
					others = append(others, a.out[j].ID)
				}
			}
			sort.Strings(others)
			a.out[i].SetAttribute(AttrParallelCitation, strings.Join(others, ","))
			a.out[i].Provenance = a.prov
		}
	}
}

// correct removes rejected false positives and adds missed entities whose
// spans overlap nothing already present.
func (a *applier) correct(proposals []common.EntityProposal) {
	for _, p := range proposals {
		if p.ID != "" {
			if _, ok := a.lookup(p.ID); ok && p.Accept != nil && !*p.Accept {
				a.drop(p.ID, reasonFalsePositive)
			}
			continue
		}
		if p.Span == nil || !p.Span.Within(len(a.text)) || !p.Type.Valid() || p.Confidence == nil {
			continue
		}
		span := *p.Span
		if a.overlapsAny(span) {
			continue
		}
		orig := a.text[span.Start:span.End]
		canon := common.Canonicalize(p.Text)
		if canon == "" {
			canon = common.Canonicalize(orig)
		}
		e := common.Entity{
			ID:           reconcile.EntityID(p.Type, span, orig),
			Type:         p.Type,
			Subtype:      p.Subtype,
			Text:         canon,
			OriginalText: orig,
			Span:         span,
			Confidence:   round4(clamp(*p.Confidence, 0, 1)),
			Provenance:   a.prov,
			Annotations:  []string{common.AddedBy(a.stage)},
		}
		for k, v := range p.Attributes {
			if v = common.Canonicalize(v); v != "" {
				e.SetAttribute(k, v)
			}
		}
		a.added = append(a.added, e)
	}
}

func (a *applier) overlapsAny(span common.Span) bool {
	for i := range a.out {
		if !a.removed[a.out[i].ID] && a.out[i].Span.Overlaps(span) {
			return true
		}
	}
	for i := range a.added {
		if a.added[i].Span.Overlaps(span) {
			return true
		}
	}
	return false
}

func (a *applier) result() *StageOutput {
	kept := make([]common.Entity, 0, len(a.out)+len(a.added))
	for _, e := range a.out {
		if !a.removed[e.ID] {
			kept = append(kept, e)
		}
	}
	if len(a.added) > 0 {
		kept = append(kept, a.added...)
		common.SortEntities(kept)
	}
	return &StageOutput{Entities: kept, Relationships: a.rels, Annotations: a.notes}
}

func cover(a, b common.Span) common.Span {
	out := a
	if b.Start < out.Start {
		out.Start = b.Start
	}
	if b.End > out.End {
		out.End = b.End
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func orDefault(s, d string) string {
	if s = strings.TrimSpace(s); s != "" {
		return strings.ReplaceAll(s, " ", "_")
	}
	return d
}

//Personal.AI order the ending
