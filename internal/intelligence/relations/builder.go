/*
 * builder.go 关系构建：合并模型关系发现阶段的输出与本地共现启发式（固定词窗 + 触发短语），
 * 按 (source, target, type) 去重保留高置信度，并丢弃引用不存在实体的关系。
 */

// Package relations assembles the relationship list of an extraction result.
package relations

import (
	"sort"
	"strings"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// Defaults.
const (
	DefaultWindow     = 12
	DefaultConfidence = 0.5
)

// AttrTrigger records the phrase that produced a heuristic relationship.
const AttrTrigger = "trigger"

// Config tunes the heuristic pass.
type Config struct {
	// Window is the token distance searched around an anchor entity.
	Window int `mapstructure:"window" json:"window"`
	// Confidence is assigned to heuristic relationships.
	Confidence float64 `mapstructure:"confidence" json:"confidence"`
	// Disabled turns the heuristic pass off; model relationships still pass
	// through deduplication.
	Disabled bool `mapstructure:"disabled" json:"disabled"`
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Confidence <= 0 || c.Confidence > 1 {
		c.Confidence = DefaultConfidence
	}
	return c
}

// Builder merges model and heuristic relationships.
type Builder struct {
	cfg    Config
	logger logging.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config, logger logging.Logger) *Builder {
	return &Builder{cfg: cfg.withDefaults(), logger: logging.OrNop(logger).Named("relations")}
}

// Build returns the final relationship list for entities. When
// runHeuristics is set the local co-occurrence pass is merged in.
func (b *Builder) Build(entities []common.Entity, text string, model []common.Relationship, runHeuristics bool) []common.Relationship {
	all := make([]common.Relationship, 0, len(model))
	all = append(all, model...)
	if runHeuristics && !b.cfg.Disabled {
		h := b.Discover(entities, text)
		b.logger.Debug("heuristic relationships",
			logging.Int("model", len(model)),
			logging.Int("heuristic", len(h)))
		all = append(all, h...)
	}
	return Finalize(all, entities)
}

// Finalize drops relationships with unknown or identical endpoints, keeps
// the higher-confidence instance per (source, target, type) and sorts the
// result by evidence position. A model relationship wins a confidence tie.
func Finalize(rels []common.Relationship, entities []common.Entity) []common.Relationship {
	ids := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		ids[e.ID] = struct{}{}
	}
	best := make(map[string]int)
	var out []common.Relationship
	for _, r := range rels {
		if _, ok := ids[r.SourceID]; !ok {
			continue
		}
		if _, ok := ids[r.TargetID]; !ok || r.SourceID == r.TargetID || !r.Type.Valid() {
			continue
		}
		k := r.Key()
		i, seen := best[k]
		if !seen {
			best[k] = len(out)
			out = append(out, r)
			continue
		}
		cur := out[i]
		if r.Confidence > cur.Confidence ||
			(r.Confidence == cur.Confidence && r.Origin == common.OriginModel && cur.Origin != common.OriginModel) {
			out[i] = r
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Evidence.Start != b.Evidence.Start {
			return a.Evidence.Start < b.Evidence.Start
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})
	return out
}

// ---------------------------------------------------------------------------
// Heuristic pass
// ---------------------------------------------------------------------------

var (
	phraseDelivered = []string{"delivered", "the", "opinion"}
	phraseOnBehalf  = []string{"on", "behalf", "of"}
	phraseCounsel   = []string{"counsel", "for"}
	phraseFiled     = []string{"filed"}
	deadlinePhrases = [][]string{{"no", "later", "than"}, {"deadline"}, {"due"}}
)

// anchor is an entity placed on the token grid.
type anchor struct {
	e     *common.Entity
	first int // first token touched
	last  int // last token touched
}

type scan struct {
	words   []string
	tokens  []common.Token
	anchors []anchor
	window  int
	conf    float64
}

// Discover runs the co-occurrence heuristics alone.
func (b *Builder) Discover(entities []common.Entity, text string) []common.Relationship {
	if len(entities) < 2 {
		return nil
	}
	s := &scan{tokens: common.Tokenize(text), window: b.cfg.Window, conf: b.cfg.Confidence}
	s.words = make([]string, len(s.tokens))
	for i, t := range s.tokens {
		s.words[i] = strings.ToLower(strings.TrimRight(t.Text, ".'"))
	}
	sorted := common.CloneEntities(entities)
	common.SortEntities(sorted)
	for i := range sorted {
		e := &sorted[i]
		first := common.TokenIndexAt(s.tokens, e.Span.Start)
		last := sort.Search(len(s.tokens), func(k int) bool { return s.tokens[k].Start >= e.Span.End }) - 1
		if last < first {
			last = first
		}
		s.anchors = append(s.anchors, anchor{e: e, first: first, last: last})
	}

	var out []common.Relationship
	out = append(out, s.decidedBy()...)
	out = append(out, s.represents()...)
	out = append(out, s.filedBy()...)
	out = append(out, s.cites()...)
	out = append(out, s.deadlines()...)
	return out
}

// find returns the token index of the first occurrence of phrase starting in
// [from, to], or -1.
func (s *scan) find(phrase []string, from, to int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i <= to && i+len(phrase) <= len(s.words); i++ {
		match := true
		for j, w := range phrase {
			if s.words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func (s *scan) ofType(t common.EntityType) []anchor {
	var out []anchor
	for _, a := range s.anchors {
		if a.e.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// firstAfter returns the first anchor of type t starting within [from, to].
func (s *scan) firstAfter(t common.EntityType, from, to int) (anchor, bool) {
	for _, a := range s.anchors {
		if a.e.Type == t && a.first >= from && a.first <= to {
			return a, true
		}
	}
	return anchor{}, false
}

// anyBetween reports whether an anchor of type t starts within [from, to).
func (s *scan) anyBetween(t common.EntityType, from, to int) bool {
	for _, a := range s.anchors {
		if a.e.Type == t && a.first >= from && a.first < to {
			return true
		}
	}
	return false
}

func (s *scan) rel(src, tgt *common.Entity, t common.RelationshipType, evidence common.Span, trigger string) common.Relationship {
	return common.Relationship{
		SourceID:   src.ID,
		TargetID:   tgt.ID,
		Type:       t,
		Confidence: s.conf,
		Evidence:   evidence,
		Attributes: map[string]string{AttrTrigger: trigger},
		Origin:     common.OriginHeuristic,
	}
}

func (s *scan) tokenEnd(i int) int { return s.tokens[i].End }

func cover(spans ...common.Span) common.Span {
	out := spans[0]
	for _, sp := range spans[1:] {
		if sp.Start < out.Start {
			out.Start = sp.Start
		}
		if sp.End > out.End {
			out.End = sp.End
		}
	}
	return out
}

func distance(a, b anchor) int {
	if a.last < b.first {
		return b.first - a.last
	}
	if b.last < a.first {
		return a.first - b.last
	}
	return 0
}

// decidedBy: a judge followed by "delivered the opinion" decided the
// nearest case citation.
func (s *scan) decidedBy() []common.Relationship {
	cases := s.ofType(common.EntityCaseCitation)
	if len(cases) == 0 {
		return nil
	}
	var out []common.Relationship
	for _, j := range s.ofType(common.EntityJudge) {
		at := s.find(phraseDelivered, j.last+1, j.last+s.window)
		if at < 0 {
			continue
		}
		nearest := cases[0]
		for _, c := range cases[1:] {
			if distance(j, c) < distance(j, nearest) {
				nearest = c
			}
		}
		end := s.tokenEnd(at + len(phraseDelivered) - 1)
		out = append(out, s.rel(nearest.e, j.e, common.RelDecidedBy,
			cover(j.e.Span, common.Span{Start: j.e.Span.Start, End: end}), "delivered the opinion"))
	}
	return out
}

// represents: "<attorney> on behalf of <party>" or "<attorney>, counsel for
// <party>".
func (s *scan) represents() []common.Relationship {
	var out []common.Relationship
	for _, a := range s.ofType(common.EntityAttorney) {
		for _, phrase := range [][]string{phraseOnBehalf, phraseCounsel} {
			at := s.find(phrase, a.last+1, a.last+s.window)
			if at < 0 {
				continue
			}
			p, ok := s.firstAfter(common.EntityParty, at+len(phrase), a.last+s.window)
			if !ok {
				continue
			}
			out = append(out, s.rel(a.e, p.e, common.RelRepresents,
				cover(a.e.Span, p.e.Span), strings.Join(phrase, " ")))
			break
		}
	}
	return out
}

// filedBy: "<party> filed <procedural document>" makes the document
// FILED_BY the party.
func (s *scan) filedBy() []common.Relationship {
	var out []common.Relationship
	for _, p := range s.ofType(common.EntityParty) {
		at := s.find(phraseFiled, p.last+1, p.last+s.window)
		if at < 0 || s.anyBetween(common.EntityParty, p.last+1, at) {
			continue
		}
		d, ok := s.firstAfter(common.EntityProceduralDocument, at+1, p.last+s.window)
		if !ok {
			continue
		}
		out = append(out, s.rel(d.e, p.e, common.RelFiledBy, cover(p.e.Span, d.e.Span), "filed"))
	}
	return out
}

// cites: citations that follow a case citation within the window are cited
// by it. Citations nested inside the case citation are skipped.
func (s *scan) cites() []common.Relationship {
	var out []common.Relationship
	for _, c := range s.ofType(common.EntityCaseCitation) {
		if c.e.Nested {
			continue
		}
		for _, o := range s.anchors {
			if o.e.ID == c.e.ID || !o.e.Type.IsCitation() || c.e.Span.Contains(o.e.Span) {
				continue
			}
			if o.first <= c.last || o.first > c.last+s.window {
				continue
			}
			out = append(out, s.rel(c.e, o.e, common.RelCites, cover(c.e.Span, o.e.Span), "proximity"))
		}
	}
	return out
}

// deadlines: a date preceded by a deadline phrase, with a procedural
// document in the window, is a deadline that document establishes.
func (s *scan) deadlines() []common.Relationship {
	var out []common.Relationship
	for _, d := range s.ofType(common.EntityDate) {
		trigger := ""
		for _, phrase := range deadlinePhrases {
			if s.find(phrase, d.first-s.window, d.first-len(phrase)) >= 0 {
				trigger = strings.Join(phrase, " ")
				break
			}
		}
		if trigger == "" {
			continue
		}
		var doc *anchor
		for i, a := range s.anchors {
			if a.e.Type != common.EntityProceduralDocument || distance(a, d) > s.window {
				continue
			}
			if doc == nil || distance(a, d) < distance(*doc, d) {
				doc = &s.anchors[i]
			}
		}
		if doc == nil {
			continue
		}
		out = append(out, s.rel(doc.e, d.e, common.RelEstablishesDeadline, cover(doc.e.Span, d.e.Span), trigger))
	}
	return out
}

//Personal.AI order the ending
