// Package reconcile resolves overlapping candidates into a non-contradictory
// entity set.
//
// Candidates are ranked by a strict total order:
//
//  1. higher confidence
//  2. longer span
//  3. lower priority index (earlier registration)
//  4. lexicographically smaller text
//  5. smaller start offset
//
// and accepted greedily. A candidate is accepted when, against every entity
// accepted so far, it is either disjoint or in strict containment with an
// entity of a different type. Contained entities are kept and flagged as
// nested under their smallest container.
package reconcile

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// entityNamespace seeds the UUIDv5 entity identifiers.
var entityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://lexextract.io/ns/entity"))

// EntityID derives a stable identifier from type, span and matched text.
func EntityID(t common.EntityType, span common.Span, text string) string {
	key := string(t) + "|" + strconv.Itoa(span.Start) + "|" + strconv.Itoa(span.End) + "|" + text
	return uuid.NewSHA1(entityNamespace, []byte(key)).String()
}

// Less reports whether a ranks ahead of b.
func Less(a, b *common.Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if la, lb := a.Span.Len(), b.Span.Len(); la != lb {
		return la > lb
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Text != b.Text {
		return a.Text < b.Text
	}
	if a.Span.Start != b.Span.Start {
		return a.Span.Start < b.Span.Start
	}
	if a.EntityType != b.EntityType {
		return a.EntityType < b.EntityType
	}
	return a.PatternID < b.PatternID
}

// compatible reports whether c may coexist with an accepted candidate.
func compatible(c, accepted *common.Candidate) bool {
	if !c.Span.Overlaps(accepted.Span) {
		return true
	}
	if c.EntityType == accepted.EntityType {
		return false
	}
	return c.Span.StrictlyContains(accepted.Span) || accepted.Span.StrictlyContains(c.Span)
}

// Reconcile selects the winning candidates and converts them into rule-only
// entities sorted by position. Each overlap group is resolved on its own by
// accepting candidates in total order while they stay compatible with those
// already accepted. The input slice is not modified.
func Reconcile(cands []common.Candidate) []common.Entity {
	valid := make([]common.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Span.Valid() {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	var entities []common.Entity
	for _, group := range Groups(valid) {
		accepted := make([]*common.Candidate, 0, len(group))
		for i := range group {
			c := &group[i]
			ok := true
			for _, a := range accepted {
				if !compatible(c, a) {
					ok = false
					break
				}
			}
			if ok {
				accepted = append(accepted, c)
			}
		}
		for _, c := range accepted {
			entities = append(entities, toEntity(c))
		}
	}
	markNested(entities)
	common.SortEntities(entities)
	return entities
}

func toEntity(c *common.Candidate) common.Entity {
	e := common.Entity{
		ID:           EntityID(c.EntityType, c.Span, c.Text),
		Type:         c.EntityType,
		Subtype:      c.Subtype,
		Text:         common.Canonicalize(c.Text),
		OriginalText: c.Text,
		Span:         c.Span,
		Confidence:   c.Confidence,
		Provenance:   common.ProvenanceRuleOnly,
		PatternID:    c.PatternID,
		Jurisdiction: c.Jurisdiction,
	}
	if len(c.Attributes) > 0 {
		e.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			e.Attributes[k] = v
		}
	}
	return e
}

// markNested flags every entity strictly inside another with the id of its
// smallest container.
func markNested(es []common.Entity) {
	for i := range es {
		best := -1
		for j := range es {
			if i == j || !es[j].Span.StrictlyContains(es[i].Span) {
				continue
			}
			if best < 0 || es[j].Span.Len() < es[best].Span.Len() ||
				(es[j].Span.Len() == es[best].Span.Len() && es[j].ID < es[best].ID) {
				best = j
			}
		}
		if best >= 0 {
			es[i].Nested = true
			es[i].ContainerID = es[best].ID
		}
	}
}

// Groups partitions candidates into connected overlap groups, each sorted by
// the total order. Touching spans fall into different groups.
func Groups(cands []common.Candidate) [][]common.Candidate {
	if len(cands) == 0 {
		return nil
	}
	byStart := append([]common.Candidate(nil), cands...)
	sort.SliceStable(byStart, func(i, j int) bool {
		if byStart[i].Span.Start != byStart[j].Span.Start {
			return byStart[i].Span.Start < byStart[j].Span.Start
		}
		return byStart[i].Span.End < byStart[j].Span.End
	})

	var (
		groups [][]common.Candidate
		cur    []common.Candidate
		curEnd int
	)
	for _, c := range byStart {
		if len(cur) > 0 && c.Span.Start >= curEnd {
			groups = append(groups, cur)
			cur = nil
		}
		if len(cur) == 0 || c.Span.End > curEnd {
			curEnd = c.Span.End
		}
		cur = append(cur, c)
	}
	groups = append(groups, cur)

	for _, g := range groups {
		g := g
		sort.SliceStable(g, func(i, j int) bool { return Less(&g[i], &g[j]) })
	}
	return groups
}

//Personal.AI order the ending
