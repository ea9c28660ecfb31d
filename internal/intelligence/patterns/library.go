package patterns

import (
	"sort"
	"strings"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// Stats summarises a load.
type Stats struct {
	Patterns       int            `json:"patterns"`
	Rejected       int            `json:"rejected"`
	Sources        int            `json:"sources"`
	ByJurisdiction map[string]int `json:"by_jurisdiction"`
	ByEntityType   map[string]int `json:"by_entity_type"`
	LoadDuration   time.Duration  `json:"load_duration"`
	LoadedAt       time.Time      `json:"loaded_at"`
}

// Library is an immutable set of compiled definitions in priority order.
// All methods are safe for concurrent use without locking.
type Library struct {
	patterns       []*Definition
	byID           map[string]*Definition
	byJurisdiction map[string][]*Definition
	byType         map[common.EntityType][]*Definition
	stats          Stats
}

// NewLibrary builds a library from already compiled definitions, assigning
// priority indices in argument order. Used for inline libraries in tests and
// tools; catalog files go through Load.
func NewLibrary(defs ...*Definition) *Library {
	out := make([]*Definition, 0, len(defs))
	for i, d := range defs {
		cp := *d
		cp.Priority = i
		out = append(out, &cp)
	}
	return buildLibrary(out, 0, 0, 0)
}

func buildLibrary(defs []*Definition, sources, rejected int, took time.Duration) *Library {
	lib := &Library{
		patterns:       defs,
		byID:           make(map[string]*Definition, len(defs)),
		byJurisdiction: make(map[string][]*Definition),
		byType:         make(map[common.EntityType][]*Definition),
		stats: Stats{
			Patterns:       len(defs),
			Rejected:       rejected,
			Sources:        sources,
			ByJurisdiction: make(map[string]int),
			ByEntityType:   make(map[string]int),
			LoadDuration:   took,
			LoadedAt:       time.Now().UTC(),
		},
	}
	for _, d := range defs {
		lib.byID[d.ID] = d
		lib.byJurisdiction[d.Jurisdiction] = append(lib.byJurisdiction[d.Jurisdiction], d)
		lib.byType[d.EntityType] = append(lib.byType[d.EntityType], d)
		lib.stats.ByJurisdiction[d.Jurisdiction]++
		lib.stats.ByEntityType[string(d.EntityType)]++
	}
	return lib
}

// Len returns the number of loaded definitions.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.patterns)
}

// Patterns returns every definition in priority order.
func (l *Library) Patterns() []*Definition {
	if l == nil {
		return nil
	}
	return append([]*Definition(nil), l.patterns...)
}

// Get looks up a definition by id.
func (l *Library) Get(id string) (*Definition, bool) {
	if l == nil {
		return nil, false
	}
	d, ok := l.byID[id]
	return d, ok
}

// Select returns the definitions that run for a jurisdiction hint, in
// priority order: those tagged with the hint plus every general pattern. An
// empty hint selects all definitions.
func (l *Library) Select(hint string) []*Definition {
	if l == nil {
		return nil
	}
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return l.Patterns()
	}
	out := make([]*Definition, 0, len(l.byJurisdiction[hint])+len(l.byJurisdiction[JurisdictionGeneral]))
	for _, d := range l.patterns {
		if d.AppliesTo(hint) {
			out = append(out, d)
		}
	}
	return out
}

// ByJurisdiction returns only the definitions tagged with j (general patterns
// are not included).
func (l *Library) ByJurisdiction(j string) []*Definition {
	if l == nil {
		return nil
	}
	return append([]*Definition(nil), l.byJurisdiction[strings.ToLower(j)]...)
}

// ByEntityType returns the definitions producing t.
func (l *Library) ByEntityType(t common.EntityType) []*Definition {
	if l == nil {
		return nil
	}
	return append([]*Definition(nil), l.byType[t]...)
}

// Jurisdictions lists the jurisdiction tags present, sorted.
func (l *Library) Jurisdictions() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.byJurisdiction))
	for j := range l.byJurisdiction {
		out = append(out, j)
	}
	sort.Strings(out)
	return out
}

// Stats returns a copy of the load statistics.
func (l *Library) Stats() Stats {
	if l == nil {
		return Stats{ByJurisdiction: map[string]int{}, ByEntityType: map[string]int{}}
	}
	s := l.stats
	s.ByJurisdiction = make(map[string]int, len(l.stats.ByJurisdiction))
	for k, v := range l.stats.ByJurisdiction {
		s.ByJurisdiction[k] = v
	}
	s.ByEntityType = make(map[string]int, len(l.stats.ByEntityType))
	for k, v := range l.stats.ByEntityType {
		s.ByEntityType[k] = v
	}
	return s
}

//Personal.AI order the ending
