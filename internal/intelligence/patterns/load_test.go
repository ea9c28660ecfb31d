package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/testutil"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

func yamlSource(name, body string) Source {
	return FromBytes(name, FormatYAML, []byte(body))
}

func kinds(errs []LoadError) []LoadErrorKind {
	out := make([]LoadErrorKind, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Kind)
	}
	return out
}

func TestLoad_ValidCatalog(t *testing.T) {
	src := yamlSource("us.yaml", `
version: 1
jurisdiction: us
groups:
  citations:
    - id: case
      pattern: '(?P<volume>\d{1,4}) U\.S\. (?P<page>\d{1,5})'
      entity_type: case_citation
      confidence: 0.9
      attributes: {volume: volume, page: page}
      examples: ["see 347 U.S. 483"]
    - pattern: '\d{1,2} U\.S\.C\. § \d{1,5}'
      entity_type: STATUTE_CITATION
      confidence: 0.95
      jurisdiction: general
`)
	metrics := common.NewInMemoryExtractionMetrics()
	lib, errs := Load([]Source{src}, WithMetrics(metrics))
	require.Empty(t, errs)
	require.Equal(t, 2, lib.Len())
	assert.Equal(t, 1, metrics.PatternLoads)

	caseDef, ok := lib.Get("case")
	require.True(t, ok)
	assert.Equal(t, common.EntityCaseCitation, caseDef.EntityType)
	assert.Equal(t, "us", caseDef.Jurisdiction)
	assert.Equal(t, "citations", caseDef.Group)
	assert.Equal(t, "citations", caseDef.Category)
	assert.Equal(t, 0, caseDef.Priority)
	idx, ok := caseDef.AttributeIndex("page")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	statute, ok := lib.Get("citations.1")
	require.True(t, ok, "ids default to group.index")
	assert.Equal(t, JurisdictionGeneral, statute.Jurisdiction)
	assert.Equal(t, 1, statute.Priority)
}

func TestLoad_RejectsBadDefinitionsIndividually(t *testing.T) {
	src := yamlSource("mixed.yaml", `
version: 1
groups:
  g:
    - id: good
      pattern: 'good'
      entity_type: PARTY
      confidence: 0.5
    - id: no-confidence
      pattern: 'x'
      entity_type: PARTY
    - id: bad-confidence
      pattern: 'x'
      entity_type: PARTY
      confidence: 1.5
    - id: bad-type
      pattern: 'x'
      entity_type: SPACESHIP
      confidence: 0.5
    - id: bad-syntax
      pattern: '(unclosed'
      entity_type: PARTY
      confidence: 0.5
    - id: catastrophic
      pattern: '(a+)+b'
      entity_type: PARTY
      confidence: 0.5
    - id: bad-attribute
      pattern: '(?P<x>a)'
      entity_type: PARTY
      confidence: 0.5
      attributes: {name: y}
    - id: bad-example
      pattern: 'abc'
      entity_type: PARTY
      confidence: 0.5
      examples: ["xyz"]
    - id: good
      pattern: 'dup'
      entity_type: PARTY
      confidence: 0.5
    - id: typo
      patern: 'x'
      entity_type: PARTY
      confidence: 0.5
`)
	lib, errs := Load([]Source{src})
	require.Equal(t, 1, lib.Len())
	_, ok := lib.Get("good")
	assert.True(t, ok)

	assert.Equal(t, []LoadErrorKind{
		KindUnknownField,
		KindMissingField,
		KindConfidence,
		KindUnknownType,
		KindSyntax,
		KindComplexity,
		KindAttribute,
		KindSelfTest,
		KindDuplicate,
	}, kinds(errs))

	for _, e := range errs {
		e := e
		assert.True(t, errors.IsCode(&e, errors.ErrCodePatternLoad))
		assert.Equal(t, "mixed.yaml", e.Source)
	}
}

func TestLoad_VersionRequired(t *testing.T) {
	_, errs := Load([]Source{yamlSource("nov.yaml", "groups: {}\n")})
	require.Len(t, errs, 1)
	assert.Equal(t, KindVersion, errs[0].Kind)

	_, errs = Load([]Source{yamlSource("v2.yaml", "version: 2\ngroups: {}\n")})
	require.Len(t, errs, 1)
	assert.Equal(t, KindVersion, errs[0].Kind)
	assert.Contains(t, errs[0].Error(), "unsupported version 2")
}

func TestLoad_UnparseableSourceDoesNotBlockOthers(t *testing.T) {
	good := yamlSource("good.yaml", `
version: 1
groups:
  g:
    - {id: a, pattern: 'a', entity_type: PARTY, confidence: 0.5}
`)
	lib, errs := Load([]Source{yamlSource("broken.yaml", "version: [1"), good})
	require.Len(t, errs, 1)
	assert.Equal(t, KindParse, errs[0].Kind)
	assert.Equal(t, 1, lib.Len())
}

func TestLoad_PriorityFollowsRegistrationOrder(t *testing.T) {
	first := yamlSource("first.yaml", `
version: 1
groups:
  zeta:
    - {id: z0, pattern: 'z', entity_type: PARTY, confidence: 0.5}
  alpha:
    - {id: a0, pattern: 'a', entity_type: PARTY, confidence: 0.5}
    - {id: a1, pattern: 'b', entity_type: PARTY, confidence: 0.5}
`)
	second := FromBytes("second.toml", FormatTOML, []byte(`
version = 1

[[groups.b]]
id = "tb"
pattern = "tb"
entity_type = "PARTY"
confidence = 0.5

[[groups.a]]
id = "ta"
pattern = "ta"
entity_type = "PARTY"
confidence = 0.5
`))
	lib, errs := Load([]Source{first, second})
	require.Empty(t, errs)

	var ids []string
	for _, d := range lib.Patterns() {
		ids = append(ids, d.ID)
		assert.Equal(t, len(ids)-1, d.Priority)
	}
	// YAML keeps declared group order; TOML groups are sorted by name.
	assert.Equal(t, []string{"z0", "a0", "a1", "ta", "tb"}, ids)
}

func TestLoad_TOMLUnknownField(t *testing.T) {
	src := FromBytes("bad.toml", FormatTOML, []byte(`
version = 1

[[groups.g]]
pattern = "x"
entity_type = "PARTY"
confidence = 0.5
colour = "red"
`))
	lib, errs := Load([]Source{src})
	assert.Equal(t, 0, lib.Len())
	require.Len(t, errs, 1)
	assert.Equal(t, KindUnknownField, errs[0].Kind)
}

func TestLoad_ComplexityLimitsOption(t *testing.T) {
	src := yamlSource("r.yaml", `
version: 1
groups:
  g:
    - {id: r, pattern: '\d{1,50}', entity_type: DOCKET_NUMBER, confidence: 0.5}
`)
	lib, errs := Load([]Source{src}, WithComplexityLimits(ComplexityLimits{MaxRepeat: 10}))
	assert.Equal(t, 0, lib.Len())
	require.Len(t, errs, 1)
	assert.Equal(t, KindComplexity, errs[0].Kind)
}

func TestLoad_LogsEachRejection(t *testing.T) {
	logger := testutil.NewMockLogger()
	src := yamlSource("mixed.yaml", `
version: 1
groups:
  g:
    - {id: ok, pattern: 'v\.', entity_type: PARTY, confidence: 0.5}
    - {id: bad, pattern: '(', entity_type: PARTY, confidence: 0.5}
`)
	_, errs := Load([]Source{src}, WithLogger(logger))
	require.Len(t, errs, 1)

	warns := logger.Filter(logging.LevelWarn)
	require.Len(t, warns, 1)
	assert.Equal(t, "pattern rejected", warns[0].Message)
	id, _ := warns[0].Field("pattern_id")
	assert.Equal(t, "bad", id)
	kind, _ := warns[0].Field("kind")
	assert.Equal(t, string(KindSyntax), kind)
	assert.True(t, logger.HasMessage(logging.LevelInfo, "pattern library loaded"))
}

func TestNewDefinition(t *testing.T) {
	d, err := NewDefinition("inline", common.EntityDate, `(?P<y>\d{4})`, 0.8,
		WithAttributes(map[string]string{"year": "y"}),
		WithJurisdiction("US"),
		WithExamples("1954"),
		WithSubtype("year_only"))
	require.NoError(t, err)
	assert.Equal(t, "us", d.Jurisdiction)
	assert.Equal(t, "year_only", d.Subtype)
	assert.True(t, d.AppliesTo("us"))
	assert.False(t, d.AppliesTo("uk"))
	assert.True(t, d.AppliesTo(""))
	assert.Equal(t, []string{"year"}, d.AttributeNames())

	_, err = NewDefinition("bad", common.EntityDate, `(`, 0.8)
	require.Error(t, err)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindSyntax, lerr.Kind)
}

//Personal.AI order the ending
