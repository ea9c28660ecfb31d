package opensearch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// fakeCluster answers the handful of endpoints the indexer uses.
type fakeCluster struct {
	mu        sync.Mutex
	indexed   map[string]EntityDocument
	exists    bool
	created   int
	rejectIDs map[string]bool
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/":
		_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
	case r.Method == http.MethodHead && r.URL.Path == "/"+DefaultEntityIndex:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/"+DefaultEntityIndex:
		f.exists = true
		f.created++
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.URL.Path == "/_bulk":
		f.bulk(w, r.Body)
	case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
		n := len(f.indexed)
		f.indexed = map[string]EntityDocument{}
		_ = json.NewEncoder(w).Encode(map[string]int{"deleted": n})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCluster) bulk(w http.ResponseWriter, body io.Reader) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	var items []map[string]any
	hasErr := false
	for sc.Scan() {
		var meta struct {
			Index struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		_ = json.Unmarshal(sc.Bytes(), &meta)
		if !sc.Scan() {
			break
		}
		var doc EntityDocument
		_ = json.Unmarshal(sc.Bytes(), &doc)
		id := meta.Index.ID
		if f.rejectIDs[id] {
			hasErr = true
			items = append(items, map[string]any{"index": map[string]any{
				"_id": id, "status": 400,
				"error": map[string]string{"type": "mapper_parsing_exception", "reason": "bad field"},
			}})
			continue
		}
		f.indexed[id] = doc
		items = append(items, map[string]any{"index": map[string]any{"_id": id, "status": 201}})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": hasErr, "items": items})
}

func newIndexer(t *testing.T, f *fakeCluster, cfg IndexerConfig) *EntityIndexer {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{Addresses: []string{srv.URL}, MaxRetries: 1, RequestTimeout: time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.True(t, c.IsHealthy())
	return NewEntityIndexer(c, cfg, nil)
}

func entities() []common.Entity {
	return []common.Entity{
		{ID: "e1", Type: common.EntityCaseCitation, Text: "347 U.S. 483", Confidence: 0.98, Provenance: common.ProvenanceRuleOnly, Span: common.Span{Start: 0, End: 12}},
		{ID: "e2", Type: common.EntityJudge, Text: "Warren", Confidence: 0.8, Provenance: common.ProvenanceRuleOnly, Span: common.Span{Start: 20, End: 26}},
		{ID: "e3", Type: common.EntityDate, Text: "May 17, 1954", Confidence: 0.9, Provenance: common.ProvenanceRulePlusModel, Span: common.Span{Start: 30, End: 42}},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := map[string]ClientConfig{
		"no addresses":    {},
		"negative retry":  {Addresses: []string{"http://x"}, MaxRetries: -1},
		"negative timout": {Addresses: []string{"http://x"}, RequestTimeout: -time.Second},
		"tls without ca":  {Addresses: []string{"http://x"}, TLSEnabled: true},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.IsCode(ValidateConfig(cfg), errors.ErrCodeValidation))
		})
	}
	assert.NoError(t, ValidateConfig(ClientConfig{Addresses: []string{"http://localhost:9200"}}))
}

func TestNewClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	_, err := NewClient(ClientConfig{Addresses: []string{addr}, MaxRetries: 1, RequestTimeout: 200 * time.Millisecond}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
}

func TestEntityIndexer_EnsureIndexIsIdempotent(t *testing.T) {
	f := &fakeCluster{indexed: map[string]EntityDocument{}}
	ix := newIndexer(t, f, IndexerConfig{})
	require.NoError(t, ix.EnsureIndex(context.Background()))
	require.NoError(t, ix.EnsureIndex(context.Background()))
	assert.Equal(t, 1, f.created)
}

func TestEntityIndexer_IndexEntities(t *testing.T) {
	f := &fakeCluster{indexed: map[string]EntityDocument{}}
	ix := newIndexer(t, f, IndexerConfig{BulkBatchSize: 2})

	res, err := ix.IndexEntities(context.Background(), "doc-1", "01HZX", common.ModeFull, entities())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Zero(t, res.Failed)

	require.Contains(t, f.indexed, "doc-1/e2")
	doc := f.indexed["doc-1/e2"]
	assert.Equal(t, "JUDGE", doc.Type)
	assert.Equal(t, "Full", doc.Mode)
	assert.Equal(t, 20, doc.SpanStart)

	n, err := ix.DeleteDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEntityIndexer_PartialFailure(t *testing.T) {
	f := &fakeCluster{indexed: map[string]EntityDocument{}, rejectIDs: map[string]bool{"doc-1/e3": true}}
	ix := newIndexer(t, f, IndexerConfig{})

	res, err := ix.IndexEntities(context.Background(), "doc-1", "01HZX", common.ModeFull, entities())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "doc-1/e3", res.Errors[0].DocID)
	assert.Equal(t, "mapper_parsing_exception", res.Errors[0].ErrorType)
}

func TestEntityIndexMapping(t *testing.T) {
	m := EntityIndexMapping(2, 1)
	props := m["mappings"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "keyword"}, props["type"])
	assert.Equal(t, 2, m["settings"].(map[string]any)["number_of_shards"])
}

//Personal.AI order the ending
