package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/application/extraction"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/middleware"
)

const brown = "Brown v. Board of Education, 347 U.S. 483 (1954)"

func newTestRouter(t *testing.T) (http.Handler, prometheus.MetricsCollector) {
	t.Helper()
	d, err := patterns.NewDefinition("us.case.official_reporter", common.EntityCaseCitation,
		`[A-Z][A-Za-z.']* v\. [A-Z][A-Za-z.' ]*?, \d{1,4} U\.S\. \d{1,5} \(\d{4}\)`, 0.98,
		patterns.WithJurisdiction("us"))
	require.NoError(t, err)
	lib := patterns.NewHolder(patterns.NewLibrary(d))
	svc := extraction.NewService(pipeline.New(lib, nil, pipeline.NewConfig()))

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "lexextract"}, nil)
	require.NoError(t, err)
	metrics := prometheus.NewServiceMetrics(collector)

	return NewRouter(RouterConfig{
		ExtractionHandler: handlers.NewExtractionHandler(svc, 0, nil),
		HealthHandler:     handlers.NewHealthHandler("test", svc.Mode, handlers.LibraryChecker(func() int { return lib.Library().Len() })),
		LoggingMiddleware: middleware.NewLoggingMiddleware(nil, metrics, middleware.DefaultLoggingConfig()),
		MetricsCollector:  collector,
	}), collector
}

func TestRouter_Extract(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/extract", strings.NewReader(`{"text":"`+brown+`"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res pipeline.ExtractionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Entities, 1)
	assert.Equal(t, common.EntityCaseCitation, res.Entities[0].Type)
	assert.Equal(t, common.ModeRulesOnly, res.Mode)
	assert.Len(t, res.RequestID, 26)
}

func TestRouter_ExtractRejectsEmptyText(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/extract", strings.NewReader(`{"text":"   "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "EXTRACT_001")
}

func TestRouter_Routes(t *testing.T) {
	router, _ := newTestRouter(t)
	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/healthz/detail", http.StatusOK},
		{http.MethodGet, "/api/v1/mode", http.StatusOK},
		{http.MethodGet, "/api/v1/patterns?jurisdiction=us", http.StatusOK},
		{http.MethodGet, "/api/v1/extract", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRouter_PatternsAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/patterns?entity_type=CASE_CITATION", nil))
	var stats extraction.PatternStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, "us.case.official_reporter", stats.Patterns[0].ID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lexextract_http_requests_total{method="GET",route="/api/v1/patterns",status_code="200"} 1`)
}

func TestRouter_NilHandlersNoPanic(t *testing.T) {
	router := NewRouter(RouterConfig{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mode", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Recoverer(t *testing.T) {
	svc := panicking{}
	router := NewRouter(RouterConfig{ExtractionHandler: handlers.NewExtractionHandler(svc, 0, nil)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mode", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type panicking struct{ handlers.ExtractionService }

func (panicking) Mode() mode.Snapshot { panic("boom") }

func TestServer_StartStop(t *testing.T) {
	router, _ := newTestRouter(t)
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, router, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, <-done)
}

//Personal.AI order the ending
