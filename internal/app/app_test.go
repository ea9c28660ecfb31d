package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/application/extraction"
	"github.com/turtacn/LexExtract-Intelligence/internal/config"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

const shippedPatterns = "../../configs/patterns"

func testConfig(dirs ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Patterns.Dirs = dirs
	config.ApplyDefaults(cfg)
	return cfg
}

func names(a *App) []string {
	var out []string
	for _, c := range a.Checkers() {
		out = append(out, c.Name())
	}
	return out
}

func TestBuild_RulesOnly(t *testing.T) {
	a, err := Build(context.Background(), testConfig(shippedPatterns), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(context.Background()))
	ready, m := a.Ready()
	assert.True(t, ready)
	assert.Equal(t, common.ModeRulesOnly, m)
	assert.Nil(t, a.Controller)
	assert.Equal(t, []string{"patterns"}, names(a))

	res, err := a.Service.Extract(context.Background(), &extraction.Request{Text: "Decided May 17, 1954."})
	require.NoError(t, err)
	require.NotEmpty(t, res.Entities)
	assert.Equal(t, common.EntityDate, res.Entities[0].Type)
	assert.Equal(t, common.ModeRulesOnly, a.Service.Mode().Mode)
}

func TestBuild_EmptyLibraryFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"),
		[]byte("version: 1\ngroups:\n  g:\n    - {id: x, pattern: '(', entity_type: DATE, confidence: 0.5}\n"), 0o644))

	a, err := Build(context.Background(), testConfig(dir), nil)
	assert.Nil(t, a)
	assert.True(t, errors.IsCode(err, errors.ErrCodePatternLoad))
}

func TestBuild_BackendAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/health" {
			_, _ = w.Write([]byte(`{"status":"ok","structured_output":true}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer model.Close()

	cfg := testConfig(shippedPatterns)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Backend.Enabled = true
	cfg.Backend.BaseURL = model.URL
	cfg.Backend.Cache = true
	require.NoError(t, cfg.Validate())

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Redis)
	assert.ElementsMatch(t, []string{"patterns", "redis"}, names(a))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	_, m := a.Ready()
	assert.Equal(t, common.ModeFull, m)
	assert.Equal(t, common.ModeFull, a.Service.Mode().Mode)
}

func TestBuild_UnreachableRedisClosesEverything(t *testing.T) {
	cfg := testConfig(shippedPatterns)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	a, err := Build(context.Background(), cfg, nil)
	assert.Nil(t, a)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCacheError))
}

//Personal.AI order the ending
