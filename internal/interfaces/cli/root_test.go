package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/config"
	"github.com/turtacn/LexExtract-Intelligence/pkg/client"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

const shippedPatterns = "../../../configs/patterns"

// writeConfig writes a minimal config pointing at dir and returns its path.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "lexextract.yaml")
	body := "patterns:\n  dirs:\n    - " + abs + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "lexextract", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"extract", "patterns", "serve", "worker", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	pf := NewRootCommand().PersistentFlags()
	tests := []struct {
		name, shorthand, def string
	}{
		{"config", "c", ""},
		{"output", "o", "text"},
		{"verbose", "v", "false"},
		{"no-color", "", "false"},
		{"timeout", "", "1m0s"},
		{"server", "", ""},
		{"log-level", "", ""},
	}
	for _, tt := range tests {
		f := pf.Lookup(tt.name)
		require.NotNil(t, f, tt.name)
		assert.Equal(t, tt.shorthand, f.Shorthand, tt.name)
		assert.Equal(t, tt.def, f.DefValue, tt.name)
	}
}

func TestDaemonCommandsAreAnnotated(t *testing.T) {
	for _, c := range []string{"serve", "worker"} {
		sub, _, err := NewRootCommand().Find([]string{c})
		require.NoError(t, err)
		_, ok := sub.Annotations[daemonCommand]
		assert.True(t, ok, c)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := runCLI(t, "", "-o", "yaml", "version")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lexextract "+Version)
	assert.Contains(t, out, "go:")

	out, err = runCLI(t, "", "version", "-o", "json")
	require.NoError(t, err)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := runCLI(t, "", "--config", "/nonexistent/lexextract.yaml", "patterns", "check")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestPatternsCheck_Shipped(t *testing.T) {
	cfgPath := writeConfig(t, shippedPatterns)
	out, err := runCLI(t, "", "--config", cfgPath, "patterns", "check")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok:")
	assert.Contains(t, out, "0 rejected")
}

func TestPatternsCheck_Rejections(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(
		"version: 1\ngroups:\n  g:\n"+
			"    - {id: good, pattern: 'v\\.', entity_type: DATE, confidence: 0.5}\n"+
			"    - {id: broken, pattern: '(', entity_type: DATE, confidence: 0.5}\n"), 0o644))
	cfgPath := writeConfig(t, shippedPatterns)

	out, err := runCLI(t, "", "--config", cfgPath, "patterns", "check", dir)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodePatternLoad))
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "failed: 1 patterns")

	out, _ = runCLI(t, "", "--config", cfgPath, "-o", "json", "patterns", "check", dir)
	var report struct {
		Errors []struct {
			PatternID string `json:"pattern_id"`
			Kind      string `json:"kind"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "broken", report.Errors[0].PatternID)
	assert.Equal(t, "syntax", report.Errors[0].Kind)
}

func TestPatternsList_Local(t *testing.T) {
	cfgPath := writeConfig(t, shippedPatterns)
	out, err := runCLI(t, "", "--config", cfgPath, "-o", "json", "patterns", "list", "--entity-type", "DATE")
	require.NoError(t, err, out)

	var stats client.PatternStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.NotZero(t, stats.Total)
	assert.Equal(t, map[string]int{"DATE": stats.Total}, stats.ByEntityType)

	_, err = runCLI(t, "", "--config", cfgPath, "patterns", "list", "--entity-type", "NOPE")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestExtract_LocalFromStdin(t *testing.T) {
	cfgPath := writeConfig(t, shippedPatterns)
	out, err := runCLI(t, "Decided May 17, 1954.", "--config", cfgPath, "-o", "json", "extract", "-")
	require.NoError(t, err, out)

	var res client.ExtractionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "RulesOnly", res.Mode)
	require.NotEmpty(t, res.Entities)
	assert.Equal(t, "DATE", res.Entities[0].Type)
	assert.Equal(t, "May 17, 1954", res.Entities[0].Text)
}

func TestExtract_TableAndFile(t *testing.T) {
	cfgPath := writeConfig(t, shippedPatterns)
	doc := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Filed 03/15/2021."), 0o644))

	out, err := runCLI(t, "", "--config", cfgPath, "-o", "table", "extract", doc)
	require.NoError(t, err, out)
	assert.Contains(t, out, "DATE")
	assert.Contains(t, out, "03/15/2021")
}

func TestExtract_Errors(t *testing.T) {
	cfgPath := writeConfig(t, shippedPatterns)

	_, err := runCLI(t, "text", "--config", cfgPath, "extract", "--stages", "bogus")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = runCLI(t, "", "--config", cfgPath, "extract", "/nonexistent/doc.txt")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestWorker_RequiresKafka(t *testing.T) {
	cfgPath := writeConfig(t, shippedPatterns)
	_, err := runCLI(t, "", "--config", cfgPath, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.enabled")
}

func TestLocalConfigDisablesSinks(t *testing.T) {
	cfg := &config.Config{}
	cfg.Kafka.Enabled = true
	cfg.Neo4j.Enabled = true
	cfg.OpenSearch.Enabled = true
	cfg.MinIO.Enabled = true
	cfg.MinIO.ArchiveResults = true
	cfg.Patterns.Watch = true

	local := localConfig(cfg)
	assert.False(t, local.Kafka.Enabled)
	assert.False(t, local.Neo4j.Enabled)
	assert.False(t, local.OpenSearch.Enabled)
	assert.False(t, local.MinIO.ArchiveResults)
	assert.False(t, local.Patterns.Watch)
	assert.True(t, local.MinIO.Enabled, "minio may still serve catalogs")
	assert.True(t, cfg.Kafka.Enabled, "original untouched")
}

func TestFormatTable(t *testing.T) {
	assert.Empty(t, FormatTable(nil, nil))

	out := FormatTable([]string{"ID", "Type"}, [][]string{{"a", "DATE"}, {"b"}})
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "DATE")
	assert.Equal(t, 4, strings.Count(strings.TrimSpace(out), "\n")+1, out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "§§...", truncate("§§§§§§", 5))
}

func TestSwappableLimiter(t *testing.T) {
	l := newSwappableLimiter(config.ServerConfig{})
	defer l.Stop()
	assert.False(t, l.enabled())
	ok, _ := l.Allow("1.2.3.4")
	assert.True(t, ok)

	assert.True(t, l.update(config.ServerConfig{RateLimit: 1, RateBurst: 1}))
	assert.False(t, l.update(config.ServerConfig{RateLimit: 1, RateBurst: 1}), "unchanged settings")
	assert.True(t, l.enabled())

	ok, _ = l.Allow("1.2.3.4")
	assert.True(t, ok)
	ok, info := l.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 1, info.Limit)

	assert.True(t, l.update(config.ServerConfig{}))
	assert.False(t, l.enabled())
}

//Personal.AI order the ending
