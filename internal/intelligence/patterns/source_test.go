package patterns

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFromPath(t *testing.T) {
	f, ok := FormatFromPath("a/b/us.YML")
	assert.True(t, ok)
	assert.Equal(t, FormatYAML, f)

	f, ok = FormatFromPath("uk.toml")
	assert.True(t, ok)
	assert.Equal(t, FormatTOML, f)

	_, ok = FormatFromPath("notes.txt")
	assert.False(t, ok)
}

func TestFromDir_SortedAndFiltered(t *testing.T) {
	srcs, err := FromDir("testdata/catalogs")
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, filepath.Join("testdata/catalogs", "10_us.yaml"), srcs[0].Name)
	assert.Equal(t, FormatYAML, srcs[0].Format)
	assert.Equal(t, FormatTOML, srcs[1].Format)

	lib, errs := Load(srcs)
	require.Empty(t, errs)
	assert.Equal(t, 4, lib.Len())
	assert.Equal(t, []string{"general", "us"}, lib.Jurisdictions())
}

func TestFromFile_UnsupportedExtension(t *testing.T) {
	_, err := FromFile("testdata/catalogs/README.txt")
	assert.Error(t, err)
}

func TestFromPaths_MixesFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	extra := filepath.Join(dir, "extra.yaml")
	require.NoError(t, os.WriteFile(extra, []byte("version: 1\n"), 0o644))

	srcs, err := FromPaths("testdata/catalogs", extra)
	require.NoError(t, err)
	assert.Len(t, srcs, 3)

	_, err = FromPaths(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

type memStore struct {
	objects map[string][]byte
	listErr error
}

func (m *memStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var keys []string
	for k := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return b, nil
}

func TestFromObjectStore(t *testing.T) {
	store := &memStore{objects: map[string][]byte{
		"patterns/b.toml": []byte("version = 1\n"),
		"patterns/a.yaml": []byte("version: 1\n"),
		"patterns/readme": []byte("ignored"),
		"other/c.yaml":    []byte("version: 1\n"),
	}}
	srcs, err := FromObjectStore(context.Background(), store, "patterns/")
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, "patterns/a.yaml", srcs[0].Name)
	assert.Equal(t, "patterns/b.toml", srcs[1].Name)

	store.listErr = fmt.Errorf("bucket gone")
	_, err = FromObjectStore(context.Background(), store, "patterns/")
	assert.ErrorContains(t, err, "bucket gone")
}

func TestShippedCatalogsLoadClean(t *testing.T) {
	srcs, err := FromDir("../../../configs/patterns")
	require.NoError(t, err)
	lib, errs := Load(srcs)
	for _, e := range errs {
		t.Errorf("unexpected load error: %v", &e)
	}
	assert.Greater(t, lib.Len(), 10)
	assert.Contains(t, lib.Jurisdictions(), "uk")
}

//Personal.AI order the ending
