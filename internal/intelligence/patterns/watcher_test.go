package patterns

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcher_ReloadSwapsLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	writeCatalog(t, path, "version: 1\ngroups:\n  g:\n    - {id: one, pattern: 'one', entity_type: PARTY, confidence: 0.5}\n")

	h := NewHolder(nil)
	var reloads int
	w := NewWatcher(h, []string{dir}, OnReload(func(*Library, []LoadError) { reloads++ }))

	lib, errs, err := w.Reload()
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Same(t, lib, h.Library())
	_, ok := h.Library().Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, reloads)
}

func TestWatcher_ExtraSources(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, filepath.Join(dir, "p.yaml"), "version: 1\ngroups:\n  g:\n    - {id: one, pattern: 'one', entity_type: PARTY, confidence: 0.5}\n")

	remote := []byte("version: 1\ngroups:\n  r:\n    - {id: two, pattern: 'two', entity_type: PARTY, confidence: 0.5}\n")
	h := NewHolder(nil)
	w := NewWatcher(h, []string{dir}, WithExtraSources(func() ([]Source, error) {
		return []Source{FromBytes("remote/r.yaml", FormatYAML, remote)}, nil
	}))
	lib, _, err := w.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, lib.Len())
}

func TestWatcher_RejectsEmptyReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	writeCatalog(t, path, "version: 1\ngroups:\n  g:\n    - {id: one, pattern: 'one', entity_type: PARTY, confidence: 0.5}\n")

	h := NewHolder(nil)
	w := NewWatcher(h, []string{dir})
	_, _, err := w.Reload()
	require.NoError(t, err)
	before := h.Library()

	writeCatalog(t, path, "version: 1\ngroups:\n  g:\n    - {id: one, pattern: '(', entity_type: PARTY, confidence: 0.5}\n")
	_, errs, err := w.Reload()
	assert.ErrorIs(t, err, ErrEmptyReload)
	assert.Len(t, errs, 1)
	assert.Same(t, before, h.Library())
}

func TestWatcher_RunPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	writeCatalog(t, path, "version: 1\ngroups:\n  g:\n    - {id: one, pattern: 'one', entity_type: PARTY, confidence: 0.5}\n")

	h := NewHolder(nil)
	swapped := make(chan *Library, 4)
	w := NewWatcher(h, []string{dir},
		WithDebounce(20*time.Millisecond),
		OnReload(func(l *Library, _ []LoadError) { swapped <- l }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeCatalog(t, path, "version: 1\ngroups:\n  g:\n    - {id: two, pattern: 'two', entity_type: PARTY, confidence: 0.5}\n")

	select {
	case lib := <-swapped:
		_, ok := lib.Get("two")
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

//Personal.AI order the ending
