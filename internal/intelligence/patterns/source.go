package patterns

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// CatalogVersion is the only catalog schema version this package accepts.
const CatalogVersion = 1

// Format is the serialization of a catalog source.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	}
	return "", false
}

// Source is one catalog document awaiting Load.
type Source struct {
	Name   string
	Format Format
	Data   []byte
}

// FromBytes wraps an in-memory catalog.
func FromBytes(name string, format Format, data []byte) Source {
	return Source{Name: name, Format: format, Data: data}
}

// FromFile reads a single catalog file.
func FromFile(path string) (Source, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return Source{}, fmt.Errorf("patterns: unsupported catalog extension %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("patterns: read %s: %w", path, err)
	}
	return Source{Name: path, Format: format, Data: data}, nil
}

// FromDir reads every catalog file directly under dir, sorted by file name so
// priority indices are stable across runs.
func FromDir(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("patterns: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatFromPath(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Source, 0, len(names))
	for _, name := range names {
		src, err := FromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// FromPaths expands a mix of files and directories into sources.
func FromPaths(paths ...string) ([]Source, error) {
	var out []Source
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("patterns: stat %s: %w", p, err)
		}
		if info.IsDir() {
			srcs, err := FromDir(p)
			if err != nil {
				return nil, err
			}
			out = append(out, srcs...)
			continue
		}
		src, err := FromFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// ObjectStore is the subset of an object storage client needed to fetch
// remote catalogs.
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// FromObjectStore fetches every catalog object under prefix, sorted by key.
func FromObjectStore(ctx context.Context, store ObjectStore, prefix string) ([]Source, error) {
	keys, err := store.ListKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("patterns: list %q: %w", prefix, err)
	}
	sort.Strings(keys)

	var out []Source
	for _, key := range keys {
		format, ok := FormatFromPath(key)
		if !ok {
			continue
		}
		data, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("patterns: get %q: %w", key, err)
		}
		out = append(out, Source{Name: key, Format: format, Data: data})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

type rawGroup struct {
	name    string
	entries []rawEntry
}

type rawCatalog struct {
	jurisdiction string
	groups       []rawGroup
}

// parseSource decodes a source into ordered groups. A nil catalog means the
// whole source was rejected.
func parseSource(src Source) (*rawCatalog, []LoadError) {
	switch src.Format {
	case FormatYAML:
		return parseYAML(src)
	case FormatTOML:
		return parseTOML(src)
	}
	return nil, []LoadError{sourceError(src, KindParse, "unsupported format %q", src.Format)}
}

func sourceError(src Source, kind LoadErrorKind, format string, args ...interface{}) LoadError {
	return LoadError{Source: src.Name, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func parseYAML(src Source) (*rawCatalog, []LoadError) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src.Data, &doc); err != nil {
		return nil, []LoadError{sourceError(src, KindParse, "%v", err)}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, []LoadError{sourceError(src, KindParse, "catalog must be a mapping")}
	}
	root := doc.Content[0]

	var (
		errs    []LoadError
		version int
		hasVer  bool
		cat     = &rawCatalog{}
		groupsN *yaml.Node
	)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		switch key {
		case "version":
			if err := val.Decode(&version); err != nil {
				return nil, []LoadError{sourceError(src, KindVersion, "version: %v", err)}
			}
			hasVer = true
		case "jurisdiction":
			cat.jurisdiction = strings.ToLower(strings.TrimSpace(val.Value))
		case "groups":
			groupsN = val
		default:
			errs = append(errs, sourceError(src, KindUnknownField, "unknown top-level key %q (line %d)", key, root.Content[i].Line))
		}
	}
	if !hasVer {
		return nil, append(errs, sourceError(src, KindVersion, "missing version"))
	}
	if version != CatalogVersion {
		return nil, append(errs, sourceError(src, KindVersion, "unsupported version %d", version))
	}
	if groupsN == nil {
		return cat, errs
	}
	if groupsN.Kind != yaml.MappingNode {
		return nil, append(errs, sourceError(src, KindParse, "groups must be a mapping (line %d)", groupsN.Line))
	}

	for i := 0; i+1 < len(groupsN.Content); i += 2 {
		name, list := groupsN.Content[i].Value, groupsN.Content[i+1]
		g := rawGroup{name: name}
		if list.Kind != yaml.SequenceNode {
			errs = append(errs, LoadError{Source: src.Name, Group: name, Kind: KindParse,
				Message: fmt.Sprintf("group must be a list (line %d)", list.Line)})
			continue
		}
		for idx, node := range list.Content {
			ctx := entryContext{source: src.Name, group: name, index: idx}
			raw, lerr := decodeYAMLEntry(node, ctx)
			if lerr != nil {
				errs = append(errs, *lerr)
				continue
			}
			g.entries = append(g.entries, raw)
		}
		cat.groups = append(cat.groups, g)
	}
	return cat, errs
}

func decodeYAMLEntry(node *yaml.Node, ctx entryContext) (rawEntry, *LoadError) {
	if node.Kind != yaml.MappingNode {
		return rawEntry{}, newLoadError(ctx, ctx.defaultID(), KindParse, "entry must be a mapping (line %d)", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if _, ok := rawEntryFields[node.Content[i].Value]; !ok {
			return rawEntry{}, newLoadError(ctx, ctx.defaultID(), KindUnknownField,
				"unknown field %q (line %d)", node.Content[i].Value, node.Content[i].Line)
		}
	}
	var raw rawEntry
	if err := node.Decode(&raw); err != nil {
		return rawEntry{}, newLoadError(ctx, ctx.defaultID(), KindParse, "%v", err)
	}
	raw.index = ctx.index
	return raw, nil
}

type tomlCatalog struct {
	Version      int                   `toml:"version"`
	Jurisdiction string                `toml:"jurisdiction"`
	Groups       map[string][]rawEntry `toml:"groups"`
}

// parseTOML decodes a TOML catalog. TOML tables carry no reliable order, so
// groups are registered in name order.
func parseTOML(src Source) (*rawCatalog, []LoadError) {
	var tc tomlCatalog
	dec := toml.NewDecoder(bytes.NewReader(src.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tc); err != nil {
		var strict *toml.StrictMissingError
		if stderrors.As(err, &strict) {
			return nil, []LoadError{sourceError(src, KindUnknownField, "%s", strings.TrimSpace(strict.String()))}
		}
		return nil, []LoadError{sourceError(src, KindParse, "%v", err)}
	}
	if tc.Version == 0 {
		return nil, []LoadError{sourceError(src, KindVersion, "missing version")}
	}
	if tc.Version != CatalogVersion {
		return nil, []LoadError{sourceError(src, KindVersion, "unsupported version %d", tc.Version)}
	}

	names := make([]string, 0, len(tc.Groups))
	for name := range tc.Groups {
		names = append(names, name)
	}
	sort.Strings(names)

	cat := &rawCatalog{jurisdiction: strings.ToLower(strings.TrimSpace(tc.Jurisdiction))}
	for _, name := range names {
		g := rawGroup{name: name}
		for idx, raw := range tc.Groups[name] {
			raw.index = idx
			g.entries = append(g.entries, raw)
		}
		cat.groups = append(cat.groups, g)
	}
	return cat, nil
}

//Personal.AI order the ending
