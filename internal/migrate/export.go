package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Formats lists the supported encodings.
var Formats = []Format{FormatJSON, FormatYAML, FormatTOML}

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, yaml or toml)", s)
}

// Tree is a user's records nested by path segment below the user's root.
// Leaves are records.
type Tree map[string]any

// Collect walks every record under uid into a Tree. It returns the number of
// records read.
func Collect(ctx context.Context, w store.Walker, uid string) (Tree, int, error) {
	root := schema.UserRoot(uid)
	tree := Tree{}
	n := 0
	err := w.Walk(ctx, root, func(path string, rec store.Record) error {
		rel := strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
		if rel == "" {
			return nil
		}
		node := map[string]any(tree)
		segments := store.Split(rel)
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[seg] = child
			}
			node = child
		}
		leaf := make(map[string]any, len(rec))
		for k, v := range rec {
			if v != nil {
				leaf[k] = v
			}
		}
		node[segments[len(segments)-1]] = leaf
		n++
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", root, err)
	}
	return tree, n, nil
}

// Export writes every record under uid to out in the given format and returns
// the number of records written.
func Export(ctx context.Context, w store.Walker, uid string, format Format, out io.Writer) (int, error) {
	tree, n, err := Collect(ctx, w, uid)
	if err != nil {
		return 0, err
	}
	if err := Encode(tree, format, out); err != nil {
		return 0, err
	}
	return n, nil
}

// Encode writes tree to out.
func Encode(tree Tree, format Format, out io.Writer) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tree); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any(tree)); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.NewEncoder(out).Encode(map[string]any(tree)); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

// Decode reads a tree written by Encode.
func Decode(r io.Reader, format Format) (Tree, error) {
	tree := Tree{}
	var err error
	switch format {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&tree)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&tree)
	case FormatTOML:
		_, err = toml.NewDecoder(r).Decode(&tree)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	return tree, nil
}

// Restore writes every record of an exported tree back under uid, replacing
// records at the same paths. It returns the number of records written.
func Restore(ctx context.Context, st store.Store, uid string, r io.Reader, format Format, dryRun bool) (int, error) {
	tree, err := Decode(r, format)
	if err != nil {
		return 0, err
	}

	records := map[string]store.Record{}
	if err := flatten(schema.UserRoot(uid), tree, records); err != nil {
		return 0, err
	}
	paths := make([]string, 0, len(records))
	for p := range records {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if dryRun {
			continue
		}
		if err := st.Set(ctx, p, records[p]); err != nil {
			return 0, fmt.Errorf("failed to restore %s: %w", p, err)
		}
	}
	return len(paths), nil
}

// flatten turns nested maps back into path → record. A map whose values are
// all scalars is a record.
func flatten(prefix string, node map[string]any, out map[string]store.Record) error {
	for key, v := range node {
		path := store.Join(prefix, key)
		child, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected a table, got %T", path, v)
		}
		if isRecord(child) {
			rec := store.Record(child)
			if err := rec.Validate(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := store.ValidatePath(path); err != nil {
				return err
			}
			out[path] = rec
			continue
		}
		if err := flatten(path, child, out); err != nil {
			return err
		}
	}
	return nil
}

func isRecord(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for _, v := range m {
		if _, nested := v.(map[string]any); nested {
			return false
		}
	}
	return true
}
