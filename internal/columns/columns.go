// Package columns normalizes the server's possibly-recursive column
// metadata into a flat display schema. The one load-bearing distinction is
// between a joined scalar field (flattened into a dotted path) and a
// nested child result set (kept as a single subquery column).
package columns

import (
	"sort"
	"strings"

	"github.com/queryworks/querypad/internal/source"
)

// Kind tags the column variant.
type Kind int

// Column variants.
const (
	// KindScalar is a plain field value, possibly reached through joins.
	KindScalar Kind = iota

	// KindAggregate is the value of an aggregate expression.
	KindAggregate

	// KindSubquery represents an entire nested child result set; the cell
	// value is a list of records, not a scalar.
	KindSubquery
)

// Column is one display column. Path is the identity key and is unique
// within a result's column set by construction; Title is display-only and
// may collide after flattening.
type Column struct {
	Title string
	Path  string
	Kind  Kind

	// Children describes the nested result's own columns. Present only on
	// KindSubquery columns, preserved from the raw metadata unflattened.
	Children []Column
}

// IsAggregate reports whether the column is an aggregate expression.
func (c Column) IsAggregate() bool { return c.Kind == KindAggregate }

// IsSubquery reports whether the column is a nested child result set.
func (c Column) IsSubquery() bool { return c.Kind == KindSubquery }

// Normalize converts raw column descriptors into a flat display schema.
// When the server returned no column metadata, columns are derived from the
// key set of the sample row (the first fetched record), excluding the
// bookkeeping envelope key. Key order of a derived schema is sorted: the
// source mapping carries no order.
func Normalize(raw []source.RawColumn, sample source.Row) []Column {
	if len(raw) > 0 {
		return flatten(raw, "")
	}
	if len(sample) == 0 {
		return nil
	}

	keys := make([]string, 0, len(sample))
	for k := range sample {
		if k == source.AttributesKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]Column, 0, len(keys))
	for _, k := range keys {
		cols = append(cols, Column{Title: k, Path: k, Kind: KindScalar})
	}
	return cols
}

func flatten(raw []source.RawColumn, prefix string) []Column {
	var out []Column
	for _, rc := range raw {
		path := prefix + rc.Name
		switch {
		case len(rc.Children) > 0 && rc.Aggregate:
			// Child relationship: one column for the whole nested result
			// set, children kept verbatim.
			out = append(out, Column{
				Title:    path,
				Path:     path,
				Kind:     KindSubquery,
				Children: verbatim(rc.Children),
			})
		case len(rc.Children) > 0:
			// Parent join: recurse, prefixing with the relationship name.
			out = append(out, flatten(rc.Children, path+".")...)
		case rc.Aggregate:
			out = append(out, Column{Title: path, Path: path, Kind: KindAggregate})
		default:
			out = append(out, Column{Title: path, Path: path, Kind: KindScalar})
		}
	}
	return out
}

// verbatim converts raw children without flattening or prefixing.
func verbatim(raw []source.RawColumn) []Column {
	out := make([]Column, 0, len(raw))
	for _, rc := range raw {
		col := Column{Title: rc.Name, Path: rc.Name, Kind: KindScalar}
		if rc.Aggregate {
			col.Kind = KindAggregate
		}
		if len(rc.Children) > 0 {
			col.Children = verbatim(rc.Children)
		}
		out = append(out, col)
	}
	return out
}

// HasIdentifier reports whether the column set contains a primary
// identifier column.
func HasIdentifier(cols []Column) bool {
	for _, c := range cols {
		if c.Kind == KindScalar && strings.EqualFold(c.Path, "id") {
			return true
		}
	}
	return false
}

// HasAggregate reports whether any column is an aggregate expression.
func HasAggregate(cols []Column) bool {
	for _, c := range cols {
		if c.IsAggregate() {
			return true
		}
	}
	return false
}
