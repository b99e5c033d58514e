package record

import (
	"slices"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// Row is a single record returned by a connector.
type Row map[string]any

// Project returns a copy of the row restricted to the given fields. A nil
// field list keeps every field.
func (r Row) Project(fields []string) Row {
	if fields == nil {
		return r.Clone()
	}
	out := make(Row, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Input is the set of lookup values a node queries with. Every tuple is
// aligned with Fields; a record matches a tuple when each field equals the
// tuple's value. A record matches the input when it matches any tuple.
type Input struct {
	Fields []string
	Tuples [][]any
}

// Empty reports whether the input holds no tuples.
func (in Input) Empty() bool {
	return len(in.Tuples) == 0
}

// Values returns the distinct values of one field in first-seen order.
func (in Input) Values(field string) []any {
	idx := slices.Index(in.Fields, field)
	if idx < 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in.Tuples))
	var out []any
	for _, t := range in.Tuples {
		k := key([]any{t[idx]})
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t[idx])
	}
	return out
}

// Maps returns each tuple as a field-to-value map.
func (in Input) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(in.Tuples))
	for _, t := range in.Tuples {
		m := make(map[string]any, len(in.Fields))
		for i, f := range in.Fields {
			m[f] = t[i]
		}
		out = append(out, m)
	}
	return out
}

// Single builds a one-field input.
func Single(field string, values ...any) Input {
	in := Input{Fields: []string{field}}
	for _, v := range values {
		in.Tuples = append(in.Tuples, []any{v})
	}
	return in
}

// Group is the set of correlated tuples one upstream node supplies.
type Group struct {
	Source nodeid.Address
	Fields []string
	Tuples [][]any
}

// Mapping connects an upstream field to the node field it feeds.
type Mapping struct {
	FromField string
	ToField   string
	// Identity is the identity tag of the node field, used for normalization.
	Identity string
}

// GroupFromRows extracts the tuples one upstream node supplies through the
// given mappings. Rows missing any mapped value are dropped.
func GroupFromRows(source nodeid.Address, mappings []Mapping, rows []Row) Group {
	g := Group{Source: source, Fields: make([]string, 0, len(mappings))}
	for _, m := range mappings {
		g.Fields = append(g.Fields, m.ToField)
	}

	seen := make(map[string]struct{}, len(rows))
rows:
	for _, row := range rows {
		tuple := make([]any, 0, len(mappings))
		for _, m := range mappings {
			v, ok := row[m.FromField]
			if !ok || v == nil {
				continue rows
			}
			tuple = append(tuple, Normalize(m.ToField, m.Identity, v))
		}
		k := key(tuple)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		g.Tuples = append(g.Tuples, tuple)
	}
	return g
}
