package record

import (
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// Merge combines upstream groups into a single Input. The second return
// value is the source of the first group that left the input empty, or the
// zero address when the input is not empty.
func Merge(groups ...Group) (Input, nodeid.Address) {
	if len(groups) == 0 {
		return Input{}, nodeid.Address{}
	}

	merged := concatSameFields(groups)
	for _, g := range merged {
		if len(g.Tuples) == 0 {
			return Input{}, g.Source
		}
	}

	var fields []string
	for _, g := range merged {
		for _, f := range g.Fields {
			if !slices.Contains(fields, f) {
				fields = append(fields, f)
			}
		}
	}

	in := Input{Fields: fields}
	seen := make(map[string]struct{})
	product(merged, 0, make(map[string]any, len(fields)), func(values map[string]any) {
		tuple := make([]any, len(fields))
		for i, f := range fields {
			tuple[i] = values[f]
		}
		k := key(tuple)
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		in.Tuples = append(in.Tuples, tuple)
	})

	if in.Empty() {
		return Input{}, merged[0].Source
	}
	return in, nodeid.Address{}
}

// concatSameFields folds groups that feed identical field lists into the
// first such group, preserving group order and tuple order.
func concatSameFields(groups []Group) []Group {
	var out []Group
	index := make(map[string]int)
	for _, g := range groups {
		sig := strings.Join(g.Fields, "\x00")
		i, ok := index[sig]
		if !ok {
			index[sig] = len(out)
			out = append(out, Group{Source: g.Source, Fields: g.Fields, Tuples: slices.Clone(g.Tuples)})
			continue
		}
		seen := make(map[string]struct{}, len(out[i].Tuples))
		for _, t := range out[i].Tuples {
			seen[key(t)] = struct{}{}
		}
		for _, t := range g.Tuples {
			if _, dup := seen[key(t)]; dup {
				continue
			}
			seen[key(t)] = struct{}{}
			out[i].Tuples = append(out[i].Tuples, t)
		}
	}
	return out
}

// product walks the Cartesian product of the groups' tuples. Combinations
// that assign different values to a shared field are dropped.
func product(groups []Group, depth int, acc map[string]any, emit func(map[string]any)) {
	if depth == len(groups) {
		emit(acc)
		return
	}
	g := groups[depth]
next:
	for _, t := range g.Tuples {
		var assigned []string
		for i, f := range g.Fields {
			if prev, ok := acc[f]; ok {
				if key([]any{prev}) != key([]any{t[i]}) {
					for _, a := range assigned {
						delete(acc, a)
					}
					continue next
				}
				continue
			}
			acc[f] = t[i]
			assigned = append(assigned, f)
		}
		product(groups, depth+1, acc, emit)
		for _, a := range assigned {
			delete(acc, a)
		}
	}
}

// key is the dedup key of a tuple of normalized values.
func key(tuple []any) string {
	var sb strings.Builder
	for i, v := range tuple {
		if i > 0 {
			sb.WriteByte(0)
		}
		fmt.Fprintf(&sb, "%T=%v", v, v)
	}
	return sb.String()
}
