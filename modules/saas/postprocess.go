package saas

import (
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/saasconfig"
)

// PostProcessor reshapes the records extracted from a response. vars holds
// the lookup tuple of the request.
type PostProcessor interface {
	Process(rows []record.Row, vars map[string]any) ([]record.Row, error)
}

// Unwrap replaces each record by the object or objects found at DataPath.
// Records without the path are dropped.
type Unwrap struct {
	DataPath string
}

func (u Unwrap) Process(rows []record.Row, _ map[string]any) ([]record.Row, error) {
	var out []record.Row
	for _, row := range rows {
		v, ok := lookup(map[string]any(row), u.DataPath)
		if !ok || v == nil {
			continue
		}
		nested, err := toRows(v)
		if err != nil {
			return nil, fmt.Errorf("unwrap %q: %w", u.DataPath, err)
		}
		out = append(out, nested...)
	}
	return out, nil
}

// Filter keeps the records whose Field equals Value after normalization.
type Filter struct {
	Field string
	Value string
}

func (f Filter) Process(rows []record.Row, vars map[string]any) ([]record.Row, error) {
	want, err := render(f.Value, vars)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", f.Field, err)
	}
	wantNorm := record.Normalize(f.Field, "", want)
	out := rows[:0:0]
	for _, row := range rows {
		v, ok := row[f.Field]
		if !ok || v == nil {
			continue
		}
		if fmt.Sprint(record.Normalize(f.Field, "", v)) == fmt.Sprint(wantNorm) {
			out = append(out, row)
		}
	}
	return out, nil
}

// NewPostProcessors builds the chain of a request config, in order.
func NewPostProcessors(cfgs []saasconfig.Postprocessor) []PostProcessor {
	out := make([]PostProcessor, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Type {
		case saasconfig.PostUnwrap:
			out = append(out, Unwrap{DataPath: c.DataPath})
		case saasconfig.PostFilter:
			out = append(out, Filter{Field: c.Field, Value: c.Value})
		}
	}
	return out
}
