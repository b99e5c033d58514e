package saas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/specialistvlad/privacyflow/internal/record"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// render substitutes {name} placeholders with values from vars.
func render(tmpl string, vars map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok || v == nil {
			missing = append(missing, name)
			return m
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("no value for placeholder(s) %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// lookup walks a dotted path through nested JSON objects. An empty path
// returns v itself.
func lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		var obj map[string]any
		switch x := cur.(type) {
		case map[string]any:
			obj = x
		case record.Row:
			obj = x
		default:
			return nil, false
		}
		next, ok := obj[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// toRows turns a decoded JSON object or list of objects into rows.
func toRows(v any) ([]record.Row, error) {
	switch x := v.(type) {
	case map[string]any:
		return []record.Row{record.NormalizeRow(record.Row(x))}, nil
	case []any:
		out := make([]record.Row, 0, len(x))
		for i, item := range x {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("item %d is %T, not an object", i, item)
			}
			out = append(out, record.NormalizeRow(record.Row(obj)))
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected an object or a list of objects, got %T", v)
	}
}

// decodeBody parses a JSON response keeping numbers exact.
func decodeBody(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
