package localexecutor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/record"
)

// expandSelfRefs follows references from a collection to itself: values of
// each SourceField in newly found rows are queried again through the
// InputField until no new value appears or the depth limit is reached.
func (e *Executor) expandSelfRefs(ctx context.Context, conn connector.Connector, tn *planner.TraversalNode, input record.Input, rows []record.Row) ([]record.Row, error) {
	if len(tn.SelfRefs) == 0 {
		return rows, nil
	}
	maxDepth := e.pass.Plan.MaxSelfRefDepth
	if maxDepth <= 0 {
		maxDepth = planner.DefaultMaxSelfRefDepth
	}

	seenRows := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seenRows[rowKey(r)] = struct{}{}
	}
	queried := make(map[string]map[string]struct{})
	for _, sr := range tn.SelfRefs {
		queried[sr.InputField] = make(map[string]struct{})
		for _, v := range input.Values(sr.InputField) {
			queried[sr.InputField][valueKey(v)] = struct{}{}
		}
	}

	frontier := rows
	for depth := 1; ; depth++ {
		lookups := make(map[string][]any)
		for _, sr := range tn.SelfRefs {
			for _, r := range frontier {
				v, ok := r[sr.SourceField]
				if !ok || v == nil {
					continue
				}
				v = record.Normalize(sr.InputField, "", v)
				k := valueKey(v)
				if _, done := queried[sr.InputField][k]; done {
					continue
				}
				queried[sr.InputField][k] = struct{}{}
				lookups[sr.InputField] = append(lookups[sr.InputField], v)
			}
		}
		if len(lookups) == 0 {
			return rows, nil
		}
		if depth > maxDepth {
			ctxlog.FromContext(ctx).Warn("Self-reference expansion truncated.", "max_depth", maxDepth, "pending_values", len(lookups))
			return rows, nil
		}

		var next []record.Row
		for _, sr := range tn.SelfRefs {
			values := lookups[sr.InputField]
			if len(values) == 0 {
				continue
			}
			var found []record.Row
			err := e.call(ctx, conn, tn, "query", func(ctx context.Context) error {
				var qerr error
				found, qerr = conn.Query(ctx, e.connectorNode(tn), record.Single(sr.InputField, values...))
				return qerr
			})
			if err != nil {
				return nil, err
			}
			for _, r := range found {
				k := rowKey(r)
				if _, dup := seenRows[k]; dup {
					continue
				}
				seenRows[k] = struct{}{}
				rows = append(rows, r)
				next = append(next, r)
			}
			// a field may be fed by several self references
			delete(lookups, sr.InputField)
		}
		frontier = next
	}
}

func valueKey(v any) string {
	return fmt.Sprintf("%T=%v", v, v)
}

func rowKey(r record.Row) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s;", k, valueKey(record.Normalize(k, "", r[k])))
	}
	return sb.String()
}
