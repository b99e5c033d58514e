package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// isExprDefined checks if an HCL expression was actually present in the
// source. Omitted optional attributes decode to zero-width expressions, so a
// nil check is not enough.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	defined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", defined,
	)
	return defined
}

// stringMap evaluates expr as a map of strings. Numbers and bools are
// converted, so params = { port = 3306 } is accepted.
func stringMap(expr hcl.Expression, evalCtx *hcl.EvalContext) (map[string]string, error) {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	converted, err := convert.Convert(val, cty.Map(cty.String))
	if err != nil {
		return nil, fmt.Errorf("%s: must be a map of strings: %w", expr.Range(), err)
	}
	out := make(map[string]string, converted.LengthInt())
	for k, v := range converted.AsValueMap() {
		if v.IsNull() {
			continue
		}
		out[k] = v.AsString()
	}
	return out, nil
}
