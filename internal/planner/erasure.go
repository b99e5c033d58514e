package planner

import (
	"context"

	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/dag"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/request"
)

// PlanErasure derives the erasure plan from a completed access plan.
// rowCounts holds the number of rows each access node returned; nodes that
// did not complete with rows, or that have nothing to mask, are left out.
//
// Erasure runs strictly after the access pass, so every node that reads a
// collection has done so before any write is dispatched. Within the erasure
// pass, ordering follows each collection's EraseAfter list.
func (p *Planner) PlanErasure(ctx context.Context, access *Plan, rowCounts map[nodeid.Address]int) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	plan := &Plan{
		Mode:            request.ModeErasure,
		Nodes:           make(map[nodeid.Address]*TraversalNode),
		MaxSelfRefDepth: access.MaxSelfRefDepth,
		Masking:         access.Masking,
	}

	g := dag.New()
	g.AddNode(nodeid.Root)
	var included []nodeid.Address
	for _, a := range access.Executable() {
		n := access.Nodes[a]
		if len(n.MaskFields) == 0 || rowCounts[a] == 0 {
			continue
		}
		clone := *n
		clone.Upstream, clone.Downstream = nil, nil
		plan.Nodes[a] = &clone
		g.AddNode(a)
		included = append(included, a)
	}
	g.AddNode(nodeid.Terminator)

	for _, a := range included {
		hasDeps := false
		for _, after := range plan.Nodes[a].Collection.EraseAfter {
			if _, ok := plan.Nodes[after]; !ok || after == a {
				continue
			}
			if err := g.AddEdge(after, a); err != nil {
				return nil, &privacyerr.PlanningError{Op: "erasure graph", Err: err}
			}
			hasDeps = true
		}
		if !hasDeps {
			if err := g.AddEdge(nodeid.Root, a); err != nil {
				return nil, &privacyerr.PlanningError{Op: "erasure graph", Err: err}
			}
		}
	}
	for _, a := range included {
		dependents, _ := g.Dependents(a)
		if len(dependents) == 0 {
			if err := g.AddEdge(a, nodeid.Terminator); err != nil {
				return nil, &privacyerr.PlanningError{Op: "erasure graph", Err: err}
			}
		}
	}
	if len(included) == 0 {
		if err := g.AddEdge(nodeid.Root, nodeid.Terminator); err != nil {
			return nil, &privacyerr.PlanningError{Op: "erasure graph", Err: err}
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, &privacyerr.PlanningError{Op: "erasure order", Err: err}
	}
	plan.Order = order
	if err := attachNeighbours(plan, g); err != nil {
		return nil, err
	}

	logger.Debug("Erasure plan built.", "nodes", len(included))
	return plan, nil
}
