package planner

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/dag"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/request"
)

// Options tune the planner.
type Options struct {
	MaxSelfRefDepth int
}

// Planner builds traversal plans. It is stateless and safe for concurrent use.
type Planner struct {
	opts Options
}

// New creates a planner, applying defaults to zero options.
func New(opts Options) *Planner {
	if opts.MaxSelfRefDepth <= 0 {
		opts.MaxSelfRefDepth = DefaultMaxSelfRefDepth
	}
	return &Planner{opts: opts}
}

// fieldEdge is a resolved field-level reference between two collections.
type fieldEdge struct {
	from      nodeid.Address
	fromField string
	to        nodeid.Address
	toField   string
}

// collectionInfo is the planner's index entry for one collection.
type collectionInfo struct {
	addr       nodeid.Address
	connection string
	collection *config.Collection
	selfRefs   []SelfReference
}

// Plan builds the access traversal for a request. For erasure requests the
// returned plan is the access traversal tagged with ModeErasure; the
// erasure plan itself is derived with PlanErasure once access completed.
func (p *Planner) Plan(ctx context.Context, model *config.Model, policy *config.Policy, identity map[string]string, mode request.Mode) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	if policy == nil {
		return nil, privacyerr.Validationf("policy", "policy is required")
	}
	if mode == request.ModeErasure && len(policy.ErasureCategories) == 0 {
		return nil, privacyerr.Validationf("policy", "policy %q has no erasure categories", policy.Name)
	}

	infos, edges, err := p.index(model)
	if err != nil {
		return nil, err
	}

	// The whole collection graph must be acyclic, reachable or not.
	full := dag.New()
	for _, info := range infos {
		full.AddNode(info.addr)
	}
	for _, e := range edges {
		if err := full.AddEdge(e.from, e.to); err != nil {
			return nil, &privacyerr.PlanningError{Op: "graph", Err: err}
		}
	}
	if err := full.DetectCycles(); err != nil {
		return nil, &privacyerr.PlanningError{Op: "cycle check", Err: err}
	}

	reachable := p.reachable(infos, edges, identity)
	logger.Debug("Planner resolved reachable collections.", "total", len(infos), "reachable", len(reachable))
	if len(reachable) == 0 {
		logger.Warn("No collection is reachable from the seed identity.", "identity_keys", identityKeys(identity))
	}

	plan := &Plan{
		Mode:            mode,
		Nodes:           make(map[nodeid.Address]*TraversalNode, len(reachable)+2),
		MaxSelfRefDepth: p.opts.MaxSelfRefDepth,
		Masking:         policy.Masking,
	}

	g := dag.New()
	g.AddNode(nodeid.Root)
	for _, info := range infos {
		if !reachable[info.addr] {
			continue
		}
		g.AddNode(info.addr)
		plan.Nodes[info.addr] = p.newNode(info, policy, identity)
	}
	g.AddNode(nodeid.Terminator)

	for _, e := range edges {
		if !reachable[e.from] || !reachable[e.to] {
			continue
		}
		n := plan.Nodes[e.to]
		n.Edges = append(n.Edges, Edge{From: e.from, FromField: e.fromField, ToField: e.toField})
		if err := g.AddEdge(e.from, e.to); err != nil {
			return nil, &privacyerr.PlanningError{Op: "graph", Err: err}
		}
	}
	for _, info := range infos {
		if reachable[info.addr] && len(plan.Nodes[info.addr].Identities) > 0 {
			if err := g.AddEdge(nodeid.Root, info.addr); err != nil {
				return nil, &privacyerr.PlanningError{Op: "graph", Err: err}
			}
		}
	}
	for _, info := range infos {
		if !reachable[info.addr] {
			continue
		}
		dependents, _ := g.Dependents(info.addr)
		if len(dependents) == 0 {
			if err := g.AddEdge(info.addr, nodeid.Terminator); err != nil {
				return nil, &privacyerr.PlanningError{Op: "graph", Err: err}
			}
		}
	}
	if len(reachable) == 0 {
		if err := g.AddEdge(nodeid.Root, nodeid.Terminator); err != nil {
			return nil, &privacyerr.PlanningError{Op: "graph", Err: err}
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, &privacyerr.PlanningError{Op: "order", Err: err}
	}
	plan.Order = order

	if err := attachNeighbours(plan, g); err != nil {
		return nil, err
	}
	sortEdges(plan, infos)

	logger.Debug("Plan built.", "mode", mode, "nodes", len(plan.Order)-2)
	return plan, nil
}

// index resolves every collection and reference in the model. Unresolvable
// references are planning errors; self-references on unsafe collections are
// cycles.
func (p *Planner) index(model *config.Model) ([]*collectionInfo, []fieldEdge, error) {
	var infos []*collectionInfo
	byAddr := make(map[nodeid.Address]*collectionInfo)
	for _, ds := range model.Datasets {
		for _, c := range ds.Collections {
			info := &collectionInfo{addr: nodeid.New(ds.Name, c.Name), connection: ds.Connection, collection: c}
			infos = append(infos, info)
			byAddr[info.addr] = info
		}
	}

	var edges []fieldEdge
	seen := make(map[fieldEdge]struct{})
	for _, info := range infos {
		for _, f := range info.collection.Fields {
			for _, ref := range f.References {
				target, ok := byAddr[ref.Target()]
				if !ok {
					return nil, nil, &privacyerr.PlanningError{
						Op:  "resolve",
						Err: fmt.Errorf("%s.%s references unknown collection %s", info.addr, f.Name, ref.Target()),
					}
				}
				if _, ok := target.collection.Field(ref.Field); !ok {
					return nil, nil, &privacyerr.PlanningError{
						Op:  "resolve",
						Err: fmt.Errorf("%s.%s references unknown field %s.%s", info.addr, f.Name, ref.Target(), ref.Field),
					}
				}

				var e fieldEdge
				switch ref.Direction {
				case config.DirectionFrom:
					e = fieldEdge{from: target.addr, fromField: ref.Field, to: info.addr, toField: f.Name}
				case config.DirectionTo:
					e = fieldEdge{from: info.addr, fromField: f.Name, to: target.addr, toField: ref.Field}
				default:
					return nil, nil, privacyerr.Validationf("reference", "%s.%s has invalid direction %q", info.addr, f.Name, ref.Direction)
				}

				if e.from == e.to {
					if !info.collection.SelfReferenceSafe {
						return nil, nil, &privacyerr.PlanningError{
							Op:  "cycle check",
							Err: &privacyerr.GraphCycleError{Cycle: []nodeid.Address{info.addr, info.addr}},
						}
					}
					sr := SelfReference{SourceField: e.fromField, InputField: e.toField}
					if !slices.Contains(info.selfRefs, sr) {
						info.selfRefs = append(info.selfRefs, sr)
					}
					continue
				}
				if _, dup := seen[e]; dup {
					continue
				}
				seen[e] = struct{}{}
				edges = append(edges, e)
			}
		}
	}
	return infos, edges, nil
}

// reachable walks edges from every collection seeded by the identity until
// no new collection is found.
func (p *Planner) reachable(infos []*collectionInfo, edges []fieldEdge, identity map[string]string) map[nodeid.Address]bool {
	out := make(map[nodeid.Address]bool)
	var queue []nodeid.Address
	for _, info := range infos {
		for _, f := range info.collection.Fields {
			if f.Identity == "" {
				continue
			}
			if _, ok := identity[f.Identity]; ok && !out[info.addr] {
				out[info.addr] = true
				queue = append(queue, info.addr)
			}
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range edges {
			if e.from == cur && !out[e.to] {
				out[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}
	return out
}

func (p *Planner) newNode(info *collectionInfo, policy *config.Policy, identity map[string]string) *TraversalNode {
	n := &TraversalNode{
		Address:    info.addr,
		Connection: info.connection,
		Collection: info.collection,
		SelfRefs:   info.selfRefs,
	}
	for _, f := range info.collection.Fields {
		if f.Identity != "" {
			if _, ok := identity[f.Identity]; ok {
				n.Identities = append(n.Identities, IdentityInput{Identity: f.Identity, Field: f.Name})
			}
		}
		if policy.AuthorizesAccess(f) {
			n.ReturnFields = append(n.ReturnFields, f.Name)
		}
		if policy.AuthorizesErasure(f) {
			n.MaskFields = append(n.MaskFields, f.Name)
		}
	}
	return n
}

// attachNeighbours copies the DAG's adjacency onto the plan nodes, creating
// the sentinel nodes on the way. Neighbour lists come back in declaration
// order because that is the DAG's insertion order.
func attachNeighbours(plan *Plan, g *dag.Graph) error {
	plan.Nodes[nodeid.Root] = &TraversalNode{Address: nodeid.Root}
	plan.Nodes[nodeid.Terminator] = &TraversalNode{Address: nodeid.Terminator}

	for _, a := range plan.Order {
		up, err := g.Dependencies(a)
		if err != nil {
			return &privacyerr.PlanningError{Op: "graph", Err: err}
		}
		down, err := g.Dependents(a)
		if err != nil {
			return &privacyerr.PlanningError{Op: "graph", Err: err}
		}
		plan.Nodes[a].Upstream = up
		plan.Nodes[a].Downstream = down
	}
	return nil
}

// sortEdges orders each node's edges by upstream declaration order, keeping
// field declaration order within one upstream.
func sortEdges(plan *Plan, infos []*collectionInfo) {
	rank := make(map[nodeid.Address]int, len(infos))
	for i, info := range infos {
		rank[info.addr] = i
	}
	for _, n := range plan.Nodes {
		slices.SortStableFunc(n.Edges, func(a, b Edge) int { return rank[a.From] - rank[b.From] })
	}
}

func identityKeys(identity map[string]string) []string {
	keys := make([]string, 0, len(identity))
	for k := range identity {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IsCycle reports whether err is a planning failure caused by a cycle.
func IsCycle(err error) bool {
	var ce *privacyerr.GraphCycleError
	return errors.As(err, &ce)
}
