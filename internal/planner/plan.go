package planner

import (
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/request"
)

// DefaultMaxSelfRefDepth bounds the fixed-point pass over self-referencing
// collections.
const DefaultMaxSelfRefDepth = 5

// Edge is an upstream field feeding one field of a node.
type Edge struct {
	From      nodeid.Address
	FromField string
	ToField   string
}

// IdentityInput is a seed identity key feeding one field of a node.
type IdentityInput struct {
	Identity string
	Field    string
}

// SelfReference is an edge inside one collection: values of SourceField in
// returned rows are looked up again through InputField.
type SelfReference struct {
	SourceField string
	InputField  string
}

// TraversalNode is a collection bound to its resolved incoming edges. It is
// the unit of scheduling.
type TraversalNode struct {
	Address    nodeid.Address
	Connection string
	Collection *config.Collection

	Identities []IdentityInput
	Edges      []Edge
	SelfRefs   []SelfReference

	// Upstream and Downstream are in declaration order and include the sentinels.
	Upstream   []nodeid.Address
	Downstream []nodeid.Address

	// ReturnFields are the fields the policy lets into access results.
	ReturnFields []string
	// MaskFields are the erasure targets.
	MaskFields []string
}

// Mappings groups the node's incoming edges by upstream node, preserving
// upstream order. Identity inputs are returned under nodeid.Root.
func (n *TraversalNode) Mappings() ([]nodeid.Address, map[nodeid.Address][]record.Mapping) {
	out := make(map[nodeid.Address][]record.Mapping)
	var sources []nodeid.Address
	add := func(src nodeid.Address, m record.Mapping) {
		if _, ok := out[src]; !ok {
			sources = append(sources, src)
		}
		out[src] = append(out[src], m)
	}

	for _, id := range n.Identities {
		add(nodeid.Root, record.Mapping{FromField: id.Identity, ToField: id.Field, Identity: id.Identity})
	}
	for _, e := range n.Edges {
		identity := ""
		if f, ok := n.Collection.Field(e.ToField); ok {
			identity = f.Identity
		}
		add(e.From, record.Mapping{FromField: e.FromField, ToField: e.ToField, Identity: identity})
	}

	ordered := make([]nodeid.Address, 0, len(sources))
	for _, up := range n.Upstream {
		if _, ok := out[up]; ok {
			ordered = append(ordered, up)
		}
	}
	return ordered, out
}

// Plan is the ordered node plan for one request.
type Plan struct {
	Mode  request.Mode
	Nodes map[nodeid.Address]*TraversalNode
	// Order is a topological order starting with Root and ending with Terminator.
	Order           []nodeid.Address
	MaxSelfRefDepth int
	// Masking is the policy's masking strategy name.
	Masking string
}

// Node returns the traversal node at the address.
func (p *Plan) Node(a nodeid.Address) (*TraversalNode, bool) {
	n, ok := p.Nodes[a]
	return n, ok
}

// Upstream returns the direct dependencies of a node.
func (p *Plan) Upstream(a nodeid.Address) []nodeid.Address {
	if n, ok := p.Nodes[a]; ok {
		return n.Upstream
	}
	return nil
}

// Downstream returns the direct dependents of a node.
func (p *Plan) Downstream(a nodeid.Address) []nodeid.Address {
	if n, ok := p.Nodes[a]; ok {
		return n.Downstream
	}
	return nil
}

// Executable returns the plan order without the sentinels.
func (p *Plan) Executable() []nodeid.Address {
	out := make([]nodeid.Address, 0, len(p.Order))
	for _, a := range p.Order {
		if !a.IsSentinel() {
			out = append(out, a)
		}
	}
	return out
}
