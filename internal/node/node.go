// Package node defines the vertex type the execution engine schedules and
// the lifecycle every vertex moves through.
package node

import (
	"sync"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/request"
)

// Node is a single vertex in the execution graph: one collection queried or
// erased during one pass of a request, or one of the two sentinels.
type Node struct {
	// id is the collection address of the node.
	id nodeid.Address
	// Phase is the pass this node belongs to.
	Phase request.Mode
	// Traversal is the planned node. It carries the collection, incoming
	// edges and policy-filtered field lists.
	Traversal *planner.TraversalNode

	// skipOnce ensures a node is marked as skipped exactly once.
	skipOnce sync.Once
}

// New wraps a planned traversal node for execution.
func New(tn *planner.TraversalNode, phase request.Mode) *Node {
	return &Node{id: tn.Address, Phase: phase, Traversal: tn}
}

// ID returns the canonical string representation of the node's address.
func (n *Node) ID() string {
	return n.id.String()
}

// Address returns the structured address of the node.
func (n *Node) Address() nodeid.Address {
	return n.id
}

// IsSentinel reports whether the node is ROOT or TERMINATOR.
func (n *Node) IsSentinel() bool {
	return n.id.IsSentinel()
}

// Skip runs f exactly once, returning true if this call ran it.
func (n *Node) Skip(f func()) bool {
	var first bool
	n.skipOnce.Do(func() {
		f()
		first = true
	})
	return first
}
