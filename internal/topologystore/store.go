// Package topologystore defines the interface for storing and retrieving the
// static structure of one pass's execution graph.
//
// # Why Topology Store Exists
//
// The topology store isolates the **immutable DAG structure** (nodes and
// their dependency edges) from the **mutable execution state** (status,
// attempts, errors) managed by nodestore.
//
// The structure comes from a planner.Plan and never changes once a pass has
// started, so it is written once and then read heavily by the scheduler
// loop. Keeping it apart from node state means structural queries never
// contend with the state writes that happen on every report.
//
// # Lifecycle and Usage
//
// The topology store is:
//  1. **Created** once per pass by the session factory
//  2. **Populated** from the plan: every node, then every edge
//  3. **Read-only** while the pass runs
//  4. **Discarded** when the session closes
package topologystore

import (
	"context"

	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// Store is the interface for managing the static topology of a directed
// acyclic graph.
//
// Implementations MUST be thread-safe. See internal/inmemorytopology for the
// reference implementation.
type Store interface {
	// AddNode registers a node. Adding the same address twice is a no-op.
	AddNode(ctx context.Context, n *node.Node) error

	// AddDependency records that `to` depends on `from`. Both nodes must
	// already exist.
	AddDependency(ctx context.Context, from, to nodeid.Address) error

	// GetNode retrieves a single node by its address.
	GetNode(ctx context.Context, id nodeid.Address) (*node.Node, bool)

	// AllNodes returns every node in insertion order. The engine inserts in
	// plan order, so this is a topological order.
	AllNodes(ctx context.Context) []*node.Node

	// DependenciesOf returns the nodes `id` depends on, in insertion order.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)

	// DependentsOf returns the nodes depending on `id`, in insertion order.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)
}
