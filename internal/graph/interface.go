// Package graph provides a unified, high-level interface for managing the
// execution graph of one pass.
//
// # Why Graph Package Exists
//
// The Graph interface is a facade that combines topology (structure) and
// node state (execution) into a single API. The scheduler loop and the
// engine talk to one interface instead of coordinating topologystore and
// nodestore directly.
//
// # Responsibilities
//
// The graph package orchestrates two underlying stores:
//   - **Topology Store** (topologystore.Store): the plan's nodes and edges
//   - **Node Store** (nodestore.Store): status, attempts, errors, skip reasons
//
// On top of plain delegation it enforces the node lifecycle: every Mark
// method checks node.CanTransition and returns a *node.TransitionError for
// an illegal move, so a scheduling bug surfaces as an error instead of a
// silently corrupted state.
//
// # Lifecycle
//
//  1. **Built** from a planner.Plan by FromPlan
//  2. **Seeded** by the engine with checkpointed nodes
//  3. **Driven** by the scheduler loop, its only writer
//  4. **Read** by the engine to assemble the merged result
package graph

import (
	"context"

	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// Graph is a unified interface for interacting with the execution DAG,
// combining static topology queries with dynamic state updates.
//
// Implementations MUST be safe for concurrent readers. Mark methods assume
// a single writer: the read-check-write of a transition is not atomic.
type Graph interface {
	// Node retrieves a node by its address.
	Node(ctx context.Context, id nodeid.Address) (*node.Node, bool)

	// AllNodes returns every node in plan order, sentinels included.
	AllNodes(ctx context.Context) []*node.Node

	// DependenciesOf returns the nodes `id` directly depends on.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)

	// DependentsOf returns the nodes directly depending on `id`.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)

	// NodeStatus returns the current status; false if the node is unknown.
	NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool)

	// Attempts returns how many times the node has been dispatched.
	Attempts(ctx context.Context, id nodeid.Address) int

	// Retrying reports whether an Errored node is waiting for a retry.
	Retrying(ctx context.Context, id nodeid.Address) bool

	// Output returns what MarkCompleted recorded.
	Output(ctx context.Context, id nodeid.Address) any

	// Error returns the latest failure of the node.
	Error(ctx context.Context, id nodeid.Address) error

	// Reason returns why the node was skipped.
	Reason(ctx context.Context, id nodeid.Address) string

	// MarkReady transitions Pending or Errored(retrying) to Ready.
	MarkReady(ctx context.Context, id nodeid.Address) error

	// MarkRunning transitions Ready to Running and returns the attempt number,
	// starting at 1.
	MarkRunning(ctx context.Context, id nodeid.Address) (int, error)

	// MarkCompleted transitions to Complete and records the output.
	MarkCompleted(ctx context.Context, id nodeid.Address, output any) error

	// MarkErrored transitions to Errored and records the error. A retrying
	// node goes back to Ready later; otherwise Errored is terminal.
	MarkErrored(ctx context.Context, id nodeid.Address, nodeErr error, retrying bool) error

	// MarkSkipped transitions to Skipped and records the reason.
	MarkSkipped(ctx context.Context, id nodeid.Address, reason string) error
}

// Terminal reports whether a node can no longer change state.
func Terminal(ctx context.Context, g Graph, id nodeid.Address) bool {
	status, ok := g.NodeStatus(ctx, id)
	if !ok {
		return false
	}
	switch status {
	case node.StatusComplete, node.StatusSkipped:
		return true
	case node.StatusErrored:
		return !g.Retrying(ctx, id)
	}
	return false
}
