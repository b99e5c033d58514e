// Package nodestore defines the interface for storing and retrieving the
// mutable execution state of nodes during one pass of a privacy request.
//
// # Why Node Store Exists
//
// The node store isolates **mutable execution state** (status, attempts,
// outputs, errors, skip reasons) from the **immutable DAG structure**
// managed by topologystore.
//
// # Lifecycle and Usage
//
// The node store is:
//  1. **Created** once per pass by the session factory (ephemeral)
//  2. **Seeded** by the engine: nodes restored from checkpoints are marked
//     Complete or Skipped before the scheduler starts
//  3. **Mutated** only by the scheduler loop as reports arrive
//  4. **Read** by the engine to assemble the merged result
//  5. **Discarded** when the session ends
//
// Durable results live in the result cache, not here. A restart rebuilds
// node state from the cache.
//
// # State Transitions
//
//	Pending -> Ready -> Running -> Complete | Skipped | Errored
//	Errored (retrying) -> Ready
package nodestore

import (
	"context"

	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// Store is the interface for managing the mutable execution state of nodes.
//
// Implementations MUST be thread-safe for concurrent reads and writes. The
// scheduler loop is the single writer, but the engine and metrics read
// concurrently.
type Store interface {
	// SetStatus updates the execution status of a node. The store does not
	// validate transitions; the graph facade does.
	SetStatus(ctx context.Context, id nodeid.Address, status node.Status) error

	// GetStatus returns StatusPending if no status has been set yet.
	GetStatus(ctx context.Context, id nodeid.Address) (node.Status, error)

	// SetOutput records the successful result of a node, typically a
	// *resultcache.NodeResult.
	SetOutput(ctx context.Context, id nodeid.Address, output any) error

	// GetOutput returns nil if the node produced no output.
	GetOutput(ctx context.Context, id nodeid.Address) (any, error)

	// SetError records the latest failure of a node.
	SetError(ctx context.Context, id nodeid.Address, nodeErr error) error

	// GetError returns nil if the node has not failed.
	GetError(ctx context.Context, id nodeid.Address) (error, error)

	// SetReason records why a node was skipped.
	SetReason(ctx context.Context, id nodeid.Address, reason string) error

	// GetReason returns "" if the node was not skipped.
	GetReason(ctx context.Context, id nodeid.Address) (string, error)

	// IncrementAttempts records a dispatch and returns the new attempt count.
	IncrementAttempts(ctx context.Context, id nodeid.Address) (int, error)

	// Attempts returns how many times a node has been dispatched.
	Attempts(ctx context.Context, id nodeid.Address) (int, error)

	// SetRetrying flags an Errored node as waiting for another attempt.
	SetRetrying(ctx context.Context, id nodeid.Address, retrying bool) error

	// Retrying reports whether an Errored node will be retried.
	Retrying(ctx context.Context, id nodeid.Address) (bool, error)
}
