// Package task defines the unit of work the scheduler hands to a worker.
package task

import "github.com/specialistvlad/privacyflow/internal/node"

// Task represents a node that is ready for execution.
type Task struct {
	// Node is the node definition from the graph.
	Node *node.Node

	// Attempt is the 1-based dispatch count of the node, including this one.
	Attempt int
}
