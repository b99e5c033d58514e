package dag

import (
	"sync"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// Graph represents a directed graph of collection addresses. An edge
// `from -> to` means `to` depends on `from`.
type Graph struct {
	// mutex protects the nodes map during concurrent access.
	mutex sync.RWMutex
	// nodes stores all nodes in the graph, keyed by address.
	nodes map[nodeid.Address]*node
}

// node represents a single vertex in the graph. It is un-exported to
// enforce interaction through the address-based public API.
type node struct {
	id nodeid.Address
	// rank is the insertion position, used to break ordering ties.
	rank int
	// deps holds the set of nodes that this node depends on (predecessors).
	deps map[nodeid.Address]*node
	// dependents holds the set of nodes that depend on this node (successors).
	dependents map[nodeid.Address]*node
}
