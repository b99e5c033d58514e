package dag

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[nodeid.Address]*node),
	}
}

// AddNode adds a new node with the given address. If the node already
// exists, the function does nothing and its original rank is kept.
func (g *Graph) AddNode(id nodeid.Address) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		rank:       len(g.nodes),
		deps:       make(map[nodeid.Address]*node),
		dependents: make(map[nodeid.Address]*node),
	}
}

// Has reports whether the address is a node of the graph.
func (g *Graph) Has(id nodeid.Address) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// AddEdge creates a directed edge from `fromID` to `toID`, meaning `toID`
// depends on `fromID`. Self-edges are rejected; callers resolve
// self-references before building the graph.
func (g *Graph) AddEdge(fromID, toID nodeid.Address) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Dependencies returns the addresses the given node depends on, in rank order.
func (g *Graph) Dependencies(id nodeid.Address) ([]nodeid.Address, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedIDs(n.deps), nil
}

// Dependents returns the addresses depending on the given node, in rank order.
func (g *Graph) Dependents(id nodeid.Address) ([]nodeid.Address, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedIDs(n.dependents), nil
}

// DetectCycles checks the graph for cycles. It returns a
// *privacyerr.GraphCycleError describing the first cycle found, walking
// nodes in rank order.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three sets of nodes:
	// permanent: fully visited and not part of a cycle.
	// temporary: on the current recursion stack.
	// unvisited: everything else.
	permanent := make(map[nodeid.Address]bool)
	temporary := make(map[nodeid.Address]bool)
	var stack []nodeid.Address

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			start := slices.Index(stack, n.id)
			cycle := append(slices.Clone(stack[start:]), n.id)
			return &privacyerr.GraphCycleError{Cycle: cycle}
		}

		temporary[n.id] = true
		stack = append(stack, n.id)

		for _, dependent := range sortedNodes(n.dependents) {
			if err := visit(dependent); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range g.ranked() {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns every node after all of its dependencies using
// Kahn's algorithm. Among nodes that are ready at the same time the lowest
// rank goes first. A cycle yields a *privacyerr.GraphCycleError and no order.
func (g *Graph) TopologicalOrder() ([]nodeid.Address, error) {
	g.mutex.RLock()
	inDegree := make(map[nodeid.Address]int, len(g.nodes))
	var ready []*node
	for _, n := range g.ranked() {
		inDegree[n.id] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]nodeid.Address, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n.id)

		for _, d := range sortedNodes(n.dependents) {
			inDegree[d.id]--
			if inDegree[d.id] == 0 {
				ready = insertByRank(ready, d)
			}
		}
	}
	total := len(g.nodes)
	g.mutex.RUnlock()

	if len(order) != total {
		if err := g.DetectCycles(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("topological order incomplete: %d of %d nodes ordered", len(order), total)
	}
	return order, nil
}

// ranked returns all nodes in rank order. Callers must hold the lock.
func (g *Graph) ranked() []*node {
	out := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *node) int { return a.rank - b.rank })
	return out
}

func sortedNodes(m map[nodeid.Address]*node) []*node {
	out := make([]*node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *node) int { return a.rank - b.rank })
	return out
}

func sortedIDs(m map[nodeid.Address]*node) []nodeid.Address {
	nodes := sortedNodes(m)
	out := make([]nodeid.Address, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.id)
	}
	return out
}

func insertByRank(queue []*node, n *node) []*node {
	i, _ := slices.BinarySearchFunc(queue, n, func(a, b *node) int { return a.rank - b.rank })
	return slices.Insert(queue, i, n)
}
