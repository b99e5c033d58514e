package inmemorytopology

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/topologystore"
)

// Store implements the topologystore.Store interface using maps and a mutex
// for thread-safe concurrent access.
type Store struct {
	mu         sync.RWMutex
	nodes      map[nodeid.Address]*node.Node
	rank       map[nodeid.Address]int
	deps       map[nodeid.Address]map[nodeid.Address]struct{}
	dependents map[nodeid.Address]map[nodeid.Address]struct{}
}

// New creates a new, empty in-memory topology store.
func New() topologystore.Store {
	return &Store{
		nodes:      make(map[nodeid.Address]*node.Node),
		rank:       make(map[nodeid.Address]int),
		deps:       make(map[nodeid.Address]map[nodeid.Address]struct{}),
		dependents: make(map[nodeid.Address]map[nodeid.Address]struct{}),
	}
}

// AddNode adds a new node to the store.
func (s *Store) AddNode(ctx context.Context, n *node.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := n.Address()
	if _, exists := s.nodes[id]; exists {
		// Adding the same node twice is not an error, it's idempotent.
		return nil
	}
	s.rank[id] = len(s.nodes)
	s.nodes[id] = n
	return nil
}

// AddDependency creates a dependency link from one node to another.
func (s *Store) AddDependency(ctx context.Context, from, to nodeid.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[from]; !exists {
		return fmt.Errorf("dependency source node '%s' not found in topology", from)
	}
	if _, exists := s.nodes[to]; !exists {
		return fmt.Errorf("dependency target node '%s' not found in topology", to)
	}

	if s.deps[to] == nil {
		s.deps[to] = make(map[nodeid.Address]struct{})
	}
	s.deps[to][from] = struct{}{}
	if s.dependents[from] == nil {
		s.dependents[from] = make(map[nodeid.Address]struct{})
	}
	s.dependents[from][to] = struct{}{}
	return nil
}

// GetNode retrieves a single node by its address.
func (s *Store) GetNode(ctx context.Context, id nodeid.Address) (*node.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	return n, ok
}

// AllNodes returns a slice of all nodes in insertion order.
func (s *Store) AllNodes(ctx context.Context) []*node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*node.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *node.Node) int { return s.rank[a.Address()] - s.rank[b.Address()] })
	return nodes
}

// DependenciesOf returns the addresses of all nodes that the given node depends on.
func (s *Store) DependenciesOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error) {
	return s.neighbours(id, s.deps)
}

// DependentsOf returns the addresses of all nodes depending on the given node.
func (s *Store) DependentsOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error) {
	return s.neighbours(id, s.dependents)
}

func (s *Store) neighbours(id nodeid.Address, edges map[nodeid.Address]map[nodeid.Address]struct{}) ([]nodeid.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.nodes[id]; !exists {
		return nil, fmt.Errorf("node '%s' not found in topology", id)
	}

	out := make([]nodeid.Address, 0, len(edges[id]))
	for a := range edges[id] {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b nodeid.Address) int { return s.rank[a] - s.rank[b] })
	return out, nil
}
