package graph

import (
	"context"
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/nodestore"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/topologystore"
)

// Manager provides a high-level, thread-safe interface to the execution graph
// by composing and orchestrating lower-level storage backends.
type Manager struct {
	topology topologystore.Store
	state    nodestore.Store
}

// New creates a new graph manager.
func New(ts topologystore.Store, ns nodestore.Store) *Manager {
	return &Manager{topology: ts, state: ns}
}

// FromPlan builds the execution graph of one pass: every planned node, in
// plan order, and every upstream edge.
func FromPlan(ctx context.Context, ts topologystore.Store, ns nodestore.Store, plan *planner.Plan) (*Manager, error) {
	m := New(ts, ns)
	for _, a := range plan.Order {
		tn, ok := plan.Node(a)
		if !ok {
			return nil, fmt.Errorf("plan order names unknown node %s", a)
		}
		if err := ts.AddNode(ctx, node.New(tn, plan.Mode)); err != nil {
			return nil, err
		}
	}
	for _, a := range plan.Order {
		for _, up := range plan.Upstream(a) {
			if err := ts.AddDependency(ctx, up, a); err != nil {
				return nil, err
			}
		}
	}
	ctxlog.FromContext(ctx).Debug("Execution graph built.", "mode", plan.Mode, "nodes", len(plan.Order))
	return m, nil
}

func (m *Manager) Node(ctx context.Context, id nodeid.Address) (*node.Node, bool) {
	return m.topology.GetNode(ctx, id)
}

func (m *Manager) AllNodes(ctx context.Context) []*node.Node {
	return m.topology.AllNodes(ctx)
}

func (m *Manager) DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	ids, err := m.topology.DependenciesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, ids)
}

func (m *Manager) DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	ids, err := m.topology.DependentsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, ids)
}

func (m *Manager) resolve(ctx context.Context, ids []nodeid.Address) ([]*node.Node, error) {
	out := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := m.topology.GetNode(ctx, id)
		if !ok {
			return nil, fmt.Errorf("topology inconsistency: node %s not found", id)
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *Manager) NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool) {
	if _, ok := m.topology.GetNode(ctx, id); !ok {
		return node.StatusPending, false
	}
	status, err := m.state.GetStatus(ctx, id)
	if err != nil {
		return node.StatusPending, false
	}
	return status, true
}

func (m *Manager) Attempts(ctx context.Context, id nodeid.Address) int {
	n, _ := m.state.Attempts(ctx, id)
	return n
}

func (m *Manager) Retrying(ctx context.Context, id nodeid.Address) bool {
	r, _ := m.state.Retrying(ctx, id)
	return r
}

func (m *Manager) Output(ctx context.Context, id nodeid.Address) any {
	out, _ := m.state.GetOutput(ctx, id)
	return out
}

func (m *Manager) Error(ctx context.Context, id nodeid.Address) error {
	nodeErr, _ := m.state.GetError(ctx, id)
	return nodeErr
}

func (m *Manager) Reason(ctx context.Context, id nodeid.Address) string {
	reason, _ := m.state.GetReason(ctx, id)
	return reason
}

func (m *Manager) MarkReady(ctx context.Context, id nodeid.Address) error {
	if err := m.transition(ctx, id, node.StatusReady); err != nil {
		return err
	}
	return m.state.SetRetrying(ctx, id, false)
}

func (m *Manager) MarkRunning(ctx context.Context, id nodeid.Address) (int, error) {
	if err := m.transition(ctx, id, node.StatusRunning); err != nil {
		return 0, err
	}
	return m.state.IncrementAttempts(ctx, id)
}

func (m *Manager) MarkCompleted(ctx context.Context, id nodeid.Address, output any) error {
	if err := m.transition(ctx, id, node.StatusComplete); err != nil {
		return err
	}
	if err := m.state.SetError(ctx, id, nil); err != nil {
		return err
	}
	return m.state.SetOutput(ctx, id, output)
}

func (m *Manager) MarkErrored(ctx context.Context, id nodeid.Address, nodeErr error, retrying bool) error {
	if err := m.transition(ctx, id, node.StatusErrored); err != nil {
		return err
	}
	if err := m.state.SetError(ctx, id, nodeErr); err != nil {
		return err
	}
	return m.state.SetRetrying(ctx, id, retrying)
}

func (m *Manager) MarkSkipped(ctx context.Context, id nodeid.Address, reason string) error {
	if err := m.transition(ctx, id, node.StatusSkipped); err != nil {
		return err
	}
	if err := m.state.SetRetrying(ctx, id, false); err != nil {
		return err
	}
	return m.state.SetReason(ctx, id, reason)
}

func (m *Manager) transition(ctx context.Context, id nodeid.Address, to node.Status) error {
	from, ok := m.NodeStatus(ctx, id)
	if !ok {
		return fmt.Errorf("node %s not found in graph", id)
	}
	if !node.CanTransition(from, to) {
		return &node.TransitionError{ID: id.String(), From: from, To: to}
	}
	ctxlog.FromContext(ctx).Debug("Node transition.", "node", id.String(), "from", from.String(), "to", to.String())
	return m.state.SetStatus(ctx, id, to)
}
