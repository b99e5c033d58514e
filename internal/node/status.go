package node

import "fmt"

// Status represents the execution state of a node in the graph.
type Status int32

const (
	// StatusPending indicates the node is waiting for its dependencies.
	StatusPending Status = iota
	// StatusReady indicates every dependency completed and the node is queued.
	StatusReady
	// StatusRunning indicates a worker is executing the node.
	StatusRunning
	// StatusComplete indicates the node's result is in the cache.
	StatusComplete
	// StatusSkipped indicates the node was not executed: it had no input,
	// an upstream node failed, or the request was cancelled.
	StatusSkipped
	// StatusErrored indicates the last attempt failed. The node may still be
	// waiting for a retry; see Retrying on the node store.
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusSkipped:
		return "skipped"
	case StatusErrored:
		return "errored"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// transitions lists the legal moves out of every state.
var transitions = map[Status][]Status{
	// Pending -> Complete/Skipped covers checkpoints restored on resume;
	// Pending -> Errored covers the global request timeout.
	StatusPending: {StatusReady, StatusComplete, StatusSkipped, StatusErrored},
	StatusReady:   {StatusRunning, StatusSkipped, StatusErrored},
	StatusRunning: {StatusComplete, StatusSkipped, StatusErrored},
	// Errored -> Ready is a retry. A pending retry is abandoned by
	// cancellation (Skipped) or by the request timeout (Errored again).
	StatusErrored: {StatusReady, StatusSkipped, StatusErrored},
}

// CanTransition reports whether a node may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned by stores and the graph for an illegal move.
type TransitionError struct {
	ID       string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("node %s: illegal transition %s -> %s", e.ID, e.From, e.To)
}
