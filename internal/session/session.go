// Package session defines the core interfaces for creating and managing the
// execution of one pass. It abstracts away the details of local vs. remote
// execution.
package session

import (
	"context"

	"github.com/specialistvlad/privacyflow/internal/executor"
	"github.com/specialistvlad/privacyflow/internal/graph"
)

// SessionFactory creates an execution Session for one pass. Different
// implementations can support various backends, such as local or
// distributed execution.
type SessionFactory interface {
	NewSession(ctx context.Context, pass executor.Pass) (Session, error)
}

// Session represents a single pass and manages its lifecycle.
type Session interface {
	GetExecutor() (executor.Executor, error)
	// Graph exposes the pass's node states once the executor returned.
	Graph() graph.Graph
	// Close releases any resources held by the session. It accepts a context
	// to allow for graceful cleanup operations.
	Close(ctx context.Context) error
}
