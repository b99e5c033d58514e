// Package executor defines the interface for the pass execution engine.
package executor

import (
	"context"

	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
)

// Executor is responsible for orchestrating one pass over a plan.
// It manages concurrency, interacts with the scheduler, and dispatches tasks.
type Executor interface {
	Execute(ctx context.Context) (scheduler.Outcome, error)
}

// Pass describes one traversal of a plan for a request.
type Pass struct {
	Request *request.Request
	Plan    *planner.Plan
	// Phase selects what workers do with a node: read it or mask it. The
	// access pass of an erasure request runs with ModeAccess.
	Phase request.Mode
	// Scope is where this pass reads upstream results and writes its own.
	Scope string
	// AccessScope is where an erasure pass finds the rows its access pass read.
	AccessScope string
	// Masking is the strategy an erasure pass applies.
	Masking masking.Strategy
}
