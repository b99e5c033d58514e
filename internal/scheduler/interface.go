// Package scheduler drives one pass of a request: it decides which nodes are
// ready, hands them to workers, and applies every outcome to the graph.
//
// # Why Scheduler Exists
//
// The scheduler is the single owner of node state. Workers never touch the
// graph; they receive tasks from ReadyNodes() and send a Report back. The
// loop serializes every state change, which keeps the lifecycle rules simple
// and makes the pass deterministic for a given set of outcomes.
//
// # How It Works
//
// The loop is event driven. It reacts to four events:
//  1. A worker accepted a task (the node becomes Running)
//  2. A worker reported an outcome (Complete, Skipped or Errored)
//  3. A retry timer fired (an Errored node becomes Ready again)
//  4. The context ended (cancellation or the global request timeout)
//
// After each event it re-evaluates the affected dependents: a node becomes
// Ready once every dependency is Complete, and is Skipped as soon as any
// dependency ends Skipped or Errored. ROOT and TERMINATOR never reach a
// worker; the loop completes them itself.
//
// Retry delays come from cenkalti/backoff and are served by timers that post
// back into the loop, so the loop itself never sleeps or does I/O.
package scheduler

import (
	"context"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
	"github.com/specialistvlad/privacyflow/internal/task"
)

// Scheduler decides which nodes are ready and owns their state.
type Scheduler interface {
	// ReadyNodes streams tasks as nodes become ready. The channel is closed
	// when Run returns.
	ReadyNodes() <-chan *task.Task

	// Report hands a task's outcome back to the loop. It never blocks once
	// Run has returned.
	Report(r Report)

	// Run drives the pass until every node is terminal or ctx ends.
	Run(ctx context.Context) (Outcome, error)
}

// Report is the outcome of one task.
type Report struct {
	Address nodeid.Address
	Attempt int
	// Result is set on success. A result with Skipped set means the node
	// had no input and was not queried.
	Result *resultcache.NodeResult
	Err    error
}

// Outcome tells how a pass ended.
type Outcome int

const (
	// OutcomeFinished means every node reached a terminal state.
	OutcomeFinished Outcome = iota
	// OutcomeCancelled means the context was cancelled. Pending nodes were
	// skipped and running nodes were allowed to finish.
	OutcomeCancelled
	// OutcomeTimedOut means the request deadline passed. Every node that was
	// not terminal was marked Errored.
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTimedOut:
		return "timed_out"
	}
	return "unknown"
}
