// Package engine runs a planned privacy request to completion and merges
// the per-node results into the caller-facing MergedResult.
//
// # Why Engine Exists
//
// A request is one or two passes over the dataset graph. The engine owns
// the sequencing between them: the access pass always runs first, and an
// erasure pass is planned from what the access pass found and only runs
// when every access node finished cleanly. Each pass gets a fresh session
// (graph, scheduler loop and worker pool); the result cache is the only
// state that outlives a pass, which is what makes Resume possible.
//
// # Request status
//
//   - complete: no node errored in any pass
//   - error: at least one node errored, including by the request deadline
//   - cancelled: the context was cancelled before the passes finished
//
// A request that is not complete still returns its partial MergedResult
// together with an *ExecutionError.
package engine
