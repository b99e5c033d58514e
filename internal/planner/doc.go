// Package planner turns the graph model, a policy and a seed identity into
// an ordered traversal plan.
//
// # Why Planner Exists
//
// Collections reference each other at the field level and may live in
// different datasets behind different connectors. Before anything runs, the
// engine needs a collection-level DAG that answers three questions:
//   - **Reachability:** which collections can be reached from the seed identity at all
//   - **Inputs:** which upstream fields feed which fields of each collection
//   - **Order:** a topological order with cycles rejected up front
//
// The planner answers them once per request, so the scheduler only has to
// track state and never reasons about the dataset configuration.
//
// # Shape of a Plan
//
// Every plan starts at nodeid.Root and ends at nodeid.Terminator. Root feeds
// every collection with an identity field present in the seed identity; every
// collection without reachable dependents feeds Terminator.
//
// References from a collection to itself are legal only on collections
// marked self-reference safe. They never become graph edges; the executor
// resolves them by iterating the node up to Plan.MaxSelfRefDepth.
//
// # Erasure
//
// PlanErasure derives the erasure plan from an access plan once its access
// pass has completed. Only nodes whose access read completed with rows and
// that have fields to mask are kept, ordered by their configured EraseAfter
// dependencies.
package planner
