// Package dag is a small directed-graph container keyed by CollectionAddress.
// The planner uses it to hold collection-level dependencies, detect cycles,
// and compute a deterministic topological order.
//
// Nodes remember their insertion rank. Every listing (dependencies,
// dependents, topological order) is sorted by that rank, so two plans built
// from the same configuration are identical.
package dag
