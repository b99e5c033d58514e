// internal/nodeid/doc.go

/*
Package nodeid provides the structured identity of a node in a traversal
graph: the CollectionAddress, a `(dataset, collection)` pair.

The canonical string form is `dataset:collection`, e.g. `app:users`. The
same address keys planning, scheduling, caching and result merging, so all
formatting and parsing lives here.

Two sentinel addresses bound every plan: Root, which has no inputs and seeds
the identity data, and Terminator, which has no outputs and marks plan
completion. Neither can be produced by Parse.
*/
package nodeid
