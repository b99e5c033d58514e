// Package record holds the row and input shapes exchanged between the
// engine and the connectors, and the rules for turning upstream rows into a
// node's lookup input.
//
// # Merging
//
// A node's input is built from groups. A group is the set of value tuples a
// single upstream node supplies for the fields it feeds; values inside one
// group stay correlated because they come from the same upstream rows.
// Groups that feed exactly the same fields are concatenated. Groups that
// feed different fields are combined by Cartesian product. Tuples are
// deduplicated on their normalized form and keep first-seen order, so the
// result only depends on group order and row order.
package record
