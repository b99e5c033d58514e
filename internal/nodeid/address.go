// internal/nodeid/address.go
package nodeid

import "strings"

// String serializes the Address into its canonical `dataset:collection` form.
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Dataset + ":" + a.Collection
}

// Equal checks whether two addresses point at the same collection.
func (a Address) Equal(other Address) bool {
	return a == other
}

// Compare orders addresses by dataset, then collection. Root sorts first and
// Terminator sorts last so sorted address lists read in execution order.
func (a Address) Compare(other Address) int {
	if a == other {
		return 0
	}
	switch {
	case a == Root || other == Terminator:
		return -1
	case a == Terminator || other == Root:
		return 1
	}
	if c := strings.Compare(a.Dataset, other.Dataset); c != 0 {
		return c
	}
	return strings.Compare(a.Collection, other.Collection)
}
