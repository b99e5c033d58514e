// internal/nodeid/types.go
package nodeid

// Address is the CollectionAddress of a node. It is comparable and safe to
// use as a map key.
type Address struct {
	Dataset    string
	Collection string
}

const (
	rootName       = "__root__"
	terminatorName = "__terminator__"
)

var (
	// Root is the synthetic source of every plan.
	Root = Address{Dataset: rootName, Collection: rootName}
	// Terminator is the synthetic sink of every plan.
	Terminator = Address{Dataset: terminatorName, Collection: terminatorName}
)

// New builds an address from its parts without validation.
func New(dataset, collection string) Address {
	return Address{Dataset: dataset, Collection: collection}
}

// IsSentinel reports whether the address is Root or Terminator.
func (a Address) IsSentinel() bool {
	return a == Root || a == Terminator
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Dataset == "" && a.Collection == ""
}
