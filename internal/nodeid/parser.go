// internal/nodeid/parser.go
package nodeid

import (
	"fmt"
	"regexp"
	"strings"
)

// nameRegex matches a single dataset or collection name.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]*$`)

// ValidName reports whether name is usable as a dataset or collection name.
// Names that collide with the sentinel spelling are rejected.
func ValidName(name string) bool {
	if name == rootName || name == terminatorName {
		return false
	}
	return nameRegex.MatchString(name)
}

// Parse creates an Address from its canonical `dataset:collection` form.
func Parse(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("identifier cannot be empty")
	}

	dataset, collection, ok := strings.Cut(raw, ":")
	if !ok {
		return Address{}, fmt.Errorf("identifier %q is missing the ':' separator", raw)
	}
	if strings.Contains(collection, ":") {
		return Address{}, fmt.Errorf("identifier %q has more than one ':' separator", raw)
	}
	if !ValidName(dataset) {
		return Address{}, fmt.Errorf("invalid dataset name: %q", dataset)
	}
	if !ValidName(collection) {
		return Address{}, fmt.Errorf("invalid collection name: %q", collection)
	}

	return Address{Dataset: dataset, Collection: collection}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level fixtures.
func MustParse(raw string) Address {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}
