package config

import (
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// Validate checks structural invariants of the model. It does not resolve
// references across collections; unresolvable references are reported by
// the planner.
func (m *Model) Validate() error {
	for name, conn := range m.Connections {
		if conn.Kind == "" {
			return privacyerr.Validationf("connection", "connection %q has no kind", name)
		}
		for _, rl := range conn.RateLimits {
			if rl.Requests <= 0 || rl.Period <= 0 {
				return privacyerr.Validationf("connection", "connection %q has a non-positive rate limit", name)
			}
		}
	}

	seenDatasets := make(map[string]struct{}, len(m.Datasets))
	for _, ds := range m.Datasets {
		if !nodeid.ValidName(ds.Name) {
			return privacyerr.Validationf("dataset", "invalid dataset name %q", ds.Name)
		}
		if _, dup := seenDatasets[ds.Name]; dup {
			return privacyerr.Validationf("dataset", "dataset %q is declared more than once", ds.Name)
		}
		seenDatasets[ds.Name] = struct{}{}

		if _, ok := m.Connections[ds.Connection]; !ok {
			return privacyerr.Validationf("dataset", "dataset %q uses unknown connection %q", ds.Name, ds.Connection)
		}
		if err := validateCollections(ds); err != nil {
			return err
		}
	}

	for name, p := range m.Policies {
		if len(p.AccessCategories) == 0 && len(p.ErasureCategories) == 0 {
			return privacyerr.Validationf("policy", "policy %q authorizes no data categories", name)
		}
	}
	return nil
}

func validateCollections(ds *Dataset) error {
	seen := make(map[string]struct{}, len(ds.Collections))
	for _, c := range ds.Collections {
		if !nodeid.ValidName(c.Name) {
			return privacyerr.Validationf("collection", "invalid collection name %q in dataset %q", c.Name, ds.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return privacyerr.Validationf("collection", "collection %q is declared more than once in dataset %q", c.Name, ds.Name)
		}
		seen[c.Name] = struct{}{}

		fields := make(map[string]struct{}, len(c.Fields))
		for _, f := range c.Fields {
			if _, dup := fields[f.Name]; dup {
				return privacyerr.Validationf("field", "field %q is declared more than once in %s:%s", f.Name, ds.Name, c.Name)
			}
			fields[f.Name] = struct{}{}
			for _, ref := range f.References {
				if ref.Direction != DirectionFrom && ref.Direction != DirectionTo {
					return &privacyerr.ValidationError{
						Subject: "reference",
						Err:     fmt.Errorf("field %s:%s.%s has invalid direction %q", ds.Name, c.Name, f.Name, ref.Direction),
					}
				}
			}
		}
	}
	return nil
}
