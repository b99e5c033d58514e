package config

import (
	"time"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// Model is the unified, format-agnostic representation of the whole
// configuration: the dataset graph plus everything needed to reach it.
type Model struct {
	Connections map[string]*Connection
	Datasets    []*Dataset
	Policies    map[string]*Policy
	// Export is optional. When set, merged access results are uploaded.
	Export *Export
}

// NewModel returns an empty model with its maps initialized.
func NewModel() *Model {
	return &Model{
		Connections: make(map[string]*Connection),
		Policies:    make(map[string]*Policy),
	}
}

// Connection describes how to reach one backend.
type Connection struct {
	Name string
	// Kind selects the connector implementation, e.g. "sqlite" or "saas".
	Kind   string
	Params map[string]string
	// SaaSConfig is the path of the YAML endpoint description for SaaS kinds.
	SaaSConfig string
	RateLimits []RateLimit
	// Timeout bounds a single connector call. Zero means the engine default.
	Timeout time.Duration
}

// RateLimit is one token budget, e.g. 100 requests per second.
type RateLimit struct {
	Requests int
	Period   time.Duration
	Burst    int
}

// Dataset is a named group of collections owned by one connection.
type Dataset struct {
	Name        string
	Connection  string
	Collections []*Collection
}

// Collection is one queryable and erasable unit: a table, a document
// collection, or a SaaS endpoint's records.
type Collection struct {
	Name   string
	Fields []*Field
	// EraseAfter lists collections whose erasure must finish before this one
	// is erased.
	EraseAfter []nodeid.Address
	// SelfReferenceSafe allows references from this collection to itself.
	// They are resolved by a bounded fixed-point pass instead of being
	// reported as a cycle.
	SelfReferenceSafe bool
}

// Direction tells which side of a reference supplies the values.
type Direction string

const (
	// DirectionFrom means the field is populated by values pulled from the target.
	DirectionFrom Direction = "from"
	// DirectionTo means the field feeds the target.
	DirectionTo Direction = "to"
)

// Reference is a field-level edge to another collection's field.
type Reference struct {
	Dataset    string
	Collection string
	Field      string
	Direction  Direction
}

// Target returns the address of the referenced collection.
func (r Reference) Target() nodeid.Address {
	return nodeid.New(r.Dataset, r.Collection)
}

// Field is one attribute of a collection.
type Field struct {
	Name     string
	DataType string
	// Identity marks the field as a seed lookup key, e.g. "email".
	Identity   string
	PrimaryKey bool
	// ReadOnly fields are never masked.
	ReadOnly   bool
	Categories []string
	References []Reference
}

// Export describes where merged access results are uploaded.
type Export struct {
	// Kind is "s3" or "presigned".
	Kind            string
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// URL is the upload target for the presigned kind.
	URL string
}

// Dataset returns the dataset with the given name.
func (m *Model) Dataset(name string) (*Dataset, bool) {
	for _, ds := range m.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return nil, false
}

// Collection resolves an address to its dataset and collection.
func (m *Model) Collection(addr nodeid.Address) (*Dataset, *Collection, bool) {
	ds, ok := m.Dataset(addr.Dataset)
	if !ok {
		return nil, nil, false
	}
	c, ok := ds.Collection(addr.Collection)
	if !ok {
		return nil, nil, false
	}
	return ds, c, true
}

// Collection returns the collection with the given name.
func (d *Dataset) Collection(name string) (*Collection, bool) {
	for _, c := range d.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Field returns the field with the given name.
func (c *Collection) Field(name string) (*Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldNames lists the collection's fields in declaration order.
func (c *Collection) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Name)
	}
	return names
}

// PrimaryKeys lists the names of the primary key fields.
func (c *Collection) PrimaryKeys() []string {
	var keys []string
	for _, f := range c.Fields {
		if f.PrimaryKey {
			keys = append(keys, f.Name)
		}
	}
	return keys
}
