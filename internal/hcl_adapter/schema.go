package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileRoot is the set of top-level blocks any configuration file may hold.
type fileRoot struct {
	Connections []*connectionBlock `hcl:"connection,block"`
	Datasets    []*datasetBlock    `hcl:"dataset,block"`
	Policies    []*policyBlock     `hcl:"policy,block"`
	Exports     []*exportBlock     `hcl:"export,block"`
	Remain      hcl.Body           `hcl:",remain"`
}

type connectionBlock struct {
	Name       string            `hcl:"name,label"`
	Kind       string            `hcl:"kind"`
	Params     hcl.Expression    `hcl:"params,optional"`
	SaaSConfig string            `hcl:"saas_config,optional"`
	Timeout    string            `hcl:"timeout,optional"`
	RateLimits []*rateLimitBlock `hcl:"rate_limit,block"`
}

type rateLimitBlock struct {
	Requests int    `hcl:"requests"`
	Period   string `hcl:"period"`
	Burst    int    `hcl:"burst,optional"`
}

type datasetBlock struct {
	Name        string             `hcl:"name,label"`
	Connection  string             `hcl:"connection"`
	Collections []*collectionBlock `hcl:"collection,block"`
}

type collectionBlock struct {
	Name              string        `hcl:"name,label"`
	EraseAfter        []string      `hcl:"erase_after,optional"`
	SelfReferenceSafe bool          `hcl:"self_reference_safe,optional"`
	Fields            []*fieldBlock `hcl:"field,block"`
}

type fieldBlock struct {
	Name       string            `hcl:"name,label"`
	DataType   string            `hcl:"data_type,optional"`
	Identity   string            `hcl:"identity,optional"`
	PrimaryKey bool              `hcl:"primary_key,optional"`
	ReadOnly   bool              `hcl:"read_only,optional"`
	Categories []string          `hcl:"categories,optional"`
	References []*referenceBlock `hcl:"reference,block"`
}

// referenceBlock points at "dataset:collection" with the field named
// separately, e.g. to = "app:users", field = "id".
type referenceBlock struct {
	To        string `hcl:"to"`
	Field     string `hcl:"field"`
	Direction string `hcl:"direction,optional"`
}

type policyBlock struct {
	Name              string   `hcl:"name,label"`
	AccessCategories  []string `hcl:"access_categories,optional"`
	ErasureCategories []string `hcl:"erasure_categories,optional"`
	Masking           string   `hcl:"masking,optional"`
}

type exportBlock struct {
	Kind            string `hcl:"kind"`
	Bucket          string `hcl:"bucket,optional"`
	Prefix          string `hcl:"prefix,optional"`
	Region          string `hcl:"region,optional"`
	Endpoint        string `hcl:"endpoint,optional"`
	AccessKeyID     string `hcl:"access_key_id,optional"`
	SecretAccessKey string `hcl:"secret_access_key,optional"`
	URL             string `hcl:"url,optional"`
}
