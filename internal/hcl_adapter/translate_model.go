// This file translates decoded HCL blocks into the format-agnostic model
// defined in the config package.

package hcl_adapter

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

type translator struct {
	ctx     context.Context
	file    string
	evalCtx *hcl.EvalContext
}

func (t translator) errorf(format string, args ...any) error {
	return privacyerr.Validationf("config "+t.file, format, args...)
}

// merge adds every block of one file to the model. Names must be unique
// across all files.
func (t translator) merge(model *config.Model, root *fileRoot) error {
	for _, b := range root.Connections {
		if _, dup := model.Connections[b.Name]; dup {
			return t.errorf("connection %q is declared more than once", b.Name)
		}
		conn, err := t.connection(b)
		if err != nil {
			return err
		}
		model.Connections[conn.Name] = conn
	}
	for _, b := range root.Datasets {
		ds, err := t.dataset(b)
		if err != nil {
			return err
		}
		model.Datasets = append(model.Datasets, ds)
	}
	for _, b := range root.Policies {
		if _, dup := model.Policies[b.Name]; dup {
			return t.errorf("policy %q is declared more than once", b.Name)
		}
		model.Policies[b.Name] = t.policy(b)
	}
	for _, b := range root.Exports {
		if model.Export != nil {
			return t.errorf("export is declared more than once")
		}
		model.Export = &config.Export{
			Kind:            b.Kind,
			Bucket:          b.Bucket,
			Prefix:          b.Prefix,
			Region:          b.Region,
			Endpoint:        b.Endpoint,
			AccessKeyID:     b.AccessKeyID,
			SecretAccessKey: b.SecretAccessKey,
			URL:             b.URL,
		}
	}
	return nil
}

func (t translator) connection(b *connectionBlock) (*config.Connection, error) {
	logger := ctxlog.FromContext(t.ctx).With("connection", b.Name)
	logger.Debug("Translating HCL connection to internal config model.")

	conn := &config.Connection{Name: b.Name, Kind: b.Kind}
	if isExprDefined(t.ctx, b.Params, "params") {
		params, err := stringMap(b.Params, t.evalCtx)
		if err != nil {
			return nil, t.errorf("connection %q params: %w", b.Name, err)
		}
		conn.Params = params
	}
	if b.SaaSConfig != "" {
		conn.SaaSConfig = b.SaaSConfig
		if !filepath.IsAbs(conn.SaaSConfig) {
			conn.SaaSConfig = filepath.Join(filepath.Dir(t.file), conn.SaaSConfig)
		}
	}
	if b.Timeout != "" {
		d, err := time.ParseDuration(b.Timeout)
		if err != nil {
			return nil, t.errorf("connection %q timeout: %w", b.Name, err)
		}
		conn.Timeout = d
	}
	for _, rl := range b.RateLimits {
		period, err := time.ParseDuration(rl.Period)
		if err != nil {
			return nil, t.errorf("connection %q rate_limit period: %w", b.Name, err)
		}
		conn.RateLimits = append(conn.RateLimits, config.RateLimit{Requests: rl.Requests, Period: period, Burst: rl.Burst})
	}
	return conn, nil
}

func (t translator) dataset(b *datasetBlock) (*config.Dataset, error) {
	ds := &config.Dataset{Name: b.Name, Connection: b.Connection}
	for _, cb := range b.Collections {
		c := &config.Collection{Name: cb.Name, SelfReferenceSafe: cb.SelfReferenceSafe}
		for _, raw := range cb.EraseAfter {
			addr, err := nodeid.Parse(raw)
			if err != nil {
				return nil, t.errorf("collection %s:%s erase_after: %w", b.Name, cb.Name, err)
			}
			c.EraseAfter = append(c.EraseAfter, addr)
		}
		for _, fb := range cb.Fields {
			f, err := t.field(b.Name, cb.Name, fb)
			if err != nil {
				return nil, err
			}
			c.Fields = append(c.Fields, f)
		}
		ds.Collections = append(ds.Collections, c)
	}
	return ds, nil
}

func (t translator) field(dataset, collection string, b *fieldBlock) (*config.Field, error) {
	f := &config.Field{
		Name:       b.Name,
		DataType:   b.DataType,
		Identity:   b.Identity,
		PrimaryKey: b.PrimaryKey,
		ReadOnly:   b.ReadOnly,
		Categories: b.Categories,
	}
	for _, rb := range b.References {
		target, err := nodeid.Parse(rb.To)
		if err != nil {
			return nil, t.errorf("field %s:%s.%s reference: %w", dataset, collection, b.Name, err)
		}
		dir := config.Direction(rb.Direction)
		if dir == "" {
			dir = config.DirectionFrom
		}
		f.References = append(f.References, config.Reference{
			Dataset:    target.Dataset,
			Collection: target.Collection,
			Field:      rb.Field,
			Direction:  dir,
		})
	}
	return f, nil
}

func (t translator) policy(b *policyBlock) *config.Policy {
	masking := b.Masking
	if masking == "" {
		masking = "null_rewrite"
	}
	return &config.Policy{
		Name:              b.Name,
		AccessCategories:  b.AccessCategories,
		ErasureCategories: b.ErasureCategories,
		Masking:           masking,
	}
}

