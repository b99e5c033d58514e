// Package mongodb provides the document store connector. Collections map to
// MongoDB collections; a lookup input becomes an $or of per-tuple equality
// documents, and erasures are applied one document at a time by primary
// key.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/registry"
)

// Kind is the connection kind served by this module.
const Kind = "mongodb"

const disconnectTimeout = 10 * time.Second

// Module implements the registry.Module interface for MongoDB.
type Module struct{}

// Register registers the mongodb connector factory.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterConnector(Kind, newConnector)
}

func newConnector(ctx context.Context, conn *config.Connection) (connector.Connector, error) {
	uri, database := conn.Params["uri"], conn.Params["database"]
	if uri == "" || database == "" {
		return nil, privacyerr.Validationf("connection "+conn.Name, "mongodb connections need uri and database params")
	}
	s, err := connect(ctx, uri, database)
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", conn.Name, err)
	}
	return &Connector{name: conn.Name, store: s}, nil
}
