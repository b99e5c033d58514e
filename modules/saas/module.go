// Package saas provides the connector for HTTP APIs described by a YAML
// SaaS config: one endpoint per collection, with pluggable authentication,
// pagination and post-processing strategies.
package saas

import (
	"context"
	"net/http"
	"net/url"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/registry"
	"github.com/specialistvlad/privacyflow/internal/saasconfig"
)

// Kind is the connection kind served by this module.
const Kind = "saas"

// Module implements the registry.Module interface for SaaS connections.
type Module struct {
	// Client is shared by every connection when set. Tests inject a client
	// with a mocked transport.
	Client *http.Client
}

// Register registers the saas connector factory.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterConnector(Kind, m.newConnector)
}

func (m *Module) newConnector(_ context.Context, conn *config.Connection) (connector.Connector, error) {
	subject := "connection " + conn.Name
	if conn.SaaSConfig == "" {
		return nil, privacyerr.Validationf(subject, "saas connections need a saas_config file")
	}
	cfg, err := saasconfig.Load(conn.SaaSConfig)
	if err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if override := conn.Params["base_url"]; override != "" {
		baseURL = override
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &privacyerr.ValidationError{Subject: subject, Err: err}
	}

	auth, err := NewAuthenticator(cfg.Auth, conn.Params)
	if err != nil {
		return nil, err
	}

	params := make(map[string]any, len(conn.Params))
	for k, v := range conn.Params {
		params[k] = v
	}

	client, own := m.Client, false
	if client == nil {
		client, own = newHTTPClient(), true
	}
	return &Connector{
		cfg:       cfg,
		base:      base,
		params:    params,
		req:       &requester{client: client, headers: cfg.Headers, auth: auth},
		ownClient: own,
	}, nil
}
