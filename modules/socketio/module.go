// Package socketio provides a connector for services that expose their
// records over a socket.io event API instead of REST. A query emits the
// lookup tuples and waits for the matching reply event; an erasure emits
// the per-row changes and waits for the affected count. Replies are
// correlated by an id carried in every payload, so workers can share one
// connection.
package socketio

import (
	"context"
	"strconv"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/registry"
)

// Kind is the connection kind served by this module.
const Kind = "socketio"

// Default event names.
const (
	DefaultQueryEvent = "privacy:query"
	DefaultQueryReply = "privacy:rows"
	DefaultEraseEvent = "privacy:erase"
	DefaultEraseReply = "privacy:erased"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type settings struct {
	url                string
	namespace          string
	insecureSkipVerify bool
	queryEvent         string
	queryReply         string
	eraseEvent         string
	eraseReply         string
}

// Register registers the socketio connector factory.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterConnector(Kind, newConnector)
}

func newConnector(_ context.Context, conn *config.Connection) (connector.Connector, error) {
	s, err := parseSettings(conn)
	if err != nil {
		return nil, err
	}
	return &Connector{settings: s, pending: make(map[string]chan reply)}, nil
}

func parseSettings(conn *config.Connection) (settings, error) {
	p := conn.Params
	if p["url"] == "" {
		return settings{}, privacyerr.Validationf("connection "+conn.Name, "socketio connections need a url param")
	}
	or := func(key, def string) string {
		if v := p[key]; v != "" {
			return v
		}
		return def
	}
	insecure, _ := strconv.ParseBool(p["insecure_skip_verify"])
	return settings{
		url:                p["url"],
		namespace:          or("namespace", "/"),
		insecureSkipVerify: insecure,
		queryEvent:         or("query_event", DefaultQueryEvent),
		queryReply:         or("query_reply", DefaultQueryReply),
		eraseEvent:         or("erase_event", DefaultEraseEvent),
		eraseReply:         or("erase_reply", DefaultEraseReply),
	}, nil
}
