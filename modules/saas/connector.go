package saas

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/saasconfig"
)

// DefaultMaxPages bounds pagination when the config sets no max_pages.
const DefaultMaxPages = 100

// Connector serves every collection of one SaaS connection.
type Connector struct {
	cfg       *saasconfig.Config
	base      *url.URL
	params    map[string]any
	req       *requester
	ownClient bool
}

var (
	_ connector.Connector    = (*Connector)(nil)
	_ connector.RequestPacer = (*Connector)(nil)
)

// PacesRequests reports true: every HTTP request and page draws from the
// connection's budget.
func (c *Connector) PacesRequests() bool { return true }

// TestConnection sends the configured test request. Configs without one
// have nothing to test.
func (c *Connector) TestConnection(ctx context.Context) (connector.Status, error) {
	if c.cfg.Test == nil {
		return connector.StatusSkipped, nil
	}
	node := connector.Node{Address: nodeid.New(c.cfg.Name, "test")}
	u, err := c.url(c.cfg.Test, c.params)
	if err != nil {
		return connector.StatusFailed, err
	}
	resp, err := c.req.do(ctx, node, "test", c.cfg.Test.Method, u, nil)
	if err != nil {
		return connector.StatusFailed, err
	}
	if !resp.ok() {
		return connector.StatusFailed, fmt.Errorf("test request returned status %d", resp.status)
	}
	return connector.StatusSucceeded, nil
}

// Query sends the read request once per lookup tuple, following pagination,
// and returns the records deduplicated on the collection's primary key.
func (c *Connector) Query(ctx context.Context, node connector.Node, input record.Input) ([]record.Row, error) {
	ep, err := c.endpoint(node)
	if err != nil {
		return nil, err
	}
	pager := NewPaginator(ep.Read.Pagination)
	post := NewPostProcessors(ep.Read.Postprocessors)
	maxPages := DefaultMaxPages
	if p := ep.Read.Pagination; p != nil && p.MaxPages > 0 {
		maxPages = p.MaxPages
	}

	var out []record.Row
	seen := make(map[string]struct{})
	for _, tuple := range input.Maps() {
		vars := c.vars(tuple)
		u, err := c.url(ep.Read, vars)
		if err != nil {
			return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: err}
		}
		pager.First(u)

		for page := 0; page < maxPages; page++ {
			resp, err := c.req.do(ctx, node, "query", ep.Read.Method, u, nil)
			if err != nil {
				return nil, err
			}
			if resp.status == http.StatusNotFound {
				break
			}
			if !resp.ok() {
				return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: fmt.Errorf("read returned status %d", resp.status)}
			}
			body, err := decodeBody(resp.body)
			if err != nil {
				return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: fmt.Errorf("decoding response: %w", err)}
			}
			rows, err := extract(body, ep.Read.DataPath)
			if err != nil {
				return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: err}
			}
			count := len(rows)
			for _, p := range post {
				if rows, err = p.Process(rows, vars); err != nil {
					return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: err}
				}
			}
			for _, row := range rows {
				k := rowKey(row, node.Collection.PrimaryKeys())
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, row)
			}

			next, more := pager.Next(u, resp.header, body, count)
			if !more {
				break
			}
			if page == maxPages-1 {
				ctxlog.FromContext(ctx).Warn("Pagination stopped at page limit.", "node", node.Address.String(), "max_pages", maxPages)
			}
			u = next
		}
	}
	return out, nil
}

// MaskOrErase sends one update request per masked row, or one delete
// request per row when the strategy deletes. Rows the API no longer knows
// (404) are not counted.
func (c *Connector) MaskOrErase(ctx context.Context, node connector.Node, rows []record.Row, plan connector.MaskingPlan) (int, error) {
	ep, err := c.endpoint(node)
	if err != nil {
		return 0, err
	}
	changes, err := plan.Changes(node, rows)
	if err != nil {
		return 0, err
	}

	affected := 0
	for i, change := range changes {
		vars := c.vars(rows[i])
		maps.Copy(vars, change.Key)

		tmpl, op := ep.Update, "update"
		if change.Values == nil {
			tmpl, op = ep.Delete, "delete"
		}
		if tmpl == nil {
			return affected, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: fmt.Errorf("endpoint has no %s request", op)}
		}
		u, err := c.url(tmpl, vars)
		if err != nil {
			return affected, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
		}
		body, err := c.body(tmpl, vars, change.Values)
		if err != nil {
			return affected, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
		}
		resp, err := c.req.do(ctx, node, "mask", tmpl.Method, u, body)
		if err != nil {
			return affected, err
		}
		switch {
		case resp.ok():
			affected++
		case resp.status == http.StatusNotFound:
		default:
			return affected, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: fmt.Errorf("%s returned status %d", op, resp.status)}
		}
	}
	return affected, nil
}

// Close releases idle connections of a client the connector created.
func (c *Connector) Close() error {
	if c.ownClient {
		c.req.client.CloseIdleConnections()
	}
	return nil
}

func (c *Connector) endpoint(node connector.Node) (saasconfig.Endpoint, error) {
	ep, ok := c.cfg.Endpoints[node.Collection.Name]
	if !ok {
		return saasconfig.Endpoint{}, &privacyerr.ConnectorError{
			Address: node.Address,
			Op:      "query",
			Err:     fmt.Errorf("saas config %q has no endpoint for collection %q", c.cfg.Name, node.Collection.Name),
		}
	}
	return ep, nil
}

// vars layers row or tuple values over the connection params.
func (c *Connector) vars(values map[string]any) map[string]any {
	out := make(map[string]any, len(c.params)+len(values))
	maps.Copy(out, c.params)
	maps.Copy(out, values)
	return out
}

func (c *Connector) url(tmpl *saasconfig.Request, vars map[string]any) (*url.URL, error) {
	path, err := renderPath(tmpl.Path, vars)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", tmpl.Path, err)
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	q := u.Query()
	for k, v := range tmpl.QueryParams {
		val, err := render(v, vars)
		if err != nil {
			return nil, fmt.Errorf("query param %q: %w", k, err)
		}
		q.Set(k, val)
	}
	u.RawQuery = q.Encode()
	return &u, nil
}

func (c *Connector) body(tmpl *saasconfig.Request, vars map[string]any, values map[string]any) ([]byte, error) {
	if len(tmpl.Body) == 0 && values == nil {
		return nil, nil
	}
	doc := make(map[string]any, len(tmpl.Body)+len(values))
	for k, v := range tmpl.Body {
		val, err := render(v, vars)
		if err != nil {
			return nil, fmt.Errorf("body field %q: %w", k, err)
		}
		doc[k] = val
	}
	maps.Copy(doc, values)
	return json.Marshal(doc)
}

// renderPath renders a path template, escaping each substituted value.
func renderPath(tmpl string, vars map[string]any) (string, error) {
	escaped := make(map[string]any, len(vars))
	for k, v := range vars {
		if v == nil {
			continue
		}
		escaped[k] = url.PathEscape(fmt.Sprint(v))
	}
	return render(tmpl, escaped)
}

// extract reads the record list at path, or the whole body when path is
// empty.
func extract(body any, path string) ([]record.Row, error) {
	v, ok := lookup(body, path)
	if !ok {
		return nil, nil
	}
	rows, err := toRows(v)
	if err != nil {
		return nil, fmt.Errorf("data path %q: %w", path, err)
	}
	return rows, nil
}

func rowKey(row record.Row, pks []string) string {
	fields := pks
	if len(fields) == 0 {
		fields = make([]string, 0, len(row))
		for k := range row {
			fields = append(fields, k)
		}
		slices.Sort(fields)
	}
	var sb strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&sb, "%s=%T:%v;", f, row[f], row[f])
	}
	return sb.String()
}
