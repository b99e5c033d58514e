package saas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 32 << 20

// newHTTPClient returns the client used when the module is not given one.
// Per-call deadlines come from the request context.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// requester sends authenticated requests and classifies failures.
type requester struct {
	client  *http.Client
	headers map[string]string
	auth    Authenticator
}

// do waits for the node's request budget and sends one request. Transport
// failures, 429 and 5xx responses become retryable connector errors. Other
// non-2xx responses are returned to the caller, which decides what they
// mean.
func (r *requester) do(ctx context.Context, node connector.Node, op, method string, u *url.URL, body []byte) (*response, error) {
	addr := node.Address
	if err := node.Wait(ctx); err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, &privacyerr.ConnectorError{Address: addr, Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	r.auth.Apply(req)

	ctxlog.FromContext(ctx).Debug("Sending SaaS request.", "node", addr.String(), "method", method, "path", u.Path)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &privacyerr.ConnectorError{Address: addr, Op: op, Err: fmt.Errorf("failed to execute request: %w", err), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &privacyerr.ConnectorError{Address: addr, Op: op, Err: fmt.Errorf("failed to read response body: %w", err), Retryable: true}
	}

	ctxlog.FromContext(ctx).Debug("Received SaaS response.", "node", addr.String(), "status", resp.StatusCode)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &privacyerr.ConnectorError{
			Address:   addr,
			Op:        op,
			Err:       fmt.Errorf("%s %s: %s", method, u.Path, resp.Status),
			Retryable: true,
		}
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}
