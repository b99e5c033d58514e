package saas

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/specialistvlad/privacyflow/internal/saasconfig"
)

// Paginator decides whether a response has a next page and where it is.
type Paginator interface {
	// First prepares the URL of the first page.
	First(u *url.URL)
	// Next returns the URL of the page after current. count is the number of
	// records the current page yielded before post-processing.
	Next(current *url.URL, header http.Header, body any, count int) (*url.URL, bool)
}

// SinglePage never requests a second page.
type SinglePage struct{}

func (SinglePage) First(*url.URL) {}

func (SinglePage) Next(*url.URL, http.Header, any, int) (*url.URL, bool) { return nil, false }

// OffsetPaginator advances an offset parameter by the page size until a
// short page comes back.
type OffsetPaginator struct {
	Limit       int
	LimitParam  string
	OffsetParam string
}

func (p OffsetPaginator) First(u *url.URL) {
	q := u.Query()
	q.Set(p.LimitParam, strconv.Itoa(p.Limit))
	q.Set(p.OffsetParam, "0")
	u.RawQuery = q.Encode()
}

func (p OffsetPaginator) Next(current *url.URL, _ http.Header, _ any, count int) (*url.URL, bool) {
	if count < p.Limit {
		return nil, false
	}
	next := *current
	q := next.Query()
	offset, _ := strconv.Atoi(q.Get(p.OffsetParam))
	q.Set(p.OffsetParam, strconv.Itoa(offset+p.Limit))
	next.RawQuery = q.Encode()
	return &next, true
}

// CursorPaginator reads the next cursor from the response body.
type CursorPaginator struct {
	CursorPath  string
	CursorParam string
}

func (CursorPaginator) First(*url.URL) {}

func (p CursorPaginator) Next(current *url.URL, _ http.Header, body any, _ int) (*url.URL, bool) {
	v, ok := lookup(body, p.CursorPath)
	if !ok || v == nil {
		return nil, false
	}
	cursor := fmt.Sprint(v)
	if cursor == "" {
		return nil, false
	}
	next := *current
	q := next.Query()
	q.Set(p.CursorParam, cursor)
	next.RawQuery = q.Encode()
	return &next, true
}

// LinkPaginator follows the rel="next" entry of the Link header.
type LinkPaginator struct{}

func (LinkPaginator) First(*url.URL) {}

func (LinkPaginator) Next(current *url.URL, header http.Header, _ any, _ int) (*url.URL, bool) {
	for _, header := range header.Values("Link") {
		for _, part := range strings.Split(header, ",") {
			target, params, found := strings.Cut(strings.TrimSpace(part), ";")
			if !found || !isNextRel(params) {
				continue
			}
			target = strings.Trim(strings.TrimSpace(target), "<>")
			ref, err := url.Parse(target)
			if err != nil {
				return nil, false
			}
			return current.ResolveReference(ref), true
		}
	}
	return nil, false
}

func isNextRel(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.TrimSpace(k) == "rel" && strings.Trim(strings.TrimSpace(v), `"`) == "next" {
			return true
		}
	}
	return false
}

// NewPaginator builds the paginator of a request config.
func NewPaginator(cfg *saasconfig.Pagination) Paginator {
	if cfg == nil {
		return SinglePage{}
	}
	switch cfg.Type {
	case saasconfig.PageOffset:
		return OffsetPaginator{Limit: cfg.Limit, LimitParam: cfg.LimitParam, OffsetParam: cfg.OffsetParam}
	case saasconfig.PageCursor:
		return CursorPaginator{CursorPath: cfg.CursorPath, CursorParam: cfg.CursorParam}
	case saasconfig.PageLink:
		return LinkPaginator{}
	default:
		return SinglePage{}
	}
}
