package saas

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/saasconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticator(t *testing.T) {
	params := map[string]string{"token": "t0k", "user": "ann", "pass": "secret", "key": "k3y"}

	testCases := []struct {
		name   string
		cfg    saasconfig.Auth
		verify func(t *testing.T, req *http.Request)
	}{
		{
			name: "none",
			cfg:  saasconfig.Auth{Type: saasconfig.AuthNone},
			verify: func(t *testing.T, req *http.Request) {
				assert.Empty(t, req.Header.Get("Authorization"))
			},
		},
		{
			name: "bearer",
			cfg:  saasconfig.Auth{Type: saasconfig.AuthBearer, TokenParam: "token"},
			verify: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "Bearer t0k", req.Header.Get("Authorization"))
			},
		},
		{
			name: "basic",
			cfg:  saasconfig.Auth{Type: saasconfig.AuthBasic, UsernameParam: "user", PasswordParam: "pass"},
			verify: func(t *testing.T, req *http.Request) {
				user, pass, ok := req.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, "ann", user)
				assert.Equal(t, "secret", pass)
			},
		},
		{
			name: "api key header",
			cfg:  saasconfig.Auth{Type: saasconfig.AuthAPIKey, KeyParam: "key", Header: "X-Api-Key"},
			verify: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "k3y", req.Header.Get("X-Api-Key"))
			},
		},
		{
			name: "api key query",
			cfg:  saasconfig.Auth{Type: saasconfig.AuthAPIKey, KeyParam: "key", QueryParam: "api_key"},
			verify: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "k3y", req.URL.Query().Get("api_key"))
				assert.Equal(t, "1", req.URL.Query().Get("page"))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			auth, err := NewAuthenticator(tc.cfg, params)
			require.NoError(t, err)
			req, err := http.NewRequest(http.MethodGet, "https://api.test/x?page=1", nil)
			require.NoError(t, err)
			auth.Apply(req)
			tc.verify(t, req)
		})
	}
}

func TestNewAuthenticator_MissingSecret(t *testing.T) {
	_, err := NewAuthenticator(saasconfig.Auth{Type: saasconfig.AuthBearer, TokenParam: "token"}, nil)
	var ve *privacyerr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), `connection param "token"`)
}

func TestOffsetPaginator(t *testing.T) {
	p := OffsetPaginator{Limit: 2, LimitParam: "limit", OffsetParam: "offset"}
	u, _ := url.Parse("https://api.test/items?q=a")
	p.First(u)
	assert.Equal(t, "0", u.Query().Get("offset"))
	assert.Equal(t, "2", u.Query().Get("limit"))

	next, ok := p.Next(u, nil, nil, 2)
	require.True(t, ok)
	assert.Equal(t, "2", next.Query().Get("offset"))
	assert.Equal(t, "a", next.Query().Get("q"))
	assert.Equal(t, "0", u.Query().Get("offset"), "current URL is not modified")

	_, ok = p.Next(next, nil, nil, 1)
	assert.False(t, ok, "a short page is the last one")
}

func TestCursorPaginator(t *testing.T) {
	p := CursorPaginator{CursorPath: "meta.next", CursorParam: "cursor"}
	u, _ := url.Parse("https://api.test/items")

	next, ok := p.Next(u, nil, map[string]any{"meta": map[string]any{"next": "abc"}}, 10)
	require.True(t, ok)
	assert.Equal(t, "abc", next.Query().Get("cursor"))

	_, ok = p.Next(u, nil, map[string]any{"meta": map[string]any{"next": nil}}, 10)
	assert.False(t, ok)
	_, ok = p.Next(u, nil, map[string]any{"meta": map[string]any{"next": ""}}, 10)
	assert.False(t, ok)
}

func TestLinkPaginator(t *testing.T) {
	u, _ := url.Parse("https://api.test/items?page=1")
	testCases := []struct {
		name   string
		header string
		want   string
	}{
		{name: "relative next", header: `</items?page=2>; rel="next", </items?page=9>; rel="last"`, want: "https://api.test/items?page=2"},
		{name: "absolute next after prev", header: `<https://api.test/items?page=0>; rel="prev", <https://api.test/items?page=2>; rel=next`, want: "https://api.test/items?page=2"},
		{name: "no next", header: `</items?page=9>; rel="last"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := LinkPaginator{}.Next(u, http.Header{"Link": {tc.header}}, nil, 0)
			if tc.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.want, next.String())
		})
	}
}

func TestPostProcessors(t *testing.T) {
	rows := []record.Row{
		{"contact": map[string]any{"id": "1", "email": "A@x.com"}},
		{"contact": []any{
			map[string]any{"id": "2", "email": "b@x.com"},
			map[string]any{"id": "3", "email": "a@x.com"},
		}},
		{"other": true},
	}
	chain := NewPostProcessors([]saasconfig.Postprocessor{
		{Type: saasconfig.PostUnwrap, DataPath: "contact"},
		{Type: saasconfig.PostFilter, Field: "email", Value: "{email}"},
	})

	var err error
	for _, p := range chain {
		rows, err = p.Process(rows, map[string]any{"email": "a@x.com"})
		require.NoError(t, err)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0]["id"])
	assert.Equal(t, "3", rows[1]["id"])
}

func TestRender(t *testing.T) {
	out, err := render("/users/{id}/orders", map[string]any{"id": int64(7)})
	require.NoError(t, err)
	assert.Equal(t, "/users/7/orders", out)

	_, err = render("/users/{id}/{org}", map[string]any{"id": 1})
	assert.EqualError(t, err, "no value for placeholder(s) org")
}
