package saas

import (
	"net/http"

	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/saasconfig"
)

// Authenticator decorates every outgoing request with credentials.
type Authenticator interface {
	Apply(req *http.Request)
}

// NoAuth sends requests as they are.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}

// BearerAuth sets an Authorization: Bearer header.
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// BasicAuth uses HTTP basic authentication.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(a.Username, a.Password)
}

// APIKeyAuth sends a key in a header, or in a query parameter when Header
// is empty.
type APIKeyAuth struct {
	Key        string
	Header     string
	QueryParam string
}

func (a APIKeyAuth) Apply(req *http.Request) {
	if a.Header != "" {
		req.Header.Set(a.Header, a.Key)
		return
	}
	q := req.URL.Query()
	q.Set(a.QueryParam, a.Key)
	req.URL.RawQuery = q.Encode()
}

// NewAuthenticator builds the authenticator of a config, reading secrets
// from the connection params.
func NewAuthenticator(cfg saasconfig.Auth, params map[string]string) (Authenticator, error) {
	secret := func(param string) (string, error) {
		v, ok := params[param]
		if !ok || v == "" {
			return "", privacyerr.Validationf("saas auth", "%s auth needs connection param %q", cfg.Type, param)
		}
		return v, nil
	}

	switch cfg.Type {
	case "", saasconfig.AuthNone:
		return NoAuth{}, nil
	case saasconfig.AuthBearer:
		token, err := secret(cfg.TokenParam)
		if err != nil {
			return nil, err
		}
		return BearerAuth{Token: token}, nil
	case saasconfig.AuthBasic:
		user, err := secret(cfg.UsernameParam)
		if err != nil {
			return nil, err
		}
		pass, err := secret(cfg.PasswordParam)
		if err != nil {
			return nil, err
		}
		return BasicAuth{Username: user, Password: pass}, nil
	case saasconfig.AuthAPIKey:
		key, err := secret(cfg.KeyParam)
		if err != nil {
			return nil, err
		}
		return APIKeyAuth{Key: key, Header: cfg.Header, QueryParam: cfg.QueryParam}, nil
	default:
		return nil, privacyerr.Validationf("saas auth", "unknown auth type %q", cfg.Type)
	}
}
