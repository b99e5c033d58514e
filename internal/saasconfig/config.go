// Package saasconfig loads the YAML descriptions of SaaS connections: the
// base URL, the authentication scheme, and one endpoint per collection with
// its read, update and delete requests.
//
// Documents are decoded strictly. Unknown keys, a missing schema_version or
// a strategy without its required settings are reported as a
// *privacyerr.ValidationError when the file is loaded, never at query time.
package saasconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersion is the only schema_version this build reads.
const SupportedSchemaVersion = 1

// Auth types.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "api_key"
)

// Pagination types.
const (
	PageNone   = "none"
	PageOffset = "offset"
	PageCursor = "cursor"
	PageLink   = "link"
)

// Postprocessor types.
const (
	PostUnwrap = "unwrap"
	PostFilter = "filter"
)

// Config is one SaaS connection description.
type Config struct {
	SchemaVersion int                 `yaml:"schema_version" validate:"required,eq=1"`
	Name          string              `yaml:"name" validate:"required"`
	BaseURL       string              `yaml:"base_url" validate:"required,url"`
	Headers       map[string]string   `yaml:"headers"`
	Auth          Auth                `yaml:"auth"`
	Test          *Request            `yaml:"test"`
	Endpoints     map[string]Endpoint `yaml:"endpoints" validate:"required,min=1,dive"`
}

// Auth names the scheme and the connection params that hold its secrets.
// Secrets never live in the YAML file itself.
type Auth struct {
	Type          string `yaml:"type" validate:"omitempty,oneof=none bearer basic api_key"`
	TokenParam    string `yaml:"token_param" validate:"required_if=Type bearer"`
	UsernameParam string `yaml:"username_param" validate:"required_if=Type basic"`
	PasswordParam string `yaml:"password_param" validate:"required_if=Type basic"`
	KeyParam      string `yaml:"key_param" validate:"required_if=Type api_key"`
	// Header carries the api key. When empty the key is sent as the query
	// parameter named by QueryParam.
	Header     string `yaml:"header"`
	QueryParam string `yaml:"query_param"`
}

// Endpoint describes the requests of one collection.
type Endpoint struct {
	Read   *Request `yaml:"read" validate:"required"`
	Update *Request `yaml:"update"`
	Delete *Request `yaml:"delete"`
}

// Request is one HTTP call template. Path, query parameter and body values
// may hold {field} placeholders, resolved from the lookup tuple on reads
// and from the target row on updates and deletes.
type Request struct {
	Method      string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Path        string            `yaml:"path" validate:"required,startswith=/"`
	QueryParams map[string]string `yaml:"query_params"`
	// Body is a template of a JSON object. Updates add the masked fields.
	Body map[string]string `yaml:"body"`
	// DataPath is the dotted path of the record list inside the response.
	DataPath       string          `yaml:"data_path"`
	Pagination     *Pagination     `yaml:"pagination"`
	Postprocessors []Postprocessor `yaml:"postprocessors" validate:"dive"`
}

// Pagination selects how further pages are requested.
type Pagination struct {
	Type string `yaml:"type" validate:"required,oneof=none offset cursor link"`
	// Limit is the page size sent with offset pagination.
	Limit       int    `yaml:"limit" validate:"required_if=Type offset,gte=0"`
	LimitParam  string `yaml:"limit_param"`
	OffsetParam string `yaml:"offset_param"`
	// CursorPath is the dotted path of the next cursor in the response.
	CursorPath  string `yaml:"cursor_path" validate:"required_if=Type cursor"`
	CursorParam string `yaml:"cursor_param" validate:"required_if=Type cursor"`
	// MaxPages bounds the number of requests per lookup tuple.
	MaxPages int `yaml:"max_pages" validate:"gte=0"`
}

// Postprocessor reshapes the records of a response.
type Postprocessor struct {
	Type     string `yaml:"type" validate:"required,oneof=unwrap filter"`
	DataPath string `yaml:"data_path" validate:"required_if=Type unwrap"`
	Field    string `yaml:"field" validate:"required_if=Type filter"`
	// Value may be a {field} placeholder.
	Value string `yaml:"value" validate:"required_if=Type filter"`
}

var validate = validator.New()

// Load reads and validates the description at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &privacyerr.ValidationError{Subject: "saas config " + path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var ve *privacyerr.ValidationError
		if errors.As(err, &ve) {
			ve.Subject = "saas config " + path
			return nil, ve
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a description held in memory.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, &privacyerr.ValidationError{Subject: "saas config", Err: fmt.Errorf("parse: %w", err)}
	}
	cfg.applyDefaults()
	if err := validate.Struct(&cfg); err != nil {
		return nil, &privacyerr.ValidationError{Subject: "saas config", Err: describe(err)}
	}
	if cfg.Auth.Type == AuthAPIKey && cfg.Auth.Header == "" && cfg.Auth.QueryParam == "" {
		return nil, privacyerr.Validationf("saas config", "api_key auth needs a header or a query_param")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Auth.Type == "" {
		c.Auth.Type = AuthNone
	}
	for name, ep := range c.Endpoints {
		ep.Read.defaults("GET")
		if ep.Update != nil {
			ep.Update.defaults("PUT")
		}
		if ep.Delete != nil {
			ep.Delete.defaults("DELETE")
		}
		c.Endpoints[name] = ep
	}
	if c.Test != nil {
		c.Test.defaults("GET")
	}
}

func (r *Request) defaults(method string) {
	if r == nil {
		return
	}
	if r.Method == "" {
		r.Method = method
	}
	if p := r.Pagination; p != nil {
		if p.LimitParam == "" {
			p.LimitParam = "limit"
		}
		if p.OffsetParam == "" {
			p.OffsetParam = "offset"
		}
	}
}

// describe flattens validator errors into one readable error.
func describe(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
