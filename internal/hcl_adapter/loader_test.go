package hcl_adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectionsHCL = `
connection "app_db" {
  kind    = "sqlite"
  timeout = "5s"
  params = {
    path          = env("PRIVACYFLOW_TEST_DB", "/tmp/app.db")
    max_open_conns = 4
  }
  rate_limit {
    requests = 10
    period   = "1s"
    burst    = 2
  }
}

connection "crm" {
  kind        = "saas"
  saas_config = "saas/crm.yaml"
  params = {
    token = env("PRIVACYFLOW_TEST_TOKEN")
  }
}

policy "default" {
  access_categories  = ["user"]
  erasure_categories = ["user.contact"]
}

export {
  kind   = "s3"
  bucket = "privacy"
  region = "eu-west-1"
}
`

const datasetsHCL = `
dataset "app" {
  connection = "app_db"

  collection "users" {
    field "id" {
      data_type   = "integer"
      primary_key = true
      categories  = ["user.unique_id"]
    }
    field "email" {
      identity   = "email"
      categories = ["user.contact.email"]
    }
  }

  collection "orders" {
    erase_after = ["app:users"]
    field "id" {
      primary_key = true
    }
    field "user_id" {
      categories = ["user.unique_id"]
      reference {
        to    = "app:users"
        field = "id"
      }
    }
  }
}
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return dir
}

func TestLoad_MergesFiles(t *testing.T) {
	t.Setenv("PRIVACYFLOW_TEST_TOKEN", "s3cret")
	ctx := testutil.Context(t)
	dir := writeFiles(t, map[string]string{
		"connections.hcl":      connectionsHCL,
		"datasets/app.hcl":     datasetsHCL,
		"datasets/ignored.txt": "not hcl",
	})

	model, err := NewLoader().Load(ctx, dir)
	require.NoError(t, err)

	db := model.Connections["app_db"]
	require.NotNil(t, db)
	assert.Equal(t, "sqlite", db.Kind)
	assert.Equal(t, 5*time.Second, db.Timeout)
	assert.Equal(t, map[string]string{"path": "/tmp/app.db", "max_open_conns": "4"}, db.Params)
	assert.Equal(t, []config.RateLimit{{Requests: 10, Period: time.Second, Burst: 2}}, db.RateLimits)

	crm := model.Connections["crm"]
	require.NotNil(t, crm)
	assert.Equal(t, "s3cret", crm.Params["token"])
	assert.Equal(t, filepath.Join(dir, "saas", "crm.yaml"), crm.SaaSConfig, "relative to the declaring file")

	require.Len(t, model.Datasets, 1)
	_, orders, ok := model.Collection(nodeid.New("app", "orders"))
	require.True(t, ok)
	assert.Equal(t, []nodeid.Address{nodeid.New("app", "users")}, orders.EraseAfter)
	ref, ok := orders.Field("user_id")
	require.True(t, ok)
	assert.Equal(t, []config.Reference{{Dataset: "app", Collection: "users", Field: "id", Direction: config.DirectionFrom}}, ref.References)

	assert.Equal(t, "null_rewrite", model.Policies["default"].Masking)
	require.NotNil(t, model.Export)
	assert.Equal(t, "privacy", model.Export.Bucket)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "syntax error",
			files:   map[string]string{"a.hcl": `connection "x" {`},
			wantErr: "a.hcl",
		},
		{
			name:    "unset env without default",
			files:   map[string]string{"a.hcl": "connection \"x\" {\n kind = \"manual\"\n params = { dir = env(\"PRIVACYFLOW_TEST_UNSET\") }\n}"},
			wantErr: "PRIVACYFLOW_TEST_UNSET is not set",
		},
		{
			name:    "nested params",
			files:   map[string]string{"a.hcl": "connection \"x\" {\n kind = \"manual\"\n params = { dir = { a = 1 } }\n}"},
			wantErr: "must be a map of strings",
		},
		{
			name: "duplicate connection across files",
			files: map[string]string{
				"a.hcl": `connection "x" { kind = "manual" }`,
				"b.hcl": `connection "x" { kind = "manual" }`,
			},
			wantErr: `connection "x" is declared more than once`,
		},
		{
			name:    "bad rate limit period",
			files:   map[string]string{"a.hcl": "connection \"x\" {\n kind = \"manual\"\n rate_limit {\n requests = 1\n period = \"soon\"\n }\n}"},
			wantErr: "rate_limit period",
		},
		{
			name:    "bad reference target",
			files:   map[string]string{"a.hcl": "connection \"x\" { kind = \"manual\" }\ndataset \"d\" {\n connection = \"x\"\n collection \"c\" {\n field \"f\" {\n reference {\n to = \"nocolon\"\n field = \"id\"\n }\n }\n }\n}"},
			wantErr: "missing the ':' separator",
		},
		{
			name:    "unknown connection",
			files:   map[string]string{"a.hcl": `dataset "d" { connection = "nope" }`},
			wantErr: `unknown connection "nope"`,
		},
		{
			name:    "unknown attribute",
			files:   map[string]string{"a.hcl": "connection \"x\" {\n kind = \"manual\"\n flavour = \"mint\"\n}"},
			wantErr: "flavour",
		},
		{
			name:    "two export blocks",
			files:   map[string]string{"a.hcl": `export { kind = "s3" } ` + "\n" + `export { kind = "presigned" }`},
			wantErr: "export is declared more than once",
		},
		{
			name:    "no hcl files",
			files:   map[string]string{"readme.md": "# nothing"},
			wantErr: "no .hcl files found",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeFiles(t, tc.files)

			_, err := NewLoader().Load(testutil.Context(t), dir)

			require.Error(t, err)
			var vErr *privacyerr.ValidationError
			assert.ErrorAs(t, err, &vErr)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := NewLoader().Load(testutil.Context(t), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoad_SingleFileDeduplicated(t *testing.T) {
	t.Setenv("PRIVACYFLOW_TEST_TOKEN", "x")
	dir := writeFiles(t, map[string]string{"all.hcl": connectionsHCL})
	file := filepath.Join(dir, "all.hcl")

	model, err := NewLoader().Load(testutil.Context(t), file, dir)

	require.NoError(t, err, "the same file reached twice is loaded once")
	assert.Len(t, model.Connections, 2)
}
