package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/privacyflow/internal/app"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/hcl_adapter"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/modules/manual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manualHCL = `
connection "uploads" {
  kind = "manual"
  params = {
    dir = "%s"
  }
}

dataset "crm" {
  connection = "uploads"
  collection "contacts" {
    field "id" {
      primary_key = true
      categories  = ["user.unique_id"]
    }
    field "email" {
      identity   = "email"
      categories = ["user.contact.email"]
    }
    field "name" {
      categories = ["user.name"]
    }
  }
}

policy "default" {
  access_categories  = ["user"]
  erasure_categories = ["user.name"]
}
`

func newApp(logW io.Writer, cfg *app.Config) *app.App {
	return app.NewApp(logW, cfg, hcl_adapter.NewLoader())
}

type env struct {
	dataDir  string
	baseArgs []string
}

func setup(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "crm"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "crm", "contacts.json"),
		[]byte(`[{"id": 1, "email": "a@x.com", "name": "Ann"}, {"id": 2, "email": "b@x.com", "name": "Bob"}]`), 0o600))
	cfgDir := filepath.Join(dir, "config")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "privacy.hcl"), []byte(fmt.Sprintf(manualHCL, dataDir)), 0o600))
	return env{
		dataDir:  dataDir,
		baseArgs: []string{"--config", cfgDir, "--state-dir", filepath.Join(dir, "state"), "--log-level", "error"},
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Execute(context.Background(), args, Streams{Out: &out, Err: &errOut}, newApp)
	return out.String(), err
}

func TestRunStatusResult(t *testing.T) {
	e := setup(t)

	out, err := execute(t, append(e.baseArgs, "run", "--id", "req-1", "--identity", "email=a@x.com")...)
	require.NoError(t, err)
	var res engine.MergedResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, request.StatusComplete, res.Status)
	require.Len(t, res.Access["crm:contacts"], 1)
	assert.Equal(t, "Ann", res.Access["crm:contacts"][0]["name"])

	out, err = execute(t, append(e.baseArgs, "status", "req-1")...)
	require.NoError(t, err)
	assert.Regexp(t, `status:\s+complete`, out)
	assert.Regexp(t, `mode:\s+access`, out)

	out, err = execute(t, append(e.baseArgs, "result", "req-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"request_id": "req-1"`)
}

func TestRunErasureWritesManualTasks(t *testing.T) {
	e := setup(t)

	out, err := execute(t, append(e.baseArgs, "run", "--mode", "erasure", "--identity", "email=b@x.com")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"crm:contacts": 1`)

	data, err := os.ReadFile(filepath.Join(e.dataDir, manual.TaskFile))
	require.NoError(t, err)
	var task manual.Task
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &task))
	assert.Equal(t, "crm:contacts", task.Collection)
	assert.Equal(t, map[string]any{"id": float64(2)}, task.Key)
	assert.Equal(t, map[string]any{"name": nil}, task.Values)
}

func TestTestConnectionAndPurge(t *testing.T) {
	e := setup(t)

	out, err := execute(t, append(e.baseArgs, "test-connection")...)
	require.NoError(t, err)
	assert.Regexp(t, `uploads\s+manual\s+skipped`, out)

	out, err = execute(t, append(e.baseArgs, "purge")...)
	require.NoError(t, err)
	assert.Contains(t, out, "purged 0 request(s)")
}

func TestExitCodes(t *testing.T) {
	e := setup(t)
	testCases := []struct {
		name     string
		args     []string
		wantCode int
		wantMsg  string
	}{
		{name: "unknown flag", args: []string{"run", "--flavour", "mint"}, wantCode: CodeUsage, wantMsg: "unknown flag: --flavour"},
		{name: "missing config", args: []string{"run", "--identity", "email=a@x.com"}, wantCode: CodeUsage, wantMsg: "ConfigPaths is required"},
		{name: "bad mode", args: append(e.baseArgs, "run", "--mode", "export", "--identity", "email=a@x.com"), wantCode: CodeUsage, wantMsg: "unknown mode"},
		{name: "no identity", args: append(e.baseArgs, "run"), wantCode: CodeUsage, wantMsg: "identity"},
		{name: "unknown policy", args: append(e.baseArgs, "run", "--policy", "gdpr", "--identity", "email=a@x.com"), wantCode: CodeUsage, wantMsg: `unknown policy "gdpr"`},
		{name: "unknown request", args: append(e.baseArgs, "status", "nope"), wantCode: CodeUsage, wantMsg: "request not found"},
		{name: "missing argument", args: append(e.baseArgs, "status"), wantCode: CodeUsage, wantMsg: "accepts 1 arg"},
		{name: "unknown command", args: []string{"explode"}, wantCode: CodeUsage, wantMsg: "unknown command"},
		{name: "unknown connection", args: append(e.baseArgs, "test-connection", "ghost"), wantCode: CodeUsage, wantMsg: `unknown connection "ghost"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, tc.wantCode, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantMsg)
		})
	}
}

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "test-connection")
}
