package manual

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/registry"
	"github.com/specialistvlad/privacyflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnector(t *testing.T, dir string) connector.Connector {
	t.Helper()
	r := registry.New()
	(&Module{}).Register(r)
	factory, ok := r.Factory(Kind)
	require.True(t, ok)
	conn, err := factory(context.Background(), &config.Connection{Name: "paper", Kind: Kind, Params: map[string]string{"dir": dir}})
	require.NoError(t, err)
	return conn
}

var archiveNode = connector.Node{
	Address:    nodeid.New("paper", "archive"),
	Collection: &config.Collection{Name: "archive", Fields: []*config.Field{{Name: "id", PrimaryKey: true}, {Name: "email"}}},
	RequestID:  "req-1",
}

func TestTestConnection_Skipped(t *testing.T) {
	status, err := newConnector(t, t.TempDir()).TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, connector.StatusSkipped, status)
}

func TestQuery(t *testing.T) {
	dir := t.TempDir()
	conn := newConnector(t, dir)
	ctx := testutil.Context(t)

	rows, err := conn.Query(ctx, archiveNode, record.Single("email", "a@x.com"))
	require.NoError(t, err)
	assert.Empty(t, rows, "missing upload means no rows")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "paper"), 0o755))
	upload := `[{"id": 1, "email": "a@x.com"}, {"id": 2, "email": "b@x.com"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paper", "archive.json"), []byte(upload), 0o644))

	rows, err = conn.Query(ctx, archiveNode, record.Single("email", "a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, []record.Row{{"id": int64(1), "email": "a@x.com"}}, rows)
}

func TestMaskOrErase_AppendsTasks(t *testing.T) {
	dir := t.TempDir()
	conn := newConnector(t, dir)
	conn.(*Connector).now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := testutil.Context(t)

	rows := []record.Row{{"id": int64(1), "email": "a@x.com"}}
	n, err := conn.MaskOrErase(ctx, archiveNode, rows, connector.MaskingPlan{Strategy: masking.NullRewrite{}, Fields: []string{"email"}, PrimaryKeys: []string{"id"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = conn.MaskOrErase(ctx, archiveNode, rows, connector.MaskingPlan{Strategy: masking.Delete{}, PrimaryKeys: []string{"id"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := os.Open(filepath.Join(dir, TaskFile))
	require.NoError(t, err)
	defer f.Close()
	var tasks []Task
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var task Task
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &task))
		tasks = append(tasks, task)
	}
	require.Len(t, tasks, 2)
	assert.Equal(t, "req-1", tasks[0].RequestID)
	assert.Equal(t, "paper:archive", tasks[0].Collection)
	assert.Equal(t, map[string]any{"email": nil}, tasks[0].Values)
	assert.False(t, tasks[0].Delete)
	assert.True(t, tasks[1].Delete)
}
