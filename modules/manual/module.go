// Package manual provides the connector for stores no system can reach.
// Access data is uploaded by an operator as one JSON file per collection,
// and erasures are written to a task file for an operator to carry out.
package manual

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/registry"
)

// Kind is the connection kind served by this module.
const Kind = "manual"

// TaskFile is the name of the erasure task log inside the connection dir.
const TaskFile = "erasure_tasks.jsonl"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the manual connector factory.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterConnector(Kind, func(_ context.Context, conn *config.Connection) (connector.Connector, error) {
		dir := conn.Params["dir"]
		if dir == "" {
			return nil, privacyerr.Validationf("connection "+conn.Name, "manual connections need a dir param")
		}
		return &Connector{dir: dir, now: time.Now}, nil
	})
}

// Task is one erasure instruction for an operator.
type Task struct {
	RequestID  string         `json:"request_id"`
	Collection string         `json:"collection"`
	Key        map[string]any `json:"key"`
	// Values is empty when the row must be deleted.
	Values    map[string]any `json:"values,omitempty"`
	Delete    bool           `json:"delete"`
	CreatedAt time.Time      `json:"created_at"`
}

// Connector reads uploaded collection files and appends erasure tasks.
type Connector struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// TestConnection has nothing to reach.
func (c *Connector) TestConnection(context.Context) (connector.Status, error) {
	return connector.StatusSkipped, nil
}

// Query returns the uploaded rows matching the input. A collection without
// an uploaded file has no rows yet.
func (c *Connector) Query(ctx context.Context, node connector.Node, input record.Input) ([]record.Row, error) {
	path := filepath.Join(c.dir, node.Address.Dataset, node.Collection.Name+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		ctxlog.FromContext(ctx).Info("No manual upload for collection.", "node", node.Address.String(), "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []record.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: fmt.Errorf("decoding %s: %w", path, err)}
	}
	var out []record.Row
	for _, row := range rows {
		row = record.NormalizeRow(row)
		if connector.Match(row, input) {
			out = append(out, row)
		}
	}
	return out, nil
}

// MaskOrErase records one task per row. The rows count as affected once the
// task is written.
func (c *Connector) MaskOrErase(ctx context.Context, node connector.Node, rows []record.Row, plan connector.MaskingPlan) (int, error) {
	changes, err := plan.Changes(node, rows)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ch := range changes {
		task := Task{
			RequestID:  node.RequestID,
			Collection: node.Address.String(),
			Key:        ch.Key,
			Values:     ch.Values,
			Delete:     ch.Values == nil,
			CreatedAt:  c.now().UTC(),
		}
		if err := enc.Encode(task); err != nil {
			return 0, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return 0, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
	}
	f, err := os.OpenFile(filepath.Join(c.dir, TaskFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return 0, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
	}
	ctxlog.FromContext(ctx).Info("Recorded manual erasure tasks.", "node", node.Address.String(), "tasks", len(changes))
	return len(changes), nil
}

func (c *Connector) Close() error { return nil }
