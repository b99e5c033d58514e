package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
)

// maxTuplesPerQuery caps the lookup tuples sent in one statement.
const maxTuplesPerQuery = 500

// MySQL server error numbers worth another attempt.
const (
	errLockWaitTimeout   = 1205
	errLockDeadlock      = 1213
	errTooManyConnection = 1040
)

// Connector serves the tables of one database.
type Connector struct {
	name    string
	db      *sql.DB
	dialect dialect
}

var (
	_ connector.Connector    = (*Connector)(nil)
	_ connector.RequestPacer = (*Connector)(nil)
)

// PacesRequests reports true: each query batch and each masking
// transaction draws one token from the connection's budget.
func (c *Connector) PacesRequests() bool { return true }

func (c *Connector) TestConnection(ctx context.Context) (connector.Status, error) {
	if err := c.db.PingContext(ctx); err != nil {
		return connector.StatusFailed, fmt.Errorf("pinging %q: %w", c.name, err)
	}
	return connector.StatusSucceeded, nil
}

// Query selects the rows matching any tuple of the input, in batches.
func (c *Connector) Query(ctx context.Context, node connector.Node, input record.Input) ([]record.Row, error) {
	columns := node.Collection.FieldNames()
	var out []record.Row
	for start := 0; start < len(input.Tuples); start += maxTuplesPerQuery {
		end := min(start+maxTuplesPerQuery, len(input.Tuples))
		batch := record.Input{Fields: input.Fields, Tuples: input.Tuples[start:end]}
		if err := node.Wait(ctx); err != nil {
			return nil, err
		}

		query, args := c.dialect.selectQuery(node.Collection.Name, columns, batch)
		ctxlog.FromContext(ctx).Debug("Running SQL query.", "node", node.Address.String(), "tuples", len(batch.Tuples))

		rows, err := c.scan(ctx, query, args)
		if err != nil {
			return nil, classify(node.Address, "query", err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (c *Connector) scan(ctx context.Context, query string, args []any) ([]record.Row, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []record.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(record.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, record.NormalizeRow(row))
	}
	return out, rows.Err()
}

// MaskOrErase applies the plan to every row inside one transaction. Either
// all statements commit or none do. The budget is waited on before the
// transaction opens, never while it holds locks.
func (c *Connector) MaskOrErase(ctx context.Context, node connector.Node, rows []record.Row, plan connector.MaskingPlan) (n int, err error) {
	changes, err := plan.Changes(node, rows)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	if err := node.Wait(ctx); err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(node.Address, "mask", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	table := node.Collection.Name
	affected := 0
	for _, ch := range changes {
		var query string
		var args []any
		if ch.Values == nil {
			query, args = c.dialect.deleteQuery(table, ch.Key)
		} else {
			query, args = c.dialect.updateQuery(table, ch.Values, ch.Key)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, classify(node.Address, "mask", err)
		}
		if rows, err := res.RowsAffected(); err == nil {
			affected += int(rows)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(node.Address, "mask", err)
	}
	return affected, nil
}

func (c *Connector) Close() error {
	return c.db.Close()
}

// classify wraps a driver error, marking the failures a retry can fix.
func classify(addr nodeid.Address, op string, err error) error {
	return &privacyerr.ConnectorError{Address: addr, Op: op, Err: err, Retryable: retryable(err)}
}

func retryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockWaitTimeout, errLockDeadlock, errTooManyConnection:
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
