// Package sqldb provides the relational connectors. Collections map to
// tables and fields to columns; lookups become parameterized SELECTs and
// erasures become UPDATE or DELETE statements by primary key, run in one
// transaction per node.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/registry"
)

// Connection kinds served by this module.
const (
	KindSQLite = "sqlite"
	KindMySQL  = "mysql"
)

// Module implements the registry.Module interface for relational stores.
type Module struct {
	// Open replaces sql.Open when set.
	Open func(driver, dsn string) (*sql.DB, error)
}

// Register registers one factory per supported engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterConnector(KindSQLite, m.factory(sqliteDialect, sqliteDSN))
	r.RegisterConnector(KindMySQL, m.factory(mysqlDialect, mysqlDSN))
}

func (m *Module) factory(d dialect, dsn func(params map[string]string) (string, error)) connector.Factory {
	return func(ctx context.Context, conn *config.Connection) (connector.Connector, error) {
		source, err := dsn(conn.Params)
		if err != nil {
			return nil, &privacyerr.ValidationError{Subject: "connection " + conn.Name, Err: err}
		}
		open := m.Open
		if open == nil {
			open = sql.Open
		}
		db, err := open(d.driver, source)
		if err != nil {
			return nil, fmt.Errorf("opening %s connection %q: %w", conn.Kind, conn.Name, err)
		}
		db.SetMaxOpenConns(intParam(conn.Params, "max_open_conns", 10))
		db.SetMaxIdleConns(intParam(conn.Params, "max_idle_conns", 2))
		db.SetConnMaxIdleTime(5 * time.Minute)
		return &Connector{name: conn.Name, db: db, dialect: d}, nil
	}
}

func sqliteDSN(params map[string]string) (string, error) {
	if dsn := params["dsn"]; dsn != "" {
		return dsn, nil
	}
	path := params["path"]
	if path == "" {
		return "", fmt.Errorf("sqlite connections need a path or dsn param")
	}
	return "file:" + path + "?_busy_timeout=5000&_foreign_keys=on", nil
}

func mysqlDSN(params map[string]string) (string, error) {
	if dsn := params["dsn"]; dsn != "" {
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return "", err
		}
		return dsn, nil
	}
	if params["host"] == "" || params["database"] == "" {
		return "", fmt.Errorf("mysql connections need a dsn or host and database params")
	}
	port := params["port"]
	if port == "" {
		port = "3306"
	}

	cfg := mysql.NewConfig()
	cfg.User = params["user"]
	cfg.Passwd = params["password"]
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params["host"], port)
	cfg.DBName = params["database"]
	cfg.ParseTime = true
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN(), nil
}

func intParam(params map[string]string, name string, def int) int {
	if v, err := strconv.Atoi(params[name]); err == nil && v > 0 {
		return v
	}
	return def
}
