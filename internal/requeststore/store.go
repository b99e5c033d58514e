// Package requeststore persists privacy requests and their outcome in a
// SQLite file, so status, results and resumption survive a restart of the
// process that submitted them.
package requeststore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/specialistvlad/privacyflow/internal/request"
)

// ErrNotFound is returned for unknown request ids.
var ErrNotFound = errors.New("request not found")

// Record is the persisted state of one request.
type Record struct {
	ID        string
	Mode      request.Mode
	Policy    string
	Identity  map[string]string
	Status    request.Status
	Error     string
	// Result is the JSON encoded merged result, set once the request ends.
	Result     []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
}

// Request returns the execution request of the record.
func (r *Record) Request() *request.Request {
	return &request.Request{ID: r.ID, Mode: r.Mode, Policy: r.Policy, Identity: r.Identity, CreatedAt: r.CreatedAt}
}

// Store is a SQLite backed request store.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens or creates the database at path and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating request store directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create inserts a new request in the pending state.
func (s *Store) Create(ctx context.Context, req *request.Request) (*Record, error) {
	identity, err := json.Marshal(req.Identity)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	created := req.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (id, mode, policy, identity, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, string(req.Mode), req.Policy, string(identity), string(request.StatusPending), created, now)
	if err != nil {
		return nil, fmt.Errorf("inserting request %s: %w", req.ID, err)
	}
	return s.Get(ctx, req.ID)
}

// Get returns the record of id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mode, policy, identity, status, error, result, created_at, updated_at, finished_at FROM requests WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// SetRunning marks a request as running and clears a previous outcome.
func (s *Store) SetRunning(ctx context.Context, id string) error {
	return s.exec(ctx, id,
		`UPDATE requests SET status = ?, error = '', result = NULL, finished_at = NULL, updated_at = ? WHERE id = ?`,
		string(request.StatusRunning), s.clock.Now().UTC(), id)
}

// Finish records the terminal status, error text and encoded result.
func (s *Store) Finish(ctx context.Context, id string, status request.Status, errText string, result []byte) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	now := s.clock.Now().UTC()
	return s.exec(ctx, id,
		`UPDATE requests SET status = ?, error = ?, result = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		string(status), errText, result, now, now, id)
}

// List returns requests in the given statuses, oldest first. No statuses
// means all requests.
func (s *Store) List(ctx context.Context, statuses ...request.Status) ([]*Record, error) {
	query := `SELECT id, mode, policy, identity, status, error, result, created_at, updated_at, finished_at FROM requests`
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i == 0 {
			query += ` WHERE status IN (?`
		} else {
			query += `, ?`
		}
		args = append(args, string(st))
	}
	if len(statuses) > 0 {
		query += `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FinishedBefore returns the ids of terminal requests that finished before
// cutoff.
func (s *Store) FinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM requests WHERE status IN (?, ?, ?) AND finished_at < ? ORDER BY finished_at`,
		string(request.StatusComplete), string(request.StatusError), string(request.StatusCancelled), cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a request.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, id, `DELETE FROM requests WHERE id = ?`, id)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec      Record
		mode     string
		status   string
		identity string
		finished sql.NullTime
	)
	if err := row.Scan(&rec.ID, &mode, &rec.Policy, &identity, &status, &rec.Error, &rec.Result, &rec.CreatedAt, &rec.UpdatedAt, &finished); err != nil {
		return nil, err
	}
	rec.Mode = request.Mode(mode)
	rec.Status = request.Status(status)
	if err := json.Unmarshal([]byte(identity), &rec.Identity); err != nil {
		return nil, fmt.Errorf("decoding identity of %s: %w", rec.ID, err)
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return &rec, nil
}
