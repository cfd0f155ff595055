// Package sqlstore implements auth.CredentialStore on database/sql for
// PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/observability"
	"github.com/platinummonkey/hrauth/pkg/storage"
)

// Store implements auth.CredentialStore on a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ auth.CredentialStore = (*Store)(nil)

// New wraps an open database. The schema is expected to exist; see Migrate.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// Open connects to the backend selected by cfg.Type, verifies the
// connection and applies pending migrations.
func Open(ctx context.Context, cfg storage.Config, logger *observability.Logger) (*Store, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)

	switch cfg.Type {
	case storage.TypePostgres:
		dialect = Postgres
		db, err = sql.Open(dialect.Name, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.PostgresMaxConns)
		db.SetMaxIdleConns(cfg.PostgresMinConns)
		db.SetConnMaxLifetime(1 * time.Hour)
		db.SetConnMaxIdleTime(10 * time.Minute)
	case storage.TypeSQLite:
		dialect = SQLite
		db, err = sql.Open(dialect.Name, sqliteDSN(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// One connection serializes every transaction, including lockout
		// read-modify-writes.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("storage type %q is not a SQL backend", cfg.Type)
	}

	timeout := cfg.PostgresTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Type, err)
	}

	if err := Migrate(ctx, db, dialect, logger); err != nil {
		db.Close()
		return nil, err
	}

	return New(db, dialect), nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return auth.StoreError("ping", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...interface{}) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...interface{}) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.StoreError(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// fail maps a driver error onto the auth taxonomy. Unique violations become
// duplicate errors; anything else is an infrastructure failure.
func (s *Store) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if dup := duplicateError(err); dup != nil {
		return dup
	}
	return auth.StoreError(op, err)
}

func duplicateError(err error) error {
	var detail string

	var pqErr *pq.Error
	var liteErr sqlite3.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == "23505":
		detail = pqErr.Constraint
	case errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		detail = liteErr.Error()
	default:
		return nil
	}

	switch {
	case strings.Contains(detail, "username"):
		return auth.ErrDuplicateUsername
	case strings.Contains(detail, "email"):
		return auth.ErrDuplicateEmail
	case strings.Contains(detail, "roles"):
		return auth.ErrDuplicateRole
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// ts normalizes times to UTC at the precision both engines keep.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts(*t), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw []byte) ([]string, error) {
	var list []string
	if len(raw) == 0 {
		return list, nil
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("corrupt list column: %w", err)
	}
	return list, nil
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
