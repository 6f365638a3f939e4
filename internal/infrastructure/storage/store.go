package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// addedColumns are columns introduced after a table first shipped. The
// bootstrap DDL skips existing tables, so older databases gain them here.
var addedColumns = []struct {
	table, column, definition string
}{
	{"processing_status", "source_changed", "BOOLEAN NOT NULL DEFAULT FALSE"},
}

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	Clock        ports.Clock
}

// Store holds the connection pool shared by the entity, ledger, summary and
// watermark views. Every timestamp comes from the injected clock so the same
// SQL runs on Postgres and SQLite.
type Store struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	driver string
	clock  ports.Clock
}

// Open connects, applies pragmas for SQLite and bootstraps the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Driver != DriverPostgres && opts.Driver != DriverSQLite {
		return nil, fmt.Errorf("open store: unsupported driver %q (valid: %s, %s)", opts.Driver, DriverPostgres, DriverSQLite)
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	if opts.Driver == DriverSQLite {
		// SQLite allows one writer; serialize through a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s, err := New(ctx, db, opts.Driver, opts.Clock)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool and ensures the schema exists.
func New(ctx context.Context, db *sql.DB, driver string, clock ports.Clock) (*Store, error) {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		placeholder = sq.Dollar
	}

	s := &Store{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
		driver: driver,
		clock:  clock,
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := s.addMissingColumns(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) addMissingColumns(ctx context.Context) error {
	for _, c := range addedColumns {
		rows, err := queryRows(ctx, s.db, s.sb.Select(c.column).From(c.table).Limit(1))
		if err == nil {
			_ = rows.Close()
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.definition)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Entities returns the Entity Store view.
func (s *Store) Entities() *Entities { return &Entities{s: s} }

// Ledger returns the Status Ledger view.
func (s *Store) Ledger() *Ledger { return &Ledger{s: s} }

// Summaries returns the Summary Store view.
func (s *Store) Summaries() *Summaries { return &Summaries{s: s} }

// Watermarks returns the sync watermark view.
func (s *Store) Watermarks() *Watermarks { return &Watermarks{s: s} }

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func exec(ctx context.Context, q querier, b sq.Sqlizer) (sql.Result, error) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.ExecContext(ctx, stmt, args...)
}

func queryRow(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Row, error) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryRowContext(ctx, stmt, args...), nil
}

func queryRows(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Rows, error) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryContext(ctx, stmt, args...)
}

func execAffected(ctx context.Context, q querier, b sq.Sqlizer) (int64, error) {
	res, err := exec(ctx, q, b)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// targetWhere matches the polymorphic (target_id, target_type) pair. Ids are
// passed as strings: squirrel would expand a uuid.UUID array into an IN list.
func targetWhere(t domain.Target) sq.Eq {
	return sq.Eq{"target_id": t.ID.String(), "target_type": string(t.Type)}
}

// validateTarget is the one existence check every status and summary write runs
// before touching the database.
func (s *Store) validateTarget(ctx context.Context, q querier, op string, target domain.Target) error {
	if err := target.Validate(); err != nil {
		return domain.NewTargetError(domain.KindIntegrityViolation, op, target, err)
	}
	ok, err := s.exists(ctx, q, target)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return domain.NewTargetError(domain.KindIntegrityViolation, op, target,
			fmt.Errorf("no %s with id %s", target.Type, target.ID))
	}
	return nil
}

func (s *Store) exists(ctx context.Context, q querier, target domain.Target) (bool, error) {
	table := target.Type.Table()
	if table == "" {
		return false, nil
	}
	row, err := queryRow(ctx, q, s.sb.Select("1").From(table).Where(sq.Eq{"id": target.ID.String()}))
	if err != nil {
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check %s exists: %w", target, err)
	}
	return true, nil
}
