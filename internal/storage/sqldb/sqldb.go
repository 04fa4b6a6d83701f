// Package sqldb is the portable adapter for engines behind database/sql:
// SQL Server, MySQL, SQLite, and Postgres via lib/pq (kind "pq"). Bulk
// inserts use the engine-native bulk copy on SQL Server and fall back to a
// prepared INSERT executed per row elsewhere. The pool is pinned to a single
// connection so session-scoped statements (MySQL's FOREIGN_KEY_CHECKS,
// SQLite pragmas) observe the session that issued them.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	_ "modernc.org/sqlite"

	"github.com/roberthpchao/Northwind-ETL/internal/storage"
)

const driverSQLServer = "sqlserver"

// drivers maps backend kinds onto database/sql driver names.
var drivers = map[string]string{
	"mssql":  driverSQLServer,
	"mysql":  "mysql",
	"sqlite": "sqlite",
	"pq":     "postgres",
}

//
// =======================
//  Testability-first seams
// =======================
//
// sqlDBCore stays compatible with *sql.DB (BeginTx returns *sql.Tx) so a
// real *sql.DB can be injected directly. *sql.Tx is adapted to the smaller
// sqlTxCore, whose PrepareContext returns a stmtCore, so unit tests can
// inject light fakes without sockets.
//

// stmtCore is the minimal subset of *sql.Stmt we use.
type stmtCore interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

// sqlTxCore is the subset of a transaction that sqlTx uses.
type sqlTxCore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (stmtCore, error)
	Commit() error
	Rollback() error
}

// sqlDBCore is the minimal subset of *sql.DB we use. It must match *sql.DB.
type sqlDBCore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

type realStmt struct{ s *sql.Stmt }

func (r realStmt) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	return r.s.ExecContext(ctx, args...)
}

func (r realStmt) Close() error { return r.s.Close() }

type realSQLTx struct{ tx *sql.Tx }

func (r realSQLTx) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.tx.ExecContext(ctx, q, args...)
}

func (r realSQLTx) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return r.tx.QueryContext(ctx, q, args...)
}

func (r realSQLTx) PrepareContext(ctx context.Context, q string) (stmtCore, error) {
	st, err := r.tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return realStmt{s: st}, nil
}

func (r realSQLTx) Commit() error   { return r.tx.Commit() }
func (r realSQLTx) Rollback() error { return r.tx.Rollback() }

//
// ===================
//  sqlDB (DB adapter)
// ===================
//

type sqlDB struct {
	db      sqlDBCore
	driver  string
	dialect storage.Dialect
}

// New opens a connection for the given backend kind and pings it. SQL Server
// DSNs are validated up front with msdsn so malformed connection strings
// fail before the first dial.
func New(ctx context.Context, kind, dsn string) (storage.DB, error) {
	driver, ok := drivers[kind]
	if !ok {
		return nil, fmt.Errorf("sqldb: no driver for storage.kind=%s", kind)
	}
	if kind == "mssql" {
		if _, err := msdsn.Parse(dsn); err != nil {
			return nil, fmt.Errorf("parse mssql dsn: %w", err)
		}
	}
	dialect, err := storage.DialectFor(kind)
	if err != nil {
		return nil, err
	}

	d, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	// One session only. Constraint toggles and pragmas are session-scoped,
	// and the reload writes sequentially.
	d.SetMaxOpenConns(1)
	d.SetMaxIdleConns(1)
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	if kind == "sqlite" {
		if _, err := d.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}
	return &sqlDB{db: realSQLDB{db: d}, driver: driver, dialect: dialect}, nil
}

type realSQLDB struct{ db *sql.DB }

func (r realSQLDB) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, q, args...)
}

func (r realSQLDB) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, q, args...)
}

func (r realSQLDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, opts)
}

func (r realSQLDB) Close() error { return r.db.Close() }

func (s *sqlDB) Exec(ctx context.Context, q string, args ...any) error {
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// Query returns the *sql.Rows directly; it satisfies storage.Rows as is.
func (s *sqlDB) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *sqlDB) BeginTx(ctx context.Context) (storage.Tx, error) {
	raw, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: realSQLTx{tx: raw}, driver: s.driver, dialect: s.dialect}, nil
}

func (s *sqlDB) Dialect() storage.Dialect { return s.dialect }

func (s *sqlDB) Close(ctx context.Context) error { return s.db.Close() }

//
// ===================
//  sqlTx (Tx adapter)
// ===================
//

type sqlTx struct {
	tx      sqlTxCore
	driver  string
	dialect storage.Dialect
}

func (t *sqlTx) Exec(ctx context.Context, q string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, q, args...)
	return err
}

func (t *sqlTx) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CopyInto bulk-inserts rows inside the transaction. SQL Server rides the
// driver's native bulk copy; other engines prepare one INSERT and execute it
// per row, which stays inside the same transaction and keeps the adapter
// engine-agnostic.
func (t *sqlTx) CopyInto(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if t.driver == driverSQLServer {
		return t.bulkCopy(ctx, table, columns, rows)
	}
	return t.insertEachRow(ctx, table, columns, rows)
}

func (t *sqlTx) bulkCopy(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := t.tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	// The final no-arg exec flushes the bulk batch and reports the count.
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqlTx) insertEachRow(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = t.dialect.QuoteIdent(c)
		marks[i] = t.dialect.Placeholder(i + 1)
	}
	stmtText := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		t.dialect.QualifyTable(table),
		strings.Join(quoted, ", "),
		strings.Join(marks, ", "),
	)

	stmt, err := t.tx.PrepareContext(ctx, stmtText)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (t *sqlTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func init() {
	for kind := range drivers {
		storage.Register(kind, func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
			return New(ctx, kind, cfg.DSN)
		})
	}
}

//
// =======================
//  Test-only constructors
// =======================
//

// newSQLTxForTest wraps a fake sqlTxCore as a Tx for the given kind.
func newSQLTxForTest(core sqlTxCore, kind string) *sqlTx {
	d, _ := storage.DialectFor(kind)
	return &sqlTx{tx: core, driver: drivers[kind], dialect: d}
}

// newSQLDBForTest wraps a fake sqlDBCore as a DB for the given kind.
func newSQLDBForTest(core sqlDBCore, kind string) *sqlDB {
	d, _ := storage.DialectFor(kind)
	return &sqlDB{db: core, driver: drivers[kind], dialect: d}
}
