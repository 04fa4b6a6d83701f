// Package postgres implements the native Postgres adapter on pgx v5. Bulk
// inserts ride the COPY protocol inside the reload transaction, which is the
// fast path for full reloads.
//
// The adapter wraps pgx.Conn behind a small seam (pgConnLike) so unit tests
// can inject a fake connection without sockets. A single connection, not a
// pool, is used: the pipeline is a sequential single writer, and statements
// such as constraint toggles must land on the session that keeps using them.
package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roberthpchao/Northwind-ETL/internal/storage"
)

// pgConnLike is the minimal subset of *pgx.Conn the adapter uses. The seam
// allows hermetic unit tests.
type pgConnLike interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

type pgDB struct {
	conn    pgConnLike
	dialect storage.Dialect
}

// New connects with pgx.Connect and wraps the connection. Callers own the
// connection and must Close it.
func New(ctx context.Context, dsn string) (storage.DB, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	d, err := storage.DialectFor("postgres")
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return &pgDB{conn: c, dialect: d}, nil
}

func (p *pgDB) Exec(ctx context.Context, q string, args ...any) error {
	_, err := p.conn.Exec(ctx, q, args...)
	return err
}

func (p *pgDB) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	rows, err := p.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return &pgRows{rows: rows}, nil
}

func (p *pgDB) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (p *pgDB) Dialect() storage.Dialect { return p.dialect }

func (p *pgDB) Close(ctx context.Context) error { return p.conn.Close(ctx) }

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, q string, args ...any) error {
	_, err := t.tx.Exec(ctx, q, args...)
	return err
}

func (t *pgTx) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return &pgRows{rows: rows}, nil
}

// CopyInto performs a bulk insert using Postgres's native COPY FROM protocol.
func (t *pgTx) CopyInto(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return t.tx.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// pgRows adapts pgx.Rows to the storage.Rows contract. pgx's Close has no
// error return; Err carries any terminal failure.
type pgRows struct {
	rows pgx.Rows
}

func (r *pgRows) Next() bool             { return r.rows.Next() }
func (r *pgRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgRows) Err() error             { return r.rows.Err() }
func (r *pgRows) Close() error           { r.rows.Close(); return nil }

func (r *pgRows) Columns() ([]string, error) {
	fds := r.rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	return cols, nil
}

// splitFQN converts "schema.table" into a pgx.Identifier, which pgx quotes
// part by part.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	out := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		return New(ctx, cfg.DSN)
	})
}

// newPgDBFromConn constructs a pgDB from a pgConnLike fake. Used exclusively
// in unit tests.
func newPgDBFromConn(c pgConnLike, d storage.Dialect) *pgDB { return &pgDB{conn: c, dialect: d} }

// newPgTxForTest wraps a pgx.Tx fake into a pgTx for testing.
func newPgTxForTest(t pgx.Tx) *pgTx { return &pgTx{tx: t} }
