// Package storage defines the database contracts used by the reload
// pipeline and a factory that maps configured backend kinds onto concrete
// adapters. Adapters register themselves at init time; importing
// internal/storage/all enables every built-in backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DB is a connection capable of querying, executing DDL/DML, and starting
// transactions. Implementations pin a single session so that session-scoped
// statements (e.g. MySQL foreign key toggles) behave deterministically.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Exec(ctx context.Context, sql string, args ...any) error
	BeginTx(ctx context.Context) (Tx, error)
	Dialect() Dialect
	Close(ctx context.Context) error
}

// Tx supports Exec, queries, bulk inserts, and lifecycle within one
// transaction.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	CopyInto(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is the minimal result-set cursor shared by the pgx and database/sql
// adapters.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Kind string // registered backend kind, e.g. "postgres", "mssql"
	DSN  string
}

// Factory constructs a DB for a Config.
type Factory func(ctx context.Context, cfg Config) (DB, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for a backend kind. It is
// typically called from adapter packages' init functions.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// Open constructs a DB for the configured kind.
func Open(ctx context.Context, cfg Config) (DB, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return fn(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered backend kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
