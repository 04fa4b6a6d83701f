package storage

import (
	"fmt"
	"strings"
)

// Dialect captures the engine-specific SQL fragments the loader composes:
// identifier quoting, placeholders, table truncation, and foreign key
// suspension. Bulk-insert syntax stays inside the adapters; Dialect covers
// only the statements the loader itself must build.
type Dialect interface {
	Name() string

	// QuoteIdent quotes a single identifier (column or bare table name).
	QuoteIdent(ident string) string

	// QualifyTable quotes a possibly schema-qualified name, e.g.
	// "dbo.dim_product" -> "[dbo].[dim_product]".
	QualifyTable(table string) string

	// Placeholder returns the 1-based bind parameter marker, e.g. "$1",
	// "@p1", or "?".
	Placeholder(n int) string

	// TruncateTable returns the engine's table truncation statement.
	TruncateTable(table string) string

	// DisableConstraint returns the statements that suspend enforcement of
	// the named foreign key constraint on table. Engines with session-scoped
	// toggles ignore the names.
	DisableConstraint(table, constraint string) []string

	// EnableConstraint returns the statements that restore enforcement.
	// Whether existing rows are re-checked by the engine varies; callers run
	// an explicit validation query regardless.
	EnableConstraint(table, constraint string) []string

	// SupportsConstraintSuspend reports whether DisableConstraint can outlive
	// the transaction that executed it, which the suspend clear strategy
	// requires.
	SupportsConstraintSuspend() bool
}

// DialectFor maps a backend kind to its dialect. The pgx-native and lib/pq
// backends share the postgres dialect.
func DialectFor(kind string) (Dialect, error) {
	switch kind {
	case "postgres", "pq":
		return postgresDialect{}, nil
	case "mssql":
		return mssqlDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("no dialect for storage.kind=%s", kind)
	}
}

// qualify splits "schema.table" on dots and quotes each part with quote.
func qualify(table string, quote func(string) string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
func (d postgresDialect) QualifyTable(table string) string { return qualify(table, d.QuoteIdent) }
func (postgresDialect) Placeholder(n int) string           { return fmt.Sprintf("$%d", n) }
func (d postgresDialect) TruncateTable(table string) string {
	return "TRUNCATE TABLE " + d.QualifyTable(table)
}

// Postgres has no per-constraint disable for foreign keys; DISABLE TRIGGER
// ALL turns off the system triggers that enforce them (the approach pg_dump
// data-only restores use). Requires table ownership.
func (d postgresDialect) DisableConstraint(table, _ string) []string {
	return []string{"ALTER TABLE " + d.QualifyTable(table) + " DISABLE TRIGGER ALL"}
}
func (d postgresDialect) EnableConstraint(table, _ string) []string {
	return []string{"ALTER TABLE " + d.QualifyTable(table) + " ENABLE TRIGGER ALL"}
}
func (postgresDialect) SupportsConstraintSuspend() bool { return true }

type mssqlDialect struct{}

func (mssqlDialect) Name() string { return "mssql" }
func (mssqlDialect) QuoteIdent(id string) string {
	return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]`
}
func (d mssqlDialect) QualifyTable(table string) string { return qualify(table, d.QuoteIdent) }
func (mssqlDialect) Placeholder(n int) string           { return fmt.Sprintf("@p%d", n) }
func (d mssqlDialect) TruncateTable(table string) string {
	return "TRUNCATE TABLE " + d.QualifyTable(table)
}
func (d mssqlDialect) DisableConstraint(table, constraint string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s NOCHECK CONSTRAINT %s",
		d.QualifyTable(table), d.QuoteIdent(constraint))}
}

// WITH CHECK re-validates existing rows; SQL Server rejects the statement if
// orphans remain, so enforcement never silently resumes over bad data.
func (d mssqlDialect) EnableConstraint(table, constraint string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s WITH CHECK CHECK CONSTRAINT %s",
		d.QualifyTable(table), d.QuoteIdent(constraint))}
}
func (mssqlDialect) SupportsConstraintSuspend() bool { return true }

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }
func (mysqlDialect) QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}
func (d mysqlDialect) QualifyTable(table string) string { return qualify(table, d.QuoteIdent) }
func (mysqlDialect) Placeholder(_ int) string           { return "?" }
func (d mysqlDialect) TruncateTable(table string) string {
	return "TRUNCATE TABLE " + d.QualifyTable(table)
}

// FOREIGN_KEY_CHECKS is session-scoped; adapters pin a single connection so
// the toggle survives across the transactions of one run.
func (mysqlDialect) DisableConstraint(_, _ string) []string {
	return []string{"SET FOREIGN_KEY_CHECKS = 0"}
}
func (mysqlDialect) EnableConstraint(_, _ string) []string {
	return []string{"SET FOREIGN_KEY_CHECKS = 1"}
}
func (mysqlDialect) SupportsConstraintSuspend() bool { return true }

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }
func (sqliteDialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
func (d sqliteDialect) QualifyTable(table string) string { return qualify(table, d.QuoteIdent) }
func (sqliteDialect) Placeholder(_ int) string           { return "?" }

// SQLite has no TRUNCATE; an unqualified DELETE hits the truncate
// optimization.
func (d sqliteDialect) TruncateTable(table string) string {
	return "DELETE FROM " + d.QualifyTable(table)
}

// PRAGMA defer_foreign_keys lasts only until commit, so suspension cannot
// span the dimension and fact transactions.
func (sqliteDialect) DisableConstraint(_, _ string) []string { return nil }
func (sqliteDialect) EnableConstraint(_, _ string) []string  { return nil }
func (sqliteDialect) SupportsConstraintSuspend() bool        { return false }
