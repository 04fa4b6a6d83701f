// Package all wires every built-in storage backend into the storage factory.
//
// The package exists purely for side effects: importing it (normally as a
// blank import) runs the init functions of the concrete adapters, which
// register their factories with the storage package. After the import the
// following kinds are available to storage.Open:
//
//   - "postgres" (internal/storage/postgres, native pgx with COPY)
//   - "pq"       (internal/storage/sqldb, Postgres via database/sql)
//   - "mssql"    (internal/storage/sqldb, SQL Server bulk copy)
//   - "mysql"    (internal/storage/sqldb)
//   - "sqlite"   (internal/storage/sqldb)
//
// Typical usage in a wiring layer:
//
//	import (
//	    "github.com/roberthpchao/Northwind-ETL/internal/storage"
//	    _ "github.com/roberthpchao/Northwind-ETL/internal/storage/all"
//	)
//
//	db, err := storage.Open(ctx, storage.Config{Kind: "postgres", DSN: dsn})
//
// A binary that needs only a subset of backends can blank-import the
// individual adapter packages instead.
package all

import (
	_ "github.com/roberthpchao/Northwind-ETL/internal/storage/postgres"
	_ "github.com/roberthpchao/Northwind-ETL/internal/storage/sqldb"
)
