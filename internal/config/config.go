// Package config defines the JSON-serializable model for a reload pipeline.
// A pipeline file names the source and target connections and lists the
// entities to reload, in execution order. The model is fully typed: every
// transform, resolve, and load option is a named field, so a typo in a
// pipeline file fails validation instead of silently decoding into an
// options bag.
//
// Example (trimmed):
//
//	{
//	  "job": "northwind",
//	  "source": { "kind": "postgres", "dsn": "postgres://..." },
//	  "target": { "kind": "postgres", "dsn": "postgres://..." },
//	  "entities": [
//	    {
//	      "name": "dim_product",
//	      "extract": { "query": "SELECT product_id, product_name FROM products" },
//	      "transform": [
//	        { "kind": "rename", "mapping": { "product_id": "source_product_id" } }
//	      ],
//	      "load": { "table": "mart.dim_product", "columns": ["source_product_id", "product_name"] }
//	    }
//	  ]
//	}
package config

import "github.com/roberthpchao/Northwind-ETL/internal/transformer/builtin"

// Pipeline is the top-level object decoded from a pipeline file under
// configs/pipelines/*.json.
type Pipeline struct {
	// Job names the reload for logs and metrics grouping.
	Job string `json:"job"`

	// Source is the operational database entities are extracted from.
	Source Connection `json:"source"`

	// Target is the warehouse holding the star schema.
	Target Connection `json:"target"`

	// Runtime tunes batching, extraction retries, and unresolved-key
	// handling for the whole run.
	Runtime Runtime `json:"runtime"`

	// Entities lists the tables to reload, in execution order. An entity's
	// dependencies must be declared before it.
	Entities []Entity `json:"entities"`
}

// Connection points at one database.
type Connection struct {
	// Kind selects the storage adapter: "postgres", "pq", "mssql", "mysql",
	// or "sqlite".
	Kind string `json:"kind"`

	// DSN is the connection string for the selected adapter. The SOURCE_DSN
	// and TARGET_DSN environment variables override it at startup, keeping
	// credentials out of pipeline files.
	DSN string `json:"dsn"`
}

// Runtime carries run-wide tuning. The zero value is a valid configuration.
type Runtime struct {
	// BatchSize is rows per bulk write; 0 uses the loader default.
	BatchSize int `json:"batch_size"`

	// OnUnresolved decides what happens to fact rows whose natural key has
	// no dimension match: "reject" (the default) fails the entity before
	// anything is written, "flag" loads them with a NULL surrogate.
	OnUnresolved string `json:"on_unresolved"`

	// RetryAttempts is extraction attempts per entity; 0 means a single try.
	// Only source connectivity failures are retried.
	RetryAttempts int `json:"retry_attempts"`

	// RetryBackoffMS is the wait before the first retry, in milliseconds,
	// doubling on each subsequent one.
	RetryBackoffMS int `json:"retry_backoff_ms"`
}

// Entity describes one table reload: an extract query, an optional transform
// chain, optional key resolution, and the load target.
type Entity struct {
	// Name identifies the entity in logs, metrics, and depends_on lists.
	Name string `json:"name"`

	// DependsOn names entities that must commit before this one runs. Each
	// must be declared earlier in the entity list.
	DependsOn []string `json:"depends_on,omitempty"`

	Extract Extract `json:"extract"`

	// Transform lists the steps applied to extracted rows, in order.
	Transform []Transform `json:"transform,omitempty"`

	// Resolve swaps natural keys for dimension surrogates after the
	// transform chain has run.
	Resolve []Resolve `json:"resolve,omitempty"`

	Load Load `json:"load"`
}

// Extract declares how an entity's rows are read from the source.
type Extract struct {
	// Query is the SQL executed against the source connection.
	Query string `json:"query"`
}

// Transform defines one step in an entity's transform chain. Kind selects
// the step; the remaining fields apply to the kinds noted on each.
type Transform struct {
	// Kind is "rename", "project", or "derive".
	Kind string `json:"kind"`

	// Mapping is source column -> target column ("rename").
	Mapping map[string]string `json:"mapping,omitempty"`

	// Columns is the projected schema, in order ("project").
	Columns []string `json:"columns,omitempty"`

	// Column is the derived column name ("derive").
	Column string `json:"column,omitempty"`

	// Expr is the arithmetic expression evaluated per record ("derive").
	Expr *builtin.Expr `json:"expr,omitempty"`

	// Scale is the fractional digits kept in the derived value ("derive").
	Scale int32 `json:"scale,omitempty"`
}

// Resolve swaps one natural key column for a dimension's surrogate key.
type Resolve struct {
	// Dimension names the entity whose committed table supplies the key
	// map. It must be declared earlier in the entity list.
	Dimension string `json:"dimension"`

	// Surrogate is the surrogate key column in the dimension table.
	Surrogate string `json:"surrogate"`

	// Natural is the natural key column in the dimension table.
	Natural string `json:"natural"`

	// Column is the staged column holding the natural key.
	Column string `json:"column"`

	// As is the output column for the surrogate. Naming the natural key
	// column replaces it in place.
	As string `json:"as"`
}

// Load declares the target table replacement.
type Load struct {
	// Table is the destination, optionally schema-qualified (e.g.
	// "mart.dim_product").
	Table string `json:"table"`

	// Columns enumerates insert columns in order. Keys the target generates
	// itself are not listed.
	Columns []string `json:"columns"`

	// Strategy clears the table before inserting: "truncate", "delete"
	// (the default), or "suspend".
	Strategy string `json:"strategy,omitempty"`

	// Referencing lists foreign keys into Table from fact tables. "delete"
	// clears the referencing tables first; "suspend" toggles the named
	// constraints around the reload.
	Referencing []Referencing `json:"referencing,omitempty"`

	// BatchSize overrides runtime.batch_size for this entity when > 0.
	BatchSize int `json:"batch_size,omitempty"`
}

// Referencing identifies one foreign key constraint pointing at a load
// table.
type Referencing struct {
	// Table is the referencing (fact) table.
	Table string `json:"table"`

	// Constraint is the constraint name. SQL Server needs it to toggle
	// enforcement; other engines manage without.
	Constraint string `json:"constraint,omitempty"`

	// Column is the referencing column on Table.
	Column string `json:"column"`

	// References is the referenced column on the load table.
	References string `json:"references"`
}
