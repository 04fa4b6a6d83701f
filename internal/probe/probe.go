// Package probe samples entity extract queries and suggests a load
// contract: normalized column names and inferred target types. It is a
// pipeline-authoring aid; no reload path depends on it.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/roberthpchao/Northwind-ETL/internal/storage"
)

// DefaultSampleRows caps how many rows Describe reads per query. The cap is
// enforced client-side, so pointing the probe at a query with no LIMIT
// clause stays cheap.
const DefaultSampleRows = 200

// Column is one sampled column's contract suggestion.
type Column struct {
	Name      string `json:"name"`
	Suggested string `json:"suggested"`
	Type      string `json:"type"`
	Nullable  bool   `json:"nullable"`
	Layout    string `json:"layout,omitempty"` // parse layout for textual date/timestamp columns
}

// Report is the probe result for one entity's extract query.
type Report struct {
	Entity  string   `json:"entity"`
	Query   string   `json:"query"`
	Sampled int      `json:"sampled"`
	Columns []Column `json:"columns"`
}

// Describe runs query against db and infers a contract from up to limit
// rows (DefaultSampleRows when limit <= 0). Values keep the driver's native
// types except []byte, which is read as text.
func Describe(ctx context.Context, db storage.DB, entity, query string, limit int) (*Report, error) {
	if limit <= 0 {
		limit = DefaultSampleRows
	}
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", entity, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("probe %s: columns: %w", entity, err)
	}

	samples := make([][]any, len(cols))
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	sampled := 0
	for sampled < limit && rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("probe %s: scan row %d: %w", entity, sampled, err)
		}
		for i := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			samples[i] = append(samples[i], v)
		}
		sampled++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("probe %s: %w", entity, err)
	}

	rep := &Report{Entity: entity, Query: query, Sampled: sampled, Columns: make([]Column, len(cols))}
	for i, name := range cols {
		typ, layout, nullable := inferColumn(samples[i])
		rep.Columns[i] = Column{
			Name:      name,
			Suggested: SuggestName(name),
			Type:      typ,
			Nullable:  nullable,
			Layout:    layout,
		}
	}
	return rep, nil
}

// Ping verifies a connection answers a trivial query.
func Ping(ctx context.Context, db storage.DB) error {
	rows, err := db.Query(ctx, "SELECT 1")
	if err != nil {
		return err
	}
	return rows.Close()
}

// CountRows reports the current row count of a table.
func CountRows(ctx context.Context, db storage.DB, table string) (int64, error) {
	rows, err := db.Query(ctx, "SELECT COUNT(*) FROM "+db.Dialect().QualifyTable(table))
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("count %s: no rows", table)
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("count is %T, not an integer", v)
}

// WriteJSON pretty-prints reports the way the CLI emits them.
func WriteJSON(w io.Writer, reports []*Report) error {
	b, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
