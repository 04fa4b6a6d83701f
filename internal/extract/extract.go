// Package extract reads source records through a storage connection and
// materializes them as an in-memory record set. Extraction is all or
// nothing: any failure surfaces ErrSourceUnavailable with no partial rows.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/roberthpchao/Northwind-ETL/internal/storage"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

// ErrSourceUnavailable marks a failed connection, a rejected query, or an
// interrupted read. The orchestrator treats it as retryable.
var ErrSourceUnavailable = errors.New("source unavailable")

// Fetch runs one read query and returns the complete result set. Column
// order follows the query's select list. Values keep the driver's native
// types except []byte, which is normalized to string so natural keys compare
// and hash as values.
func Fetch(ctx context.Context, db storage.DB, query string) (*records.Set, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %w", ErrSourceUnavailable, err)
	}

	set := records.NewSet(cols)
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scan row %d: %w", ErrSourceUnavailable, set.Len(), err)
		}
		rec := make(records.Record, len(cols))
		for i, c := range cols {
			rec[c] = normalize(vals[i])
		}
		set.Append(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return set, nil
}

// normalize converts []byte columns to string. MySQL and SQLite drivers
// return TEXT as []byte.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
