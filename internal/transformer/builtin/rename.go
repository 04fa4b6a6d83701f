package builtin

import (
	"fmt"

	"github.com/roberthpchao/Northwind-ETL/internal/transformer"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

// Rename maps source column names onto target column names. Columns not
// named in Mapping pass through unchanged and keep their position. Renaming
// a column the input does not carry, or landing two columns on one name, is
// a schema mismatch.
type Rename struct {
	// Mapping is source column -> target column.
	Mapping map[string]string
}

// Apply returns a new set with the renamed schema. Row values are rekeyed;
// the values themselves are shared with the input.
func (r Rename) Apply(set *records.Set) (*records.Set, error) {
	for src := range r.Mapping {
		if !set.HasColumn(src) {
			return nil, fmt.Errorf("%w: rename source %q not in input", transformer.ErrSchemaMismatch, src)
		}
	}

	cols := make([]string, len(set.Columns))
	seen := make(map[string]struct{}, len(set.Columns))
	for i, c := range set.Columns {
		name := c
		if t, ok := r.Mapping[c]; ok {
			name = t
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: rename collides on column %q", transformer.ErrSchemaMismatch, name)
		}
		seen[name] = struct{}{}
		cols[i] = name
	}

	out := records.NewSet(cols)
	for _, rec := range set.Rows {
		nr := make(records.Record, len(rec))
		for k, v := range rec {
			if t, ok := r.Mapping[k]; ok {
				k = t
			}
			nr[k] = v
		}
		out.Append(nr)
	}
	return out, nil
}
