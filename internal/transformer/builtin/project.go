package builtin

import (
	"fmt"

	"github.com/roberthpchao/Northwind-ETL/internal/transformer"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

// Project keeps exactly Columns, in that order, and drops everything else.
// Intermediate columns used only to compute derived values are shed here. A
// required column with no source is a schema mismatch naming the column.
type Project struct {
	Columns []string
}

func (p Project) Apply(set *records.Set) (*records.Set, error) {
	for _, c := range p.Columns {
		if !set.HasColumn(c) {
			return nil, fmt.Errorf("%w: required column %q has no source", transformer.ErrSchemaMismatch, c)
		}
	}

	out := records.NewSet(p.Columns)
	for _, rec := range set.Rows {
		nr := make(records.Record, len(p.Columns))
		for _, c := range p.Columns {
			nr[c] = rec[c]
		}
		out.Append(nr)
	}
	return out, nil
}
