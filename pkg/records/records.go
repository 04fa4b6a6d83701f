// Package records defines the in-memory row representation shared by every
// stage of the reload pipeline. A Record is a single row keyed by column
// name; a Set is an ordered batch of records that carries its own column
// list so downstream stages can detect shape drift instead of silently
// mis-binding values.
package records

import "fmt"

// Record is one row keyed by column name. Values hold whatever the driver
// produced (int64, string, time.Time, nil, ...); stages that care about a
// concrete type coerce explicitly.
type Record map[string]any

// Clone returns a shallow copy of the record. Values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Set is an ordered batch of records sharing one column list. Columns is the
// authoritative schema of the batch; every record is expected to have exactly
// these keys. Rows preserve source order.
type Set struct {
	Columns []string
	Rows    []Record
}

// NewSet returns an empty Set with the given column list.
func NewSet(columns []string) *Set {
	return &Set{Columns: append([]string(nil), columns...)}
}

// Len reports the number of rows in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// Append adds a record to the set. The record is not validated against
// Columns; Bind performs that check when positional rows are built.
func (s *Set) Append(r Record) {
	s.Rows = append(s.Rows, r)
}

// HasColumn reports whether name is part of the set's schema.
func (s *Set) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Bind converts the set into positional rows aligned to the given column
// order. A record that lacks one of the requested columns is an error; a nil
// value is fine. The returned slices do not alias the set.
func (s *Set) Bind(columns []string) ([][]any, error) {
	out := make([][]any, 0, len(s.Rows))
	for i, rec := range s.Rows {
		row := make([]any, len(columns))
		for j, c := range columns {
			v, ok := rec[c]
			if !ok {
				return nil, fmt.Errorf("row %d: missing column %q", i, c)
			}
			row[j] = v
		}
		out = append(out, row)
	}
	return out, nil
}

// SameColumns compares the set's schema against columns as a set, ignoring
// order, and names the missing and extra columns. Loaders bind by name, so
// order differences are not an error; missing or extra columns are.
func (s *Set) SameColumns(columns []string) (missing, extra []string) {
	have := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		have[c] = struct{}{}
	}
	want := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		want[c] = struct{}{}
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	for _, c := range s.Columns {
		if _, ok := want[c]; !ok {
			extra = append(extra, c)
		}
	}
	return missing, extra
}
