package builtin

import (
	"errors"
	"strings"
	"testing"

	"github.com/roberthpchao/Northwind-ETL/internal/transformer"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

func setOf(columns []string, rows ...records.Record) *records.Set {
	s := records.NewSet(columns)
	for _, r := range rows {
		s.Append(r)
	}
	return s
}

/*
TestRename_RekeysAndPreservesOrder verifies mapped columns take their target
name in place, unmapped columns pass through, and row values move with the
rename.
*/
func TestRename_RekeysAndPreservesOrder(t *testing.T) {
	in := setOf(
		[]string{"category_id", "category_name", "description"},
		records.Record{"category_id": int64(1), "category_name": "Beverages", "description": "drinks"},
	)
	r := Rename{Mapping: map[string]string{"category_id": "source_category_id"}}

	out, err := r.Apply(in)
	if err != nil {
		t.Fatalf("Apply err: %v", err)
	}
	want := []string{"source_category_id", "category_name", "description"}
	for i, c := range want {
		if out.Columns[i] != c {
			t.Fatalf("columns = %v, want %v", out.Columns, want)
		}
	}
	if out.Rows[0]["source_category_id"] != int64(1) {
		t.Fatalf("value did not move with rename: %#v", out.Rows[0])
	}
	if _, stale := out.Rows[0]["category_id"]; stale {
		t.Fatalf("old key still present: %#v", out.Rows[0])
	}
}

/*
TestRename_MissingSource verifies renaming a column the input lacks is a
schema mismatch.
*/
func TestRename_MissingSource(t *testing.T) {
	in := setOf([]string{"id"})
	r := Rename{Mapping: map[string]string{"nope": "target"}}

	_, err := r.Apply(in)
	if !errors.Is(err, transformer.ErrSchemaMismatch) || !strings.Contains(err.Error(), `"nope"`) {
		t.Fatalf("err = %v", err)
	}
}

/*
TestRename_Collision verifies two columns landing on one name is rejected.
*/
func TestRename_Collision(t *testing.T) {
	in := setOf([]string{"a", "b"})
	r := Rename{Mapping: map[string]string{"b": "a"}}

	_, err := r.Apply(in)
	if !errors.Is(err, transformer.ErrSchemaMismatch) || !strings.Contains(err.Error(), "collides") {
		t.Fatalf("err = %v", err)
	}
}
