package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/roberthpchao/Northwind-ETL/internal/config"
	"github.com/roberthpchao/Northwind-ETL/internal/storage"
)

type fakeRows struct {
	cols []string
	grid [][]any
	idx  int
}

func (r *fakeRows) Next() bool { return r.idx < len(r.grid) }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.grid[r.idx]
	r.idx++
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }
func (r *fakeRows) Err() error                 { return nil }
func (r *fakeRows) Close() error               { return nil }

// fakeDB answers queries through an optional handler; the default answer is
// an empty cursor. It records every statement it sees.
type fakeDB struct {
	answer  func(q string) (storage.Rows, error)
	queries []string
}

func (d *fakeDB) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	d.queries = append(d.queries, q)
	if d.answer != nil {
		return d.answer(q)
	}
	return &fakeRows{}, nil
}

func (d *fakeDB) Exec(ctx context.Context, q string, args ...any) error { return nil }

func (d *fakeDB) BeginTx(ctx context.Context) (storage.Tx, error) {
	return nil, context.Canceled
}

func (d *fakeDB) Dialect() storage.Dialect {
	dd, _ := storage.DialectFor("postgres")
	return dd
}

func (d *fakeDB) Close(ctx context.Context) error { return nil }

/*
TestRunProbe drives the probe path through the openDBFn seam: both ends are
pinged, every entity's extract query is sampled against the source, the
target table is counted, and the suggested contracts land on the writer as
JSON. Not parallel; it overrides the seam.
*/
func TestRunProbe(t *testing.T) {
	src := &fakeDB{answer: func(q string) (storage.Rows, error) {
		if q == "SELECT 1" {
			return &fakeRows{}, nil
		}
		return &fakeRows{
			cols: []string{"category_id", "category_name"},
			grid: [][]any{{int64(1), "Beverages"}},
		}, nil
	}}
	tgt := &fakeDB{answer: func(q string) (storage.Rows, error) {
		if strings.HasPrefix(q, "SELECT COUNT(*)") {
			return &fakeRows{cols: []string{"count"}, grid: [][]any{{int64(8)}}}, nil
		}
		return &fakeRows{}, nil
	}}

	old := openDBFn
	openDBFn = func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		if cfg.DSN == "src" {
			return src, nil
		}
		return tgt, nil
	}
	defer func() { openDBFn = old }()

	p := config.Pipeline{
		Source: config.Connection{Kind: "postgres", DSN: "src"},
		Target: config.Connection{Kind: "postgres", DSN: "tgt"},
		Entities: []config.Entity{{
			Name:    "dim_category",
			Extract: config.Extract{Query: "SELECT * FROM categories"},
			Load:    config.Load{Table: "mart.dim_category", Columns: []string{"source_category_id"}},
		}},
	}

	var buf bytes.Buffer
	if err := runProbe(context.Background(), &buf, p, 10); err != nil {
		t.Fatalf("runProbe: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"entity": "dim_category"`) {
		t.Fatalf("output missing entity report: %q", out)
	}
	if !strings.Contains(out, `"category_name"`) {
		t.Fatalf("output missing sampled column: %q", out)
	}

	if len(src.queries) != 2 || src.queries[0] != "SELECT 1" || src.queries[1] != "SELECT * FROM categories" {
		t.Fatalf("source queries = %v", src.queries)
	}
	counted := false
	for _, q := range tgt.queries {
		if strings.HasPrefix(q, "SELECT COUNT(*)") {
			counted = true
		}
	}
	if !counted {
		t.Fatalf("target never counted: %v", tgt.queries)
	}
}

// TestRunProbe_PingFailure verifies a dead connection aborts the probe
// before any sampling happens.
func TestRunProbe_PingFailure(t *testing.T) {
	down := &fakeDB{answer: func(q string) (storage.Rows, error) {
		return nil, context.DeadlineExceeded
	}}

	old := openDBFn
	openDBFn = func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		if cfg.DSN == "src" {
			return down, nil
		}
		return &fakeDB{}, nil
	}
	defer func() { openDBFn = old }()

	p := config.Pipeline{
		Source: config.Connection{Kind: "postgres", DSN: "src"},
		Target: config.Connection{Kind: "postgres", DSN: "tgt"},
		Entities: []config.Entity{{
			Name:    "dim_category",
			Extract: config.Extract{Query: "SELECT * FROM categories"},
			Load:    config.Load{Table: "mart.dim_category"},
		}},
	}

	var buf bytes.Buffer
	err := runProbe(context.Background(), &buf, p, 10)
	if err == nil || !strings.Contains(err.Error(), "source:") {
		t.Fatalf("err = %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("probe wrote output despite ping failure: %q", buf.String())
	}
	if len(down.queries) != 1 {
		t.Fatalf("source queries = %v, want ping only", down.queries)
	}
}
