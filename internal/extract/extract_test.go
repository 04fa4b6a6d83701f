package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/roberthpchao/Northwind-ETL/internal/storage"
)

/*
fakeRows is a canned storage.Rows cursor. stopAt truncates iteration early so
tests can simulate a connection dropping mid-read (Err reports iterErr).
*/
type fakeRows struct {
	cols    []string
	grid    [][]any
	colsErr error
	scanErr error
	iterErr error
	stopAt  int // rows served before Next gives up; 0 means all
	idx     int
	closed  bool
}

func (r *fakeRows) Next() bool {
	limit := len(r.grid)
	if r.stopAt > 0 && r.stopAt < limit {
		limit = r.stopAt
	}
	return r.idx < limit
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.grid[r.idx]
	r.idx++
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, r.colsErr }
func (r *fakeRows) Err() error                 { return r.iterErr }
func (r *fakeRows) Close() error               { r.closed = true; return nil }

/*
fakeSourceDB implements storage.DB for extraction tests. Only Query matters;
the rest satisfy the interface.
*/
type fakeSourceDB struct {
	rows     *fakeRows
	queryErr error
	gotQuery string
}

func (d *fakeSourceDB) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	d.gotQuery = q
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	return d.rows, nil
}

func (d *fakeSourceDB) Exec(ctx context.Context, q string, args ...any) error { return nil }
func (d *fakeSourceDB) BeginTx(ctx context.Context) (storage.Tx, error)       { return nil, nil }
func (d *fakeSourceDB) Dialect() storage.Dialect                              { return nil }
func (d *fakeSourceDB) Close(ctx context.Context) error                       { return nil }

/*
TestFetch_OrderAndNormalization verifies rows arrive in query order with the
query's column list, that []byte text is normalized to string, and that the
cursor is closed when extraction finishes.
*/
func TestFetch_OrderAndNormalization(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{
		cols: []string{"product_id", "product_name"},
		grid: [][]any{
			{int64(1), []byte("Chai")},
			{int64(2), "Chang"},
		},
	}
	db := &fakeSourceDB{rows: rows}

	set, err := Fetch(context.Background(), db, "SELECT product_id, product_name FROM products")
	if err != nil {
		t.Fatalf("Fetch err: %v", err)
	}
	if db.gotQuery != "SELECT product_id, product_name FROM products" {
		t.Fatalf("query = %q", db.gotQuery)
	}
	if set.Len() != 2 || len(set.Columns) != 2 || set.Columns[0] != "product_id" {
		t.Fatalf("set shape = %v / %d rows", set.Columns, set.Len())
	}
	if got := set.Rows[0]["product_name"]; got != "Chai" {
		t.Fatalf("normalized value = %#v, want %q", got, "Chai")
	}
	if got := set.Rows[1]["product_id"]; got != int64(2) {
		t.Fatalf("row order off: %#v", got)
	}
	if !rows.closed {
		t.Fatalf("cursor left open")
	}
}

/*
TestFetch_QueryRejected verifies a rejected query maps to ErrSourceUnavailable
while keeping the driver error in the chain.
*/
func TestFetch_QueryRejected(t *testing.T) {
	t.Parallel()

	cause := errors.New("relation does not exist")
	db := &fakeSourceDB{queryErr: cause}

	set, err := Fetch(context.Background(), db, "SELECT 1")
	if set != nil {
		t.Fatalf("set = %v, want nil", set)
	}
	if !errors.Is(err, ErrSourceUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("err chain = %v", err)
	}
}

/*
TestFetch_InterruptedRead verifies that a connection dropping mid-iteration
yields no partial set.
*/
func TestFetch_InterruptedRead(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{
		cols:    []string{"id"},
		grid:    [][]any{{1}, {2}, {3}},
		stopAt:  1,
		iterErr: errors.New("connection reset"),
	}
	set, err := Fetch(context.Background(), &fakeSourceDB{rows: rows}, "SELECT id FROM t")
	if set != nil {
		t.Fatalf("partial set returned: %d rows", set.Len())
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

/*
TestFetch_ScanFailure verifies scan errors identify the failing row and map to
the extraction taxonomy.
*/
func TestFetch_ScanFailure(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{
		cols:    []string{"id"},
		grid:    [][]any{{1}},
		scanErr: errors.New("bad conversion"),
	}
	_, err := Fetch(context.Background(), &fakeSourceDB{rows: rows}, "SELECT id FROM t")
	if !errors.Is(err, ErrSourceUnavailable) || !strings.Contains(err.Error(), "scan row 0") {
		t.Fatalf("err = %v", err)
	}
}

/*
TestFetch_ColumnsFailure covers the metadata error path.
*/
func TestFetch_ColumnsFailure(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{colsErr: errors.New("no metadata")}
	_, err := Fetch(context.Background(), &fakeSourceDB{rows: rows}, "SELECT 1")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

/*
TestFetch_EmptyResult verifies an empty result is a set with columns and zero
rows, not an error.
*/
func TestFetch_EmptyResult(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{cols: []string{"id", "name"}}
	set, err := Fetch(context.Background(), &fakeSourceDB{rows: rows}, "SELECT id, name FROM t")
	if err != nil {
		t.Fatalf("Fetch err: %v", err)
	}
	if set.Len() != 0 || len(set.Columns) != 2 {
		t.Fatalf("set = %v / %d rows", set.Columns, set.Len())
	}
}
