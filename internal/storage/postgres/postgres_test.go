package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roberthpchao/Northwind-ETL/internal/storage"
)

//
// ==============================
//  FAKES (Test Doubles for pgx)
// ==============================
//
// Minimal fakes satisfying the interfaces the adapter touches. No sockets,
// fully deterministic; they capture arguments and let tests inject failures.
//

// fakePgConn implements pgConnLike.
type fakePgConn struct {
	execCalls []struct {
		q    string
		args []any
	}
	queryRows pgx.Rows
	queryErr  error
	beginTx   pgx.Tx
	beginErr  error
	closed    bool
}

func (c *fakePgConn) Exec(ctx context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	c.execCalls = append(c.execCalls, struct {
		q    string
		args []any
	}{q: q, args: args})
	return pgconn.CommandTag{}, nil
}

func (c *fakePgConn) Query(ctx context.Context, q string, args ...any) (pgx.Rows, error) {
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.queryRows, nil
}

func (c *fakePgConn) Begin(ctx context.Context) (pgx.Tx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return c.beginTx, nil
}

func (c *fakePgConn) Close(ctx context.Context) error { c.closed = true; return nil }

// fakePgTx implements pgx.Tx (v5) with no-ops for methods the adapter never
// calls and instrumentation for the ones it does.
type fakePgTx struct {
	execCalls []string
	copyTable pgx.Identifier
	copyCols  []string
	copyCount int64
	copyErr   error
	commitErr error
	rolled    bool
}

func (t *fakePgTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakePgTx) Exec(ctx context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	t.execCalls = append(t.execCalls, q)
	return pgconn.CommandTag{}, nil
}

func (t *fakePgTx) Query(ctx context.Context, q string, args ...any) (pgx.Rows, error) {
	return &fakePgRows{}, nil
}

func (t *fakePgTx) QueryRow(ctx context.Context, q string, args ...any) pgx.Row { return nil }

// CopyFrom drains the source the way pgx does, counting rows.
func (t *fakePgTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if t.copyErr != nil {
		return 0, t.copyErr
	}
	t.copyTable = table
	t.copyCols = cols
	var n int64
	for src.Next() {
		if _, err := src.Values(); err != nil {
			return n, err
		}
		n++
	}
	if err := src.Err(); err != nil {
		return n, err
	}
	t.copyCount = n
	return n, nil
}

func (t *fakePgTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakePgTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakePgTx) Conn() *pgx.Conn                                              { return nil }

func (t *fakePgTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *fakePgTx) Commit(ctx context.Context) error   { return t.commitErr }
func (t *fakePgTx) Rollback(ctx context.Context) error { t.rolled = true; return nil }

// fakePgRows implements pgx.Rows over a fixed grid.
type fakePgRows struct {
	fields []string
	grid   [][]any
	idx    int
	err    error
	closed bool
}

func (r *fakePgRows) Close()     { r.closed = true }
func (r *fakePgRows) Err() error { return r.err }
func (r *fakePgRows) CommandTag() pgconn.CommandTag {
	return pgconn.CommandTag{}
}
func (r *fakePgRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		fds[i].Name = f
	}
	return fds
}
func (r *fakePgRows) Next() bool { return r.idx < len(r.grid) }
func (r *fakePgRows) Scan(dest ...any) error {
	row := r.grid[r.idx]
	r.idx++
	for i := range dest {
		if p, ok := dest[i].(*any); ok {
			*p = row[i]
		}
	}
	return nil
}
func (r *fakePgRows) Values() ([]any, error) { return nil, nil }
func (r *fakePgRows) RawValues() [][]byte    { return nil }
func (r *fakePgRows) Conn() *pgx.Conn        { return nil }

//
// =====================
//  ADAPTER TESTS (pgx)
// =====================
//

// Test_pgDB_Exec_PassesThrough verifies that Exec forwards SQL and args
// unmodified.
func Test_pgDB_Exec_PassesThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fc := &fakePgConn{}
	d, _ := storage.DialectFor("postgres")
	p := newPgDBFromConn(fc, d)

	if err := p.Exec(ctx, "VACUUM"); err != nil {
		t.Fatalf("Exec err: %v", err)
	}
	if len(fc.execCalls) != 1 || fc.execCalls[0].q != "VACUUM" {
		t.Fatalf("exec captured = %#v", fc.execCalls)
	}
}

// Test_pgDB_Query_WrapsRows verifies the Rows adapter exposes column names
// from field descriptions and Close never errors.
func Test_pgDB_Query_WrapsRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner := &fakePgRows{fields: []string{"product_key", "source_product_id"}}
	fc := &fakePgConn{queryRows: inner}
	d, _ := storage.DialectFor("postgres")
	p := newPgDBFromConn(fc, d)

	rows, err := p.Query(ctx, "SELECT 1")
	if err != nil {
		t.Fatalf("Query err: %v", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("Columns err: %v", err)
	}
	if len(cols) != 2 || cols[0] != "product_key" || cols[1] != "source_product_id" {
		t.Fatalf("cols = %v", cols)
	}
	if err := rows.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if !inner.closed {
		t.Fatalf("inner rows not closed")
	}
}

// Test_pgDB_BeginTx_SuccessAndError covers both BeginTx paths.
func Test_pgDB_BeginTx_SuccessAndError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d, _ := storage.DialectFor("postgres")

	pOK := newPgDBFromConn(&fakePgConn{beginTx: &fakePgTx{}}, d)
	tx, err := pOK.BeginTx(ctx)
	if err != nil || tx == nil {
		t.Fatalf("BeginTx success expected non-nil tx, got tx=%v err=%v", tx, err)
	}

	pErr := newPgDBFromConn(&fakePgConn{beginErr: errors.New("boom")}, d)
	tx2, err2 := pErr.BeginTx(ctx)
	if err2 == nil || tx2 != nil {
		t.Fatalf("expected error and nil tx, got tx=%v err=%v", tx2, err2)
	}
}

// Test_pgTx_CopyInto_CountsAndIdentifies verifies CopyInto drains rows
// through COPY and quotes schema-qualified names part by part.
func Test_pgTx_CopyInto_CountsAndIdentifies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ft := &fakePgTx{}
	tx := newPgTxForTest(ft)

	rows := [][]any{{1, "a"}, {2, "b"}, {3, "c"}}
	n, err := tx.CopyInto(ctx, "mart.dim_product", []string{"id", "name"}, rows)
	if err != nil {
		t.Fatalf("CopyInto err: %v", err)
	}
	if n != 3 || ft.copyCount != 3 {
		t.Fatalf("copied = %d (fake %d), want 3", n, ft.copyCount)
	}
	if len(ft.copyTable) != 2 || ft.copyTable[0] != "mart" || ft.copyTable[1] != "dim_product" {
		t.Fatalf("identifier = %#v", ft.copyTable)
	}
}

// Test_pgTx_CopyInto_Error verifies COPY failures propagate.
func Test_pgTx_CopyInto_Error(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	want := errors.New("copy failed")
	tx := newPgTxForTest(&fakePgTx{copyErr: want})

	if _, err := tx.CopyInto(ctx, "t", []string{"c"}, [][]any{{1}}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

// Test_pgDB_Close_Delegates verifies Close reaches the connection.
func Test_pgDB_Close_Delegates(t *testing.T) {
	t.Parallel()

	fc := &fakePgConn{}
	d, _ := storage.DialectFor("postgres")
	p := newPgDBFromConn(fc, d)
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if !fc.closed {
		t.Fatalf("underlying Close not called")
	}
}

// TestSplitFQN covers one-part and two-part names.
func TestSplitFQN(t *testing.T) {
	t.Parallel()

	if got := splitFQN("dim_product"); len(got) != 1 || got[0] != "dim_product" {
		t.Fatalf("splitFQN bare = %#v", got)
	}
	if got := splitFQN("mart.fact_order_metrics"); len(got) != 2 || got[0] != "mart" {
		t.Fatalf("splitFQN qualified = %#v", got)
	}
}
