// Package load replaces target-table contents atomically under live
// foreign-key constraints.
//
// A Replace call walks Idle -> Clearing -> Inserting -> Committed inside a
// single transaction. Failed is terminal: the transaction rolls back and the
// target keeps the rows it had before the call. How Clearing gets past
// foreign keys that point at the target is the Strategy:
//
//	truncate  TRUNCATE TABLE; only valid when nothing references the target
//	delete    DELETE the referencing tables first, then the target
//	suspend   disable enforcement of the referencing constraints, clear the
//	          target, and leave a Suspension open for the caller to Restore
//	          once every dependent table has reloaded
//
// Restore re-validates every referencing row with an anti-join and reports
// ErrIntegrityViolation on orphans before enforcement resumes.
package load

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/roberthpchao/Northwind-ETL/internal/metrics"
	"github.com/roberthpchao/Northwind-ETL/internal/storage"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

var (
	// ErrColumnCountMismatch reports a record set whose columns do not line
	// up with the target's declared insertable columns. It is raised before
	// any statement is issued.
	ErrColumnCountMismatch = errors.New("column count mismatch")

	// ErrIntegrityViolation reports referencing rows left without a matching
	// target row after a reload under the suspend strategy.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// DefaultBatchSize bounds how many rows go into one bulk write when the
// Spec does not say.
const DefaultBatchSize = 1000

// Strategy selects how Clearing empties the target table.
type Strategy string

const (
	StrategyTruncate Strategy = "truncate"
	StrategyDelete   Strategy = "delete"
	StrategySuspend  Strategy = "suspend"
)

// State is a position in the replace protocol.
type State string

const (
	StateIdle      State = "idle"
	StateClearing  State = "clearing"
	StateInserting State = "inserting"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
)

// ConstraintRef names a foreign key held by another table that points at
// the load target.
type ConstraintRef struct {
	Table      string // referencing table
	Constraint string // constraint name on that table
	Column     string // referencing column
	References string // referenced column on the target
}

// Spec declares one table replacement.
type Spec struct {
	Table       string
	Columns     []string
	Strategy    Strategy
	Referencing []ConstraintRef
	BatchSize   int // rows per bulk write, DefaultBatchSize when <= 0
}

// Result reports how far a replacement got. States is the full trace,
// State its last entry.
type Result struct {
	Table      string
	State      State
	States     []State
	Rows       int64
	Suspension *Suspension // open constraint suspension, nil for other strategies
	Elapsed    time.Duration
}

func (r *Result) advance(s State) {
	r.State = s
	r.States = append(r.States, s)
}

// Replace swaps the full contents of spec.Table for the rows of set inside
// one transaction. The Result carries the state trace even when Replace
// fails. Shape problems surface as ErrColumnCountMismatch before any
// statement is issued; an empty set clears the table and skips Inserting.
func Replace(ctx context.Context, db storage.DB, spec Spec, set *records.Set) (*Result, error) {
	res := &Result{Table: spec.Table, State: StateIdle, States: []State{StateIdle}}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	bound, err := validate(spec, set)
	if err != nil {
		return res, err
	}
	d := db.Dialect()
	if spec.Strategy == StrategySuspend && !d.SupportsConstraintSuspend() {
		return res, fmt.Errorf("load %s: %s cannot suspend constraint enforcement", spec.Table, d.Name())
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return res, fmt.Errorf("load %s: begin: %w", spec.Table, err)
	}
	fail := func(err error) (*Result, error) {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.WithFields(log.Fields{"table": spec.Table, "err": rbErr}).Warn("rollback failed")
		}
		res.advance(StateFailed)
		return res, err
	}

	logger := log.WithFields(log.Fields{"table": spec.Table, "strategy": spec.Strategy})

	res.advance(StateClearing)
	if err := clear(ctx, tx, d, spec); err != nil {
		return fail(fmt.Errorf("load %s: clear: %w", spec.Table, err))
	}

	if len(bound) > 0 {
		res.advance(StateInserting)
		n, err := insert(ctx, tx, spec, bound, logger)
		res.Rows = n
		if err != nil {
			return fail(fmt.Errorf("load %s: %w", spec.Table, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("load %s: commit: %w", spec.Table, err))
	}
	res.advance(StateCommitted)
	if spec.Strategy == StrategySuspend && len(spec.Referencing) > 0 {
		res.Suspension = &Suspension{table: spec.Table, refs: spec.Referencing}
	}
	logger.WithFields(log.Fields{
		"rows":    res.Rows,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("table replaced")
	return res, nil
}

// validate checks the contract between spec and set and binds the rows.
// Everything here runs before the first statement.
func validate(spec Spec, set *records.Set) ([][]any, error) {
	if spec.Table == "" {
		return nil, errors.New("load: no target table")
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("load %s: no insertable columns declared", spec.Table)
	}
	switch spec.Strategy {
	case StrategyTruncate:
		if len(spec.Referencing) > 0 {
			return nil, fmt.Errorf("load %s: truncate cannot clear a table referenced by %s",
				spec.Table, spec.Referencing[0].Table)
		}
	case StrategyDelete, StrategySuspend:
	default:
		return nil, fmt.Errorf("load %s: unknown clear strategy %q", spec.Table, spec.Strategy)
	}
	if set == nil {
		return nil, fmt.Errorf("%w: %s: nil record set", ErrColumnCountMismatch, spec.Table)
	}
	missing, extra := set.SameColumns(spec.Columns)
	if len(missing) > 0 || len(extra) > 0 {
		return nil, fmt.Errorf("%w: %s wants %d column(s), set has %d (missing %v, extra %v)",
			ErrColumnCountMismatch, spec.Table, len(spec.Columns), len(set.Columns), missing, extra)
	}
	bound, err := set.Bind(spec.Columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrColumnCountMismatch, spec.Table, err)
	}
	return bound, nil
}

func clear(ctx context.Context, tx storage.Tx, d storage.Dialect, spec Spec) error {
	switch spec.Strategy {
	case StrategyTruncate:
		return tx.Exec(ctx, d.TruncateTable(spec.Table))
	case StrategyDelete:
		// Children first: their rows hold keys into the target and block
		// the parent delete while present.
		for _, ref := range spec.Referencing {
			if err := tx.Exec(ctx, "DELETE FROM "+d.QualifyTable(ref.Table)); err != nil {
				return fmt.Errorf("delete %s: %w", ref.Table, err)
			}
		}
		return tx.Exec(ctx, "DELETE FROM "+d.QualifyTable(spec.Table))
	case StrategySuspend:
		for _, ref := range spec.Referencing {
			for _, stmt := range d.DisableConstraint(ref.Table, ref.Constraint) {
				if err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("disable %s on %s: %w", ref.Constraint, ref.Table, err)
				}
			}
		}
		// TRUNCATE stays blocked by the constraint's existence on most
		// engines even with enforcement off, so the clear is a DELETE.
		return tx.Exec(ctx, "DELETE FROM "+d.QualifyTable(spec.Table))
	}
	return fmt.Errorf("unknown clear strategy %q", spec.Strategy)
}

func insert(ctx context.Context, tx storage.Tx, spec Spec, rows [][]any, logger *log.Entry) (int64, error) {
	size := spec.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	var (
		total int64
		began = time.Now()
		last  = began
	)
	for b, off := 1, 0; off < len(rows); b, off = b+1, off+size {
		end := min(off+size, len(rows))
		n, err := tx.CopyInto(ctx, spec.Table, spec.Columns, rows[off:end])
		total += n
		if err != nil {
			return total, fmt.Errorf("bulk insert batch %d: %w", b, err)
		}
		metrics.RecordBatches(spec.Table, 1)
		now := time.Now()
		logger.WithFields(log.Fields{
			"batch":      b,
			"rows":       end - off,
			"total":      total,
			"rps":        rps(total, now.Sub(began)),
			"since_last": now.Sub(last).Round(time.Millisecond),
		}).Debug("bulk insert progress")
		last = now
	}
	if total != int64(len(rows)) {
		return total, fmt.Errorf("bulk insert reported %d row(s), want %d", total, len(rows))
	}
	return total, nil
}

func rps(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// Suspension is the open half of a suspend-strategy load. The named
// constraints stay disabled until Restore runs, which must happen after
// every table that references the target has itself reloaded.
type Suspension struct {
	table string
	refs  []ConstraintRef
}

// Table returns the load target whose referencing constraints are disabled.
func (s *Suspension) Table() string { return s.table }

// Restore re-validates every referencing row and re-enables enforcement in
// one transaction. Validation runs first: orphaned rows abort with
// ErrIntegrityViolation and enforcement stays off for inspection, since the
// engines that accept a re-enable over bad data would otherwise hide it.
func (s *Suspension) Restore(ctx context.Context, db storage.DB) error {
	d := db.Dialect()
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("restore %s constraints: begin: %w", s.table, err)
	}
	for _, ref := range s.refs {
		n, err := orphanCount(ctx, tx, d, s.table, ref)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("validate %s: %w", ref.Constraint, err)
		}
		if n > 0 {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: %d row(s) in %s.%s match nothing in %s.%s",
				ErrIntegrityViolation, n, ref.Table, ref.Column, s.table, ref.References)
		}
	}
	for _, ref := range s.refs {
		for _, stmt := range d.EnableConstraint(ref.Table, ref.Constraint) {
			if err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("enable %s on %s: %w", ref.Constraint, ref.Table, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("restore %s constraints: commit: %w", s.table, err)
	}
	log.WithFields(log.Fields{"table": s.table, "constraints": len(s.refs)}).Info("constraint enforcement restored")
	return nil
}

// orphanCount counts referencing rows with no matching target row. NULL
// keys do not count: under the flag policy they are deliberate.
func orphanCount(ctx context.Context, tx storage.Tx, d storage.Dialect, table string, ref ConstraintRef) (int64, error) {
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON c.%s = p.%s WHERE c.%s IS NOT NULL AND p.%s IS NULL",
		d.QualifyTable(ref.Table), d.QualifyTable(table),
		d.QuoteIdent(ref.Column), d.QuoteIdent(ref.References),
		d.QuoteIdent(ref.Column), d.QuoteIdent(ref.References),
	)
	rows, err := tx.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("count query returned no rows")
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
