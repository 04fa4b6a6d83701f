// Package builtin contains the record-set transforms the reload pipeline
// composes from configuration: column renames, projection onto the target
// schema, and derived measures.
//
// Derived measures are computed on exact decimals (cockroachdb/apd), never
// on binary floats. Currency-like values such as
//
//	extended_price = quantity * unit_price * (1 - discount)
//
// must aggregate without drift, so the result is quantized to a fixed scale
// and emitted as a plain decimal string, which every supported engine binds
// as NUMERIC.
package builtin

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"

	"github.com/roberthpchao/Northwind-ETL/internal/transformer"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

// deriveCtx is the shared arithmetic context. 34 significant digits covers
// any int64 times a currency value without rounding the integer part.
var deriveCtx = apd.BaseContext.WithPrecision(34)

// Expr is one node of a derive expression: exactly one of Op (with Args),
// Col, or Lit is set.
type Expr struct {
	Op   string `json:"op,omitempty"` // "add", "sub", "mul", or "div"; folds left over Args
	Args []Expr `json:"args,omitempty"`
	Col  string `json:"col,omitempty"`
	Lit  string `json:"lit,omitempty"`
}

// Derive computes Column for every record by evaluating Expr against the
// record. A nil operand makes the derived value nil. If Column is new it is
// appended to the schema; an existing column is overwritten.
type Derive struct {
	Column string
	Expr   Expr
	Scale  int32 // fractional digits in the result, e.g. 2 for currency
}

func (d Derive) Apply(set *records.Set) (*records.Set, error) {
	if d.Column == "" {
		return nil, fmt.Errorf("%w: derive target column is empty", transformer.ErrSchemaMismatch)
	}
	if err := d.Expr.validate(set); err != nil {
		return nil, err
	}

	cols := set.Columns
	if !set.HasColumn(d.Column) {
		cols = append(append([]string(nil), set.Columns...), d.Column)
	}
	out := records.NewSet(cols)
	for i, rec := range set.Rows {
		v, err := eval(d.Expr, rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		nr := rec.Clone()
		if v == nil {
			nr[d.Column] = nil
		} else {
			q := new(apd.Decimal)
			if _, err := deriveCtx.Quantize(q, v, -d.Scale); err != nil {
				return nil, fmt.Errorf("row %d: quantize %q: %w", i, d.Column, err)
			}
			nr[d.Column] = q.Text('f')
		}
		out.Append(nr)
	}
	return out, nil
}

// validate walks the expression once per Apply so eval can assume a
// well-formed tree and resolvable columns.
func (e Expr) validate(set *records.Set) error {
	switch {
	case e.Col != "":
		if e.Op != "" || e.Lit != "" || len(e.Args) > 0 {
			return fmt.Errorf("%w: derive node mixes col with op/lit", transformer.ErrSchemaMismatch)
		}
		if !set.HasColumn(e.Col) {
			return fmt.Errorf("%w: derive input %q not in input", transformer.ErrSchemaMismatch, e.Col)
		}
	case e.Lit != "":
		if e.Op != "" || len(e.Args) > 0 {
			return fmt.Errorf("%w: derive node mixes lit with op", transformer.ErrSchemaMismatch)
		}
		if _, _, err := apd.NewFromString(e.Lit); err != nil {
			return fmt.Errorf("%w: derive literal %q: %v", transformer.ErrSchemaMismatch, e.Lit, err)
		}
	case e.Op != "":
		switch e.Op {
		case "add", "sub", "mul", "div":
		default:
			return fmt.Errorf("%w: unknown derive op %q", transformer.ErrSchemaMismatch, e.Op)
		}
		if len(e.Args) < 2 {
			return fmt.Errorf("%w: derive op %q needs at least two args", transformer.ErrSchemaMismatch, e.Op)
		}
		for _, a := range e.Args {
			if err := a.validate(set); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: empty derive node", transformer.ErrSchemaMismatch)
	}
	return nil
}

// eval computes the node's value for one record. A nil anywhere makes the
// whole expression nil (SQL NULL semantics).
func eval(e Expr, rec records.Record) (*apd.Decimal, error) {
	switch {
	case e.Col != "":
		return toDecimal(e.Col, rec[e.Col])
	case e.Lit != "":
		d, _, err := apd.NewFromString(e.Lit)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	acc, err := eval(e.Args[0], rec)
	if err != nil || acc == nil {
		return nil, err
	}
	for _, arg := range e.Args[1:] {
		rhs, err := eval(arg, rec)
		if err != nil || rhs == nil {
			return nil, err
		}
		res := new(apd.Decimal)
		switch e.Op {
		case "add":
			_, err = deriveCtx.Add(res, acc, rhs)
		case "sub":
			_, err = deriveCtx.Sub(res, acc, rhs)
		case "mul":
			_, err = deriveCtx.Mul(res, acc, rhs)
		case "div":
			_, err = deriveCtx.Quo(res, acc, rhs)
		}
		if err != nil {
			return nil, err
		}
		acc = res
	}
	return acc, nil
}

// toDecimal converts a scanned value to an exact decimal. Floats go through
// their shortest round-trip decimal form, so a stored 0.1 becomes exactly
// "0.1" rather than its binary expansion.
func toDecimal(col string, v any) (*apd.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *apd.Decimal:
		return t, nil
	case int64:
		return apd.New(t, 0), nil
	case int32:
		return apd.New(int64(t), 0), nil
	case int:
		return apd.New(int64(t), 0), nil
	case float64:
		d, _, err := apd.NewFromString(strconv.FormatFloat(t, 'g', -1, 64))
		if err != nil {
			return nil, err
		}
		return d, nil
	case float32:
		d, _, err := apd.NewFromString(strconv.FormatFloat(float64(t), 'g', -1, 32))
		if err != nil {
			return nil, err
		}
		return d, nil
	case string:
		d, _, err := apd.NewFromString(t)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %v", transformer.ErrSchemaMismatch, col, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: column %q holds %T, not a numeric", transformer.ErrSchemaMismatch, col, v)
	}
}
