// Package transformer reshapes extracted record sets into staged record
// sets ready for loading. Steps are pure with respect to the databases:
// they only build new in-memory sets.
package transformer

import (
	"errors"
	"fmt"

	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

// ErrSchemaMismatch reports a transform that cannot produce the target's
// required columns from its input.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Step is one reshaping of a record set.
type Step interface {
	Apply(set *records.Set) (*records.Set, error)
}

// Chain is an ordered list of steps.
type Chain []Step

// Apply runs each step on the previous step's output, stopping at the first
// failure. The failing step's position is carried in the error.
func (c Chain) Apply(set *records.Set) (*records.Set, error) {
	out := set
	for i, s := range c {
		var err error
		out, err = s.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return out, nil
}
