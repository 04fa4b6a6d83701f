// Package resolve translates natural (source-system) keys into the
// surrogate keys a freshly reloaded dimension assigned. A KeyMap is read
// back from the dimension table after its load commits; Lookup then joins a
// staged fact set against it, left-outer, so no fact row is ever silently
// lost.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roberthpchao/Northwind-ETL/internal/storage"
	"github.com/roberthpchao/Northwind-ETL/internal/transformer"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

var (
	// ErrAmbiguousKey reports a natural key that appears more than once in
	// a dimension snapshot. The dimension's uniqueness invariant is broken;
	// picking a winner would attach facts to an arbitrary row.
	ErrAmbiguousKey = errors.New("ambiguous natural key")

	// ErrUnresolvedForeignKey reports fact rows whose natural key has no
	// match, under the reject policy.
	ErrUnresolvedForeignKey = errors.New("unresolved foreign key")
)

// Ref names the dimension table and columns a key map reads back.
type Ref struct {
	Table     string // dimension table, optionally schema-qualified
	Surrogate string // surrogate key column
	Natural   string // natural key column
}

// KeyMap is a natural-key -> surrogate-key mapping for one dimension
// snapshot. It lives for one pipeline run.
type KeyMap struct {
	ref  Ref
	keys map[string]int64
}

// BuildKeyMap reads the (surrogate, natural) pairs from a just-loaded
// dimension. Duplicate natural keys fail with ErrAmbiguousKey; a NULL or
// empty natural key is the same class of defect and also fails the build.
func BuildKeyMap(ctx context.Context, db storage.DB, ref Ref) (*KeyMap, error) {
	d := db.Dialect()
	query := fmt.Sprintf("SELECT %s, %s FROM %s",
		d.QuoteIdent(ref.Surrogate), d.QuoteIdent(ref.Natural), d.QualifyTable(ref.Table))

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read back %s: %w", ref.Table, err)
	}
	defer rows.Close()

	keys := make(map[string]int64)
	for rows.Next() {
		var sv, nv any
		if err := rows.Scan(&sv, &nv); err != nil {
			return nil, fmt.Errorf("read back %s: %w", ref.Table, err)
		}
		sk, err := surrogateOf(sv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", ref.Table, ref.Surrogate, err)
		}
		nk, ok := canonicalKey(nv)
		if !ok {
			return nil, fmt.Errorf("%s.%s holds a NULL or empty natural key (surrogate %d)", ref.Table, ref.Natural, sk)
		}
		if _, dup := keys[nk]; dup {
			return nil, fmt.Errorf("%w: %s.%s=%q", ErrAmbiguousKey, ref.Table, ref.Natural, nk)
		}
		keys[nk] = sk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read back %s: %w", ref.Table, err)
	}
	return &KeyMap{ref: ref, keys: keys}, nil
}

// Len reports the number of mapped natural keys.
func (m *KeyMap) Len() int { return len(m.keys) }

// Lookup resolves one natural key. A NULL key never matches.
func (m *KeyMap) Lookup(natural any) (int64, bool) {
	k, ok := canonicalKey(natural)
	if !ok {
		return 0, false
	}
	sk, ok := m.keys[k]
	return sk, ok
}

// Table names the dimension the map was read from.
func (m *KeyMap) Table() string { return m.ref.Table }

// Policy controls what happens to rows whose natural key has no match.
type Policy string

const (
	// Reject fails the entity before anything is written.
	Reject Policy = "reject"
	// Flag loads unmatched rows with a NULL surrogate and reports the count.
	Flag Policy = "flag"
)

// Lookup joins a staged set against a dimension key map. It satisfies
// transformer.Step, so it slots into an entity's transform chain. Every
// input row survives: matches carry the surrogate under As, misses carry an
// explicit NULL. When As equals Column the surrogate replaces the natural
// key in place, keeping exactly one occurrence of the name in the schema.
type Lookup struct {
	Map    *KeyMap
	Column string // natural key column in the staged set
	As     string // output column for the resolved surrogate
	Policy Policy

	// OnUnresolved, when set, receives the unresolved row count under both
	// policies before any error is returned.
	OnUnresolved func(count int)
}

func (l Lookup) Apply(set *records.Set) (*records.Set, error) {
	if l.Map == nil {
		return nil, fmt.Errorf("resolve %q: no key map loaded", l.As)
	}
	if !set.HasColumn(l.Column) {
		return nil, fmt.Errorf("%w: natural key column %q not in input", transformer.ErrSchemaMismatch, l.Column)
	}
	addCol := l.As != l.Column
	if addCol && set.HasColumn(l.As) {
		return nil, fmt.Errorf("%w: resolved column %q already present", transformer.ErrSchemaMismatch, l.As)
	}

	cols := set.Columns
	if addCol {
		cols = append(append([]string(nil), set.Columns...), l.As)
	}
	out := records.NewSet(cols)

	var unresolved int
	var samples []string
	for _, rec := range set.Rows {
		nr := rec.Clone()
		if sk, ok := l.Map.Lookup(rec[l.Column]); ok {
			nr[l.As] = sk
		} else {
			unresolved++
			if len(samples) < 3 {
				samples = append(samples, fmt.Sprint(rec[l.Column]))
			}
			nr[l.As] = nil
		}
		out.Append(nr)
	}

	if unresolved > 0 {
		if l.OnUnresolved != nil {
			l.OnUnresolved(unresolved)
		}
		if l.Policy != Flag {
			return nil, fmt.Errorf("%w: %d row(s) in %q have no match in %s (keys: %s)",
				ErrUnresolvedForeignKey, unresolved, l.Column, l.Map.ref.Table, strings.Join(samples, ", "))
		}
	}
	return out, nil
}

// canonicalKey normalizes a natural key for map lookups so INTEGER and TEXT
// representations of the same identifier join. NULL and empty keys are not
// usable join keys.
func canonicalKey(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case []byte:
		return string(t), len(t) != 0
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int:
		return strconv.FormatInt(int64(t), 10), true
	default:
		return fmt.Sprint(t), true
	}
}

// surrogateOf coerces a scanned surrogate key to int64. MySQL's text
// protocol scans integers as []byte, so textual forms parse.
func surrogateOf(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(string(t), 10, 64)
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("surrogate key is %T, not an integer", v)
	}
}
