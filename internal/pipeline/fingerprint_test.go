package pipeline

import (
	"regexp"
	"testing"

	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

func stagedSet() *records.Set {
	set := records.NewSet([]string{"id", "name", "note"})
	set.Append(records.Record{"id": int64(1), "name": "Chai", "note": nil})
	set.Append(records.Record{"id": int64(2), "name": "Chang", "note": "restock"})
	return set
}

/*
TestFingerprint_Deterministic verifies that rebuilding the same staged set
yields the same hash, formatted as 16 hex digits.
*/
func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	a, b := Fingerprint(stagedSet()), Fingerprint(stagedSet())
	if a != b {
		t.Fatalf("hashes differ: %s / %s", a, b)
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(a) {
		t.Fatalf("hash format = %q", a)
	}
}

/*
TestFingerprint_SensitiveToContent verifies row order and cell edits both
change the hash.
*/
func TestFingerprint_SensitiveToContent(t *testing.T) {
	t.Parallel()

	base := Fingerprint(stagedSet())

	reordered := records.NewSet([]string{"id", "name", "note"})
	reordered.Append(records.Record{"id": int64(2), "name": "Chang", "note": "restock"})
	reordered.Append(records.Record{"id": int64(1), "name": "Chai", "note": nil})
	if Fingerprint(reordered) == base {
		t.Fatalf("row order did not change the hash")
	}

	edited := stagedSet()
	edited.Rows[0]["name"] = "Chaik"
	if Fingerprint(edited) == base {
		t.Fatalf("cell edit did not change the hash")
	}
}

/*
TestFingerprint_CellBoundaries shifts a character across a cell boundary;
the separators must keep the encodings distinct.
*/
func TestFingerprint_CellBoundaries(t *testing.T) {
	t.Parallel()

	a := records.NewSet([]string{"x", "y"})
	a.Append(records.Record{"x": "ab", "y": "c"})
	b := records.NewSet([]string{"x", "y"})
	b.Append(records.Record{"x": "a", "y": "bc"})
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("boundary shift collided")
	}
}

/*
TestFingerprint_EmptySet verifies an empty staged set hashes deterministically
over its column list alone.
*/
func TestFingerprint_EmptySet(t *testing.T) {
	t.Parallel()

	a := Fingerprint(records.NewSet([]string{"id"}))
	b := Fingerprint(records.NewSet([]string{"id"}))
	if a != b || len(a) != 16 {
		t.Fatalf("empty-set hashes = %s / %s", a, b)
	}
	if c := Fingerprint(records.NewSet([]string{"id", "name"})); c == a {
		t.Fatalf("column list did not change the hash")
	}
}
