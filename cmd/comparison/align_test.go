package comparison

import (
	"testing"

	"github.com/esekit/ese-verify/cmd/records"
)

func appRow(id int64, app string, size int64) records.Record {
	return records.NewRecord(map[string]records.Value{
		"EntryId": records.Int(id),
		"AppId":   records.Text(app),
		"Size":    records.Int(size),
	})
}

func TestSelectKeyField(t *testing.T) {
	t.Run("PresentEverywhere", func(t *testing.T) {
		a := []records.Record{appRow(1, "x", 10), appRow(2, "y", 20)}
		b := []records.Record{appRow(1, "x", 10)}

		if got := SelectKeyField([]string{"EntryId"}, a, b); got != "EntryId" {
			t.Fatalf("expected 'EntryId', got '%s'", got)
		}
	})

	t.Run("AbsentOnOneRow", func(t *testing.T) {
		a := []records.Record{appRow(1, "x", 10)}
		b := []records.Record{records.NewRecord(map[string]records.Value{
			"AppId": records.Text("x"),
		})}

		if got := SelectKeyField([]string{"EntryId"}, a, b); got != "" {
			t.Fatalf("expected no key field, got '%s'", got)
		}
	})

	t.Run("NullValueDisqualifies", func(t *testing.T) {
		a := []records.Record{records.NewRecord(map[string]records.Value{
			"EntryId": records.Null(),
		})}

		if got := SelectKeyField([]string{"EntryId"}, a); got != "" {
			t.Fatalf("null key value should disqualify, got '%s'", got)
		}
	})

	t.Run("FallsBackToLaterCandidate", func(t *testing.T) {
		a := []records.Record{records.NewRecord(map[string]records.Value{
			"RecordId": records.Int(1),
		})}

		got := SelectKeyField([]string{"EntryId", "RecordId"}, a)
		if got != "RecordId" {
			t.Fatalf("expected fallback to 'RecordId', got '%s'", got)
		}
	})
}

func TestAlignRowsByKey(t *testing.T) {
	t.Run("SingleFieldDivergence", func(t *testing.T) {
		a := []records.Record{appRow(1, "app.exe", 100), appRow(2, "other.exe", 200)}
		b := []records.Record{appRow(1, "app.exe", 100), appRow(2, "other.exe", 999)}

		diff := AlignRows("py", a, "go", b, "EntryId")

		if diff.DifferingRows != 1 {
			t.Fatalf("expected 1 differing row, got %d", diff.DifferingRows)
		}
		if len(diff.FieldDiffs) != 1 {
			t.Fatalf("expected 1 field diff, got %d", len(diff.FieldDiffs))
		}

		fd := diff.FieldDiffs[0]
		if fd.Field != "Size" || fd.Count != 1 {
			t.Fatalf("unexpected field diff: %+v", fd)
		}
		if len(fd.Examples) != 1 {
			t.Fatalf("expected 1 example, got %d", len(fd.Examples))
		}

		example := fd.Examples[0]
		if example.Key != "2" {
			t.Fatalf("expected key '2', got '%s'", example.Key)
		}
		if example.A == nil || example.A.String() != "200" {
			t.Fatalf("unexpected A value: %v", example.A)
		}
		if example.B == nil || example.B.String() != "999" {
			t.Fatalf("unexpected B value: %v", example.B)
		}
	})

	t.Run("AggregatesAcrossRows", func(t *testing.T) {
		var a, b []records.Record
		for i := int64(1); i <= 6; i++ {
			a = append(a, appRow(i, "app", i*10))
			b = append(b, appRow(i, "app", i*10+1))
		}

		diff := AlignRows("py", a, "go", b, "EntryId")

		if diff.DifferingRows != 6 {
			t.Fatalf("expected 6 differing rows, got %d", diff.DifferingRows)
		}
		fd := diff.FieldDiffs[0]
		if fd.Count != 6 {
			t.Fatalf("expected count 6, got %d", fd.Count)
		}
		if len(fd.Examples) != maxEvidenceSamples {
			t.Fatalf("examples should cap at %d, got %d", maxEvidenceSamples, len(fd.Examples))
		}
	})

	t.Run("AbsentFieldIsDistinctFromNull", func(t *testing.T) {
		a := []records.Record{records.NewRecord(map[string]records.Value{
			"EntryId": records.Int(1),
			"Extra":   records.Null(),
		})}
		b := []records.Record{records.NewRecord(map[string]records.Value{
			"EntryId": records.Int(1),
		})}

		diff := AlignRows("py", a, "go", b, "EntryId")

		if len(diff.FieldDiffs) != 1 || diff.FieldDiffs[0].Field != "Extra" {
			t.Fatalf("expected a diff on 'Extra', got %+v", diff.FieldDiffs)
		}
		example := diff.FieldDiffs[0].Examples[0]
		if example.A == nil {
			t.Fatal("A side should carry the present null value")
		}
		if example.B != nil {
			t.Fatal("B side should be absent")
		}
	})

	t.Run("MismatchedKeySets", func(t *testing.T) {
		// Equal counts, different keys: the rename case.
		a := []records.Record{appRow(1, "app", 10), appRow(2, "app", 20)}
		b := []records.Record{appRow(1, "app", 10), appRow(3, "app", 20)}

		diff := AlignRows("py", a, "go", b, "EntryId")

		if len(diff.KeysOnlyInA) != 1 || diff.KeysOnlyInA[0] != "2" {
			t.Fatalf("expected key '2' only in py, got %v", diff.KeysOnlyInA)
		}
		if len(diff.KeysOnlyInB) != 1 || diff.KeysOnlyInB[0] != "3" {
			t.Fatalf("expected key '3' only in go, got %v", diff.KeysOnlyInB)
		}
	})

	t.Run("DuplicateKeysAlignWithinGroup", func(t *testing.T) {
		a := []records.Record{appRow(1, "app", 10), appRow(1, "app", 20)}
		b := []records.Record{appRow(1, "app", 10), appRow(1, "app", 21)}

		diff := AlignRows("py", a, "go", b, "EntryId")

		if diff.DifferingRows != 1 {
			t.Fatalf("expected 1 differing row, got %d", diff.DifferingRows)
		}
		if len(diff.KeysOnlyInA) != 0 || len(diff.KeysOnlyInB) != 0 {
			t.Fatal("equal multiplicities should not produce key-set evidence")
		}
	})

	t.Run("IdenticalSidesProduceNothing", func(t *testing.T) {
		rows := []records.Record{appRow(1, "app", 10), appRow(2, "app", 20)}

		diff := AlignRows("py", rows, "go", rows, "EntryId")

		if diff.DifferingRows != 0 || len(diff.FieldDiffs) != 0 {
			t.Fatalf("identical inputs should produce no evidence: %+v", diff)
		}
	})
}

func TestAlignRowsStructural(t *testing.T) {
	t.Run("SortedPositionalPairing", func(t *testing.T) {
		// No usable key: rows pair up after a canonical sort, so insertion
		// order does not matter.
		a := []records.Record{appRow(2, "b", 20), appRow(1, "a", 10)}
		b := []records.Record{appRow(1, "a", 10), appRow(2, "b", 25)}

		diff := AlignRows("py", a, "go", b, "")

		if diff.KeyField != "" {
			t.Fatalf("expected structural alignment, got key '%s'", diff.KeyField)
		}
		if diff.DifferingRows != 1 {
			t.Fatalf("expected 1 differing row, got %d", diff.DifferingRows)
		}
		if len(diff.FieldDiffs) != 1 || diff.FieldDiffs[0].Field != "Size" {
			t.Fatalf("expected a Size diff, got %+v", diff.FieldDiffs)
		}
	})

	t.Run("FieldDiffsSortedByName", func(t *testing.T) {
		a := []records.Record{records.NewRecord(map[string]records.Value{
			"Zeta":  records.Int(1),
			"Alpha": records.Int(1),
		})}
		b := []records.Record{records.NewRecord(map[string]records.Value{
			"Zeta":  records.Int(2),
			"Alpha": records.Int(2),
		})}

		diff := AlignRows("py", a, "go", b, "")

		if len(diff.FieldDiffs) != 2 {
			t.Fatalf("expected 2 field diffs, got %d", len(diff.FieldDiffs))
		}
		if diff.FieldDiffs[0].Field != "Alpha" || diff.FieldDiffs[1].Field != "Zeta" {
			t.Fatalf("field diffs should be sorted by name: %+v", diff.FieldDiffs)
		}
	})
}
