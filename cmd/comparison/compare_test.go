package comparison

import (
	"testing"

	"github.com/esekit/ese-verify/cmd/records"
)

func idRow(id int64, name string) records.Record {
	return records.NewRecord(map[string]records.Value{
		"EntryId": records.Int(id),
		"Name":    records.Text(name),
	})
}

func TestBagEquality(t *testing.T) {
	t.Run("OrderIndependent", func(t *testing.T) {
		a := BuildBag([]records.Record{idRow(1, "a"), idRow(2, "b"), idRow(3, "c")})
		b := BuildBag([]records.Record{idRow(3, "c"), idRow(1, "a"), idRow(2, "b")})

		if !a.Equal(b) {
			t.Fatal("row order should not affect bag equality")
		}
	})

	t.Run("DuplicateMultiplicityMatters", func(t *testing.T) {
		a := BuildBag([]records.Record{idRow(1, "a"), idRow(1, "a"), idRow(2, "b")})
		b := BuildBag([]records.Record{idRow(1, "a"), idRow(2, "b"), idRow(2, "b")})

		if a.Equal(b) {
			t.Fatal("bags with different multiplicities should not be equal")
		}
		if a.Total() != 3 || b.Total() != 3 {
			t.Fatalf("expected totals of 3, got %d and %d", a.Total(), b.Total())
		}
	})

	t.Run("EmptyBagsEqual", func(t *testing.T) {
		a := BuildBag(nil)
		b := BuildBag([]records.Record{})

		if !a.Equal(b) {
			t.Fatal("two empty bags should be equal")
		}
		if a.Total() != 0 || a.Distinct() != 0 {
			t.Fatalf("empty bag should have zero counts, got %d/%d", a.Total(), a.Distinct())
		}
	})

	t.Run("AllEqualAcrossThreeSources", func(t *testing.T) {
		rows := []records.Record{idRow(1, "a"), idRow(2, "b")}
		bags := []*Bag{BuildBag(rows), BuildBag(rows), BuildBag(rows)}

		if !AllEqual(bags) {
			t.Fatal("identical bags should be AllEqual")
		}

		bags[2] = BuildBag([]records.Record{idRow(1, "a"), idRow(2, "CHANGED")})
		if AllEqual(bags) {
			t.Fatal("one divergent bag should break AllEqual")
		}
	})
}

func TestBagDigest(t *testing.T) {
	t.Run("StableAcrossOrder", func(t *testing.T) {
		a := BuildBag([]records.Record{idRow(1, "a"), idRow(2, "b")})
		b := BuildBag([]records.Record{idRow(2, "b"), idRow(1, "a")})

		if a.Digest() != b.Digest() {
			t.Fatal("digest should not depend on row order")
		}
	})

	t.Run("SensitiveToContent", func(t *testing.T) {
		a := BuildBag([]records.Record{idRow(1, "a")})
		b := BuildBag([]records.Record{idRow(1, "b")})

		if a.Digest() == b.Digest() {
			t.Fatal("different content should produce different digests")
		}
	})

	t.Run("SensitiveToMultiplicity", func(t *testing.T) {
		a := BuildBag([]records.Record{idRow(1, "a")})
		b := BuildBag([]records.Record{idRow(1, "a"), idRow(1, "a")})

		if a.Digest() == b.Digest() {
			t.Fatal("different multiplicities should produce different digests")
		}
	})
}

func TestDiffBags(t *testing.T) {
	t.Run("CountsAndSamples", func(t *testing.T) {
		a := BuildBag([]records.Record{idRow(1, "a"), idRow(2, "b"), idRow(3, "c")})
		b := BuildBag([]records.Record{idRow(1, "a"), idRow(4, "d")})

		diff := DiffBags("py", a, "go", b)

		if diff.OnlyInA != 2 {
			t.Fatalf("expected 2 rows only in py, got %d", diff.OnlyInA)
		}
		if diff.OnlyInB != 1 {
			t.Fatalf("expected 1 row only in go, got %d", diff.OnlyInB)
		}
		if len(diff.SamplesA) != 2 || len(diff.SamplesB) != 1 {
			t.Fatalf("unexpected sample counts: %d and %d", len(diff.SamplesA), len(diff.SamplesB))
		}
	})

	t.Run("SamplesCappedAtThree", func(t *testing.T) {
		var rowsA []records.Record
		for i := int64(0); i < 10; i++ {
			rowsA = append(rowsA, idRow(i, "only-a"))
		}
		diff := DiffBags("py", BuildBag(rowsA), "go", BuildBag(nil))

		if diff.OnlyInA != 10 {
			t.Fatalf("expected 10 rows only in py, got %d", diff.OnlyInA)
		}
		if len(diff.SamplesA) != maxEvidenceSamples {
			t.Fatalf("expected %d samples, got %d", maxEvidenceSamples, len(diff.SamplesA))
		}
	})

	t.Run("SurplusMultiplicityCounted", func(t *testing.T) {
		// Same distinct row, different occurrence counts.
		a := BuildBag([]records.Record{idRow(1, "a"), idRow(1, "a"), idRow(1, "a")})
		b := BuildBag([]records.Record{idRow(1, "a")})

		diff := DiffBags("py", a, "go", b)
		if diff.OnlyInA != 2 {
			t.Fatalf("expected surplus of 2, got %d", diff.OnlyInA)
		}
		if diff.OnlyInB != 0 {
			t.Fatalf("expected no surplus in go, got %d", diff.OnlyInB)
		}
	})

	t.Run("Symmetry", func(t *testing.T) {
		a := BuildBag([]records.Record{idRow(1, "a"), idRow(2, "b")})
		b := BuildBag([]records.Record{idRow(2, "b"), idRow(3, "c")})

		ab := DiffBags("py", a, "go", b)
		ba := DiffBags("go", b, "py", a)

		if ab.OnlyInA != ba.OnlyInB || ab.OnlyInB != ba.OnlyInA {
			t.Fatalf("diff should mirror under argument swap: %+v vs %+v", ab, ba)
		}
		if len(ab.SamplesA) != len(ba.SamplesB) {
			t.Fatal("samples should mirror under argument swap")
		}
	})

	t.Run("DeterministicSampleOrder", func(t *testing.T) {
		rows := []records.Record{idRow(5, "e"), idRow(1, "a"), idRow(3, "c"), idRow(9, "i")}

		first := DiffBags("py", BuildBag(rows), "go", BuildBag(nil))
		for i := 0; i < 20; i++ {
			again := DiffBags("py", BuildBag(rows), "go", BuildBag(nil))
			for j := range first.SamplesA {
				if first.SamplesA[j].Canonical() != again.SamplesA[j].Canonical() {
					t.Fatal("sample selection should be deterministic")
				}
			}
		}
	})
}
