package comparison

import (
	"crypto/md5"
	"fmt"
	"sort"

	"github.com/esekit/ese-verify/cmd/records"
)

// maxEvidenceSamples caps the number of sample records or examples attached
// to any single piece of diff evidence.
const maxEvidenceSamples = 3

// Bag is a multiset of canonical record forms: each distinct canonical form
// mapped to its occurrence count, with one representative record retained per
// form for evidence. Row order never influences a Bag.
type Bag struct {
	counts map[string]int
	sample map[string]records.Record
	total  int
}

// BuildBag folds rows into their multiset form.
func BuildBag(rows []records.Record) *Bag {
	b := &Bag{
		counts: make(map[string]int),
		sample: make(map[string]records.Record),
	}
	for _, row := range rows {
		canon := row.Canonical()
		if b.counts[canon] == 0 {
			b.sample[canon] = row
		}
		b.counts[canon]++
		b.total++
	}
	return b
}

// Total returns the number of row occurrences, duplicates included.
func (b *Bag) Total() int {
	return b.total
}

// Distinct returns the number of distinct canonical forms.
func (b *Bag) Distinct() int {
	return len(b.counts)
}

// Equal reports whether two bags hold exactly the same canonical forms with
// exactly the same multiplicities.
func (b *Bag) Equal(o *Bag) bool {
	if b.total != o.total || len(b.counts) != len(o.counts) {
		return false
	}
	for canon, count := range b.counts {
		if o.counts[canon] != count {
			return false
		}
	}
	return true
}

// Digest returns a stable fingerprint of the bag's content. Two bags have
// equal digests exactly when they are equal, up to hash collision.
func (b *Bag) Digest() string {
	forms := make([]string, 0, len(b.counts))
	for canon := range b.counts {
		forms = append(forms, canon)
	}
	sort.Strings(forms)

	h := md5.New()
	for _, canon := range forms {
		fmt.Fprintf(h, "%s\x00%d\n", canon, b.counts[canon])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// AllEqual reports whether every bag matches the first one. Vacuously true
// for fewer than two bags.
func AllEqual(bags []*Bag) bool {
	for i := 1; i < len(bags); i++ {
		if !bags[0].Equal(bags[i]) {
			return false
		}
	}
	return true
}

// PairDiff is the set-difference evidence for one unordered pair of sources:
// how many row occurrences exist only on each side, with up to three sample
// records per direction. Samples are picked from the lexicographically
// smallest divergent canonical forms, so the evidence is deterministic.
type PairDiff struct {
	SourceA  string           `json:"source_a"`
	SourceB  string           `json:"source_b"`
	OnlyInA  int              `json:"only_in_a"`
	OnlyInB  int              `json:"only_in_b"`
	SamplesA []records.Record `json:"samples_a,omitempty"`
	SamplesB []records.Record `json:"samples_b,omitempty"`
}

// DiffBags computes the pairwise set difference in both directions.
// DiffBags(a, b) mirrors DiffBags(b, a) exactly.
func DiffBags(nameA string, a *Bag, nameB string, b *Bag) PairDiff {
	diff := PairDiff{SourceA: nameA, SourceB: nameB}
	diff.OnlyInA, diff.SamplesA = onlyIn(a, b)
	diff.OnlyInB, diff.SamplesB = onlyIn(b, a)
	return diff
}

// onlyIn returns the number of row occurrences present in a beyond b's
// multiplicities, plus sample records for the smallest divergent forms.
func onlyIn(a, b *Bag) (int, []records.Record) {
	var surplus []string
	total := 0
	for canon, count := range a.counts {
		extra := count - b.counts[canon]
		if extra > 0 {
			total += extra
			surplus = append(surplus, canon)
		}
	}
	sort.Strings(surplus)

	var samples []records.Record
	for _, canon := range surplus {
		if len(samples) == maxEvidenceSamples {
			break
		}
		samples = append(samples, a.sample[canon])
	}
	return total, samples
}
