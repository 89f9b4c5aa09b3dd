package comparison

import (
	"sort"

	"github.com/esekit/ese-verify/cmd/records"
)

// Status is the per-table verdict. Exactly one applies to every compared
// table.
type Status string

const (
	// StatusPerfect means every source produced a semantically identical
	// multiset of rows.
	StatusPerfect Status = "perfect"

	// StatusCountMismatch means the sources disagree on the number of rows.
	StatusCountMismatch Status = "count_mismatch"

	// StatusDataMismatch means row counts agree but contents differ.
	StatusDataMismatch Status = "data_mismatch"

	// StatusMissingInputs means at least one source had no readable export
	// for the table, so no comparison was possible.
	StatusMissingInputs Status = "missing_inputs"
)

// MissingInput names one source that failed to produce a readable export.
type MissingInput struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// SourceRows is one source's contribution to a table comparison: either its
// loaded rows or the error that prevented loading them.
type SourceRows struct {
	Source string
	Rows   []records.Record
	Err    error
}

// TableResult is the complete verdict for one table, with whatever evidence
// the status calls for.
type TableResult struct {
	Database   string         `json:"database"`
	Table      string         `json:"table"`
	Status     Status         `json:"status"`
	RowCount   int            `json:"row_count"`
	Counts     map[string]int `json:"counts,omitempty"`
	Missing    []MissingInput `json:"missing,omitempty"`
	PairDiffs  []PairDiff     `json:"pair_diffs,omitempty"`
	AlignDiffs []AlignDiff    `json:"align_diffs,omitempty"`

	// Digests carries each loaded source's bag fingerprint for cache reuse.
	Digests map[string]string `json:"-"`
}

// Classify compares one table across all sources and assigns its status.
// Failure modes are strictly ordered: a load failure on any source beats a
// count mismatch, and a count mismatch beats a data mismatch, so each table
// reports the most fundamental problem it has.
func Classify(database, table string, inputs []SourceRows, keyCandidates []string) TableResult {
	result := TableResult{
		Database: database,
		Table:    table,
	}

	for _, input := range inputs {
		if input.Err != nil {
			result.Missing = append(result.Missing, MissingInput{
				Source: input.Source,
				Reason: input.Err.Error(),
			})
		}
	}
	if len(result.Missing) > 0 {
		result.Status = StatusMissingInputs
		return result
	}

	result.Counts = make(map[string]int, len(inputs))
	bags := make([]*Bag, len(inputs))
	result.Digests = make(map[string]string, len(inputs))
	countsAgree := true
	for i, input := range inputs {
		result.Counts[input.Source] = len(input.Rows)
		if len(input.Rows) != len(inputs[0].Rows) {
			countsAgree = false
		}
		bags[i] = BuildBag(input.Rows)
		result.Digests[input.Source] = bags[i].Digest()
	}

	if !countsAgree {
		result.Status = StatusCountMismatch
		return result
	}

	result.RowCount = len(inputs[0].Rows)
	if AllEqual(bags) {
		result.Status = StatusPerfect
		return result
	}

	result.Status = StatusDataMismatch

	// Pairwise evidence localizes a divergence even when more than two
	// sources are involved: equal pairs report zero differences.
	for i := 0; i < len(inputs); i++ {
		for j := i + 1; j < len(inputs); j++ {
			result.PairDiffs = append(result.PairDiffs,
				DiffBags(inputs[i].Source, bags[i], inputs[j].Source, bags[j]))

			if bags[i].Equal(bags[j]) {
				continue
			}
			keyField := SelectKeyField(keyCandidates, inputs[i].Rows, inputs[j].Rows)
			result.AlignDiffs = append(result.AlignDiffs,
				AlignRows(inputs[i].Source, inputs[i].Rows, inputs[j].Source, inputs[j].Rows, keyField))
		}
	}

	return result
}

// Mismatched reports whether the result is anything other than perfect.
func (r TableResult) Mismatched() bool {
	return r.Status != StatusPerfect
}

// MissingSources returns the names of the sources that failed to load,
// sorted.
func (r TableResult) MissingSources() []string {
	names := make([]string, 0, len(r.Missing))
	for _, m := range r.Missing {
		names = append(names, m.Source)
	}
	sort.Strings(names)
	return names
}
