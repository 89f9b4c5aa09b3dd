package comparison

import (
	"fmt"
	"sort"

	"github.com/esekit/ese-verify/cmd/records"
)

// FieldExample is one concrete divergence: the alignment key (or row
// position) it occurred at and the value on each side. A nil side means the
// field was absent there, which is distinct from a present null.
type FieldExample struct {
	Key string         `json:"key"`
	A   *records.Value `json:"a,omitempty"`
	B   *records.Value `json:"b,omitempty"`
}

// FieldDiff aggregates all divergences of one field across the aligned rows
// of a pair of sources.
type FieldDiff struct {
	Field    string         `json:"field"`
	Count    int            `json:"count"`
	Examples []FieldExample `json:"examples,omitempty"`
}

// AlignDiff is field-level evidence for one pair of sources whose row counts
// match but whose contents do not. Rows are aligned by the comparison key
// when one qualifies, otherwise positionally after a structural sort.
type AlignDiff struct {
	SourceA       string      `json:"source_a"`
	SourceB       string      `json:"source_b"`
	KeyField      string      `json:"key_field,omitempty"`
	DifferingRows int         `json:"differing_rows"`
	FieldDiffs    []FieldDiff `json:"field_diffs,omitempty"`
	KeysOnlyInA   []string    `json:"keys_only_in_a,omitempty"`
	KeysOnlyInB   []string    `json:"keys_only_in_b,omitempty"`
}

// SelectKeyField returns the first candidate field that is present with a
// non-null value on every row of every source, or "" when none qualifies.
func SelectKeyField(candidates []string, sources ...[]records.Record) string {
	for _, candidate := range candidates {
		if keyCovers(candidate, sources) {
			return candidate
		}
	}
	return ""
}

func keyCovers(field string, sources [][]records.Record) bool {
	for _, rows := range sources {
		for _, row := range rows {
			v, ok := row.Get(field)
			if !ok || v.IsNull() {
				return false
			}
		}
	}
	return true
}

// AlignRows pairs up the rows of two equally sized sources and aggregates
// their field-level differences. With a key field, rows pair by key value and
// mismatched key sets are reported; without one, both sides are sorted by
// canonical form and paired positionally as a best effort.
func AlignRows(nameA string, rowsA []records.Record, nameB string, rowsB []records.Record, keyField string) AlignDiff {
	diff := AlignDiff{SourceA: nameA, SourceB: nameB, KeyField: keyField}
	fields := make(map[string]*FieldDiff)

	if keyField == "" {
		alignStructural(&diff, fields, rowsA, rowsB)
	} else {
		alignByKey(&diff, fields, rowsA, rowsB, keyField)
	}

	diff.FieldDiffs = flattenFieldDiffs(fields)
	return diff
}

func alignStructural(diff *AlignDiff, fields map[string]*FieldDiff, rowsA, rowsB []records.Record) {
	a := sortedByCanonical(rowsA)
	b := sortedByCanonical(rowsB)

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].Canonical() == b[i].Canonical() {
			continue
		}
		diff.DifferingRows++
		collectFieldDiffs(fields, fmt.Sprintf("row[%d]", i), a[i], b[i])
	}
}

func alignByKey(diff *AlignDiff, fields map[string]*FieldDiff, rowsA, rowsB []records.Record, keyField string) {
	groupsA := groupByKey(rowsA, keyField)
	groupsB := groupByKey(rowsB, keyField)

	for _, key := range unionKeys(groupsA, groupsB) {
		ga := sortedByCanonical(groupsA[key])
		gb := sortedByCanonical(groupsB[key])

		// Differing multiplicities surface as key-set evidence even when
		// the overall row counts agree.
		if len(ga) > len(gb) {
			diff.KeysOnlyInA = append(diff.KeysOnlyInA, key)
		}
		if len(gb) > len(ga) {
			diff.KeysOnlyInB = append(diff.KeysOnlyInB, key)
		}

		n := len(ga)
		if len(gb) < n {
			n = len(gb)
		}
		for i := 0; i < n; i++ {
			if ga[i].Canonical() == gb[i].Canonical() {
				continue
			}
			diff.DifferingRows++
			label := key
			if len(ga) > 1 || len(gb) > 1 {
				label = fmt.Sprintf("%s[%d]", key, i)
			}
			collectFieldDiffs(fields, label, ga[i], gb[i])
		}
	}
}

func collectFieldDiffs(fields map[string]*FieldDiff, key string, ra, rb records.Record) {
	for _, name := range unionFields(ra, rb) {
		va, oka := ra.Get(name)
		vb, okb := rb.Get(name)
		if oka && okb && va.Equal(vb) {
			continue
		}
		if !oka && !okb {
			continue
		}

		fd := fields[name]
		if fd == nil {
			fd = &FieldDiff{Field: name}
			fields[name] = fd
		}
		fd.Count++
		if len(fd.Examples) < maxEvidenceSamples {
			example := FieldExample{Key: key}
			if oka {
				v := va
				example.A = &v
			}
			if okb {
				v := vb
				example.B = &v
			}
			fd.Examples = append(fd.Examples, example)
		}
	}
}

func groupByKey(rows []records.Record, keyField string) map[string][]records.Record {
	groups := make(map[string][]records.Record)
	for _, row := range rows {
		v, _ := row.Get(keyField)
		key := v.String()
		groups[key] = append(groups[key], row)
	}
	return groups
}

func unionKeys(a, b map[string][]records.Record) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for key := range a {
		seen[key] = true
	}
	for key := range b {
		seen[key] = true
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func unionFields(a, b records.Record) []string {
	seen := make(map[string]bool, a.Len()+b.Len())
	for _, name := range a.Fields() {
		seen[name] = true
	}
	for _, name := range b.Fields() {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedByCanonical(rows []records.Record) []records.Record {
	sorted := make([]records.Record, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Canonical() < sorted[j].Canonical()
	})
	return sorted
}

func flattenFieldDiffs(fields map[string]*FieldDiff) []FieldDiff {
	if len(fields) == 0 {
		return nil
	}
	out := make([]FieldDiff, 0, len(fields))
	for _, fd := range fields {
		out = append(out, *fd)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Field < out[j].Field
	})
	return out
}
