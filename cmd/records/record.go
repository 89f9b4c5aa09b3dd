package records

import (
	"encoding/json"
	"sort"
)

// Record is one exported row: an immutable set of named normalized values.
// Field order carries no meaning, only the name-to-value mapping does.
type Record struct {
	fields map[string]Value
	canon  string
}

// NewRecord builds a record from its fields and fixes its canonical form.
// The map is retained, so callers must not mutate it afterwards.
func NewRecord(fields map[string]Value) Record {
	r := Record{fields: fields}
	r.canon = r.buildCanonical()
	return r
}

// Canonical returns the record's canonical serialized form: a compact JSON
// object with field names sorted lexicographically. Two records are
// semantically identical exactly when their canonical forms are equal.
func (r Record) Canonical() string {
	return r.canon
}

// Get returns the named field's value and whether the field is present.
func (r Record) Get(name string) (Value, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns the record's field names in sorted order.
func (r Record) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// MarshalJSON renders the record as a JSON object with sorted keys, for
// sample evidence in machine-readable reports.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}

func (r Record) buildCanonical() string {
	names := r.Fields()
	buf := make([]byte, 0, 32*len(names))
	buf = append(buf, '{')
	for i, name := range names {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendQuoted(buf, name)
		buf = append(buf, ':')
		buf = r.fields[name].appendCanonical(buf)
	}
	buf = append(buf, '}')
	return string(buf)
}
