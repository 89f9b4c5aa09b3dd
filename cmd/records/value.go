package records

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the type of a normalized scalar value. The set is closed:
// every value an export can carry maps onto exactly one of these, with
// unrepresentable shapes (nested documents, exotic SQL types) folded into
// KindText via a lossy textual fallback.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBinary
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable scalar in comparison-stable form. Construction
// normalizes: text is right-trimmed of NUL padding and GUID-shaped text loses
// its punctuation, binary payloads become lowercase hex. Constructing a Value
// from an already-normalized payload returns an identical Value, so
// normalization is idempotent.
//
// Two deliberate, lossy collapses are part of the contract:
//   - a binary payload whose bytes happen to be ASCII hex digits is
//     indistinguishable from a pre-encoded hex string and passes through
//     unchanged rather than being double-encoded;
//   - text of exactly 32 hex characters, or 36 characters in the canonical
//     8-4-4-4-12 hyphenated grouping, is treated as a GUID even when it is
//     coincidentally GUID-shaped ordinary text.
//
// Both collapses apply identically to every source, so they cannot flip a
// table's verdict.
type Value struct {
	kind Kind
	str  string // int literal, float rendering, text, or hex payload
	b    bool
	f    float64
}

// Null returns the canonical null value. The zero Value is also null.
func Null() Value {
	return Value{kind: KindNull}
}

// Bool returns a boolean value.
func Bool(v bool) Value {
	return Value{kind: KindBool, b: v, str: strconv.FormatBool(v)}
}

// Int returns an integer value.
func Int(v int64) Value {
	return Value{kind: KindInt, str: strconv.FormatInt(v, 10)}
}

// intLiteral wraps a JSON integer token without parsing it, so unsigned
// 64-bit columns survive beyond the int64 range.
func intLiteral(literal string) Value {
	if literal == "-0" {
		literal = "0"
	}
	return Value{kind: KindInt, str: literal}
}

// Float returns a floating-point value. The canonical rendering always keeps
// a decimal point or exponent so that Float(1) and Int(1) stay distinct.
func Float(v float64) Value {
	return Value{kind: KindFloat, f: v, str: formatFloat(v)}
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && s != "NaN" {
		s += ".0"
	}
	return s
}

// Text returns a text value with trailing NUL padding trimmed and GUID-shaped
// strings reduced to their 32-character unpunctuated lowercase form. An empty
// string stays a text value, distinct from null.
func Text(v string) Value {
	v = strings.TrimRight(v, "\x00")
	if isGUIDShaped(v) {
		v = strings.ToLower(strings.ReplaceAll(v, "-", ""))
	}
	return Value{kind: KindText, str: v}
}

// Binary returns a binary value encoded as lowercase hex text. A payload that
// is already entirely ASCII hex digits is treated as pre-encoded and passes
// through unchanged.
func Binary(v []byte) Value {
	if isHexASCII(v) {
		return Value{kind: KindBinary, str: string(v)}
	}
	return Value{kind: KindBinary, str: hex.EncodeToString(v)}
}

// FromJSON maps one decoded JSON scalar onto the value model. Numbers must be
// decoded with json.Number so the int/float distinction survives. Nested
// arrays and objects fall back to their compact JSON rendering as text.
func FromJSON(raw interface{}) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case json.Number:
		literal := v.String()
		if strings.ContainsAny(literal, ".eE") {
			f, err := v.Float64()
			if err == nil {
				return Float(f)
			}
			// Out-of-range exponent; keep the literal as text so both
			// sides of a comparison see the same token.
			return Value{kind: KindText, str: literal}
		}
		return intLiteral(literal)
	case string:
		return Text(v)
	default:
		// Lossy fallback for shapes outside the closed kind set.
		// json.Marshal sorts map keys, so the rendering is deterministic.
		encoded, err := json.Marshal(v)
		if err != nil {
			return Value{kind: KindText, str: fmt.Sprintf("%v", v)}
		}
		return Value{kind: KindText, str: string(encoded)}
	}
}

// Kind reports which member of the closed kind set this value is.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether the value is canonical null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// String returns the bare textual form used in diff evidence and alignment
// keys: "null" for null, the literal payload for everything else.
func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.str
}

// Equal reports whether two values normalize to the same canonical form.
// Text and binary compare by payload across kinds: a hex-encoded binary value
// and the identical hex string are equal by design.
func (v Value) Equal(o Value) bool {
	if foldKind(v.kind) != foldKind(o.kind) {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	default:
		// Floats compare by canonical rendering, which makes NaN equal
		// to NaN: identical exported tokens must never diff.
		return v.str == o.str
	}
}

func foldKind(k Kind) Kind {
	if k == KindBinary {
		return KindText
	}
	return k
}

// appendCanonical writes the value's canonical serialized fragment. Text and
// binary share the quoted-string form; int keeps its exact literal; float
// keeps its distinct rendering.
func (v Value) appendCanonical(dst []byte) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...)
	case KindBool:
		return append(dst, v.str...)
	case KindInt, KindFloat:
		return append(dst, v.str...)
	default:
		return appendQuoted(dst, v.str)
	}
}

// MarshalJSON renders the value as native JSON for machine-readable reports.
// Non-finite floats have no JSON representation and are emitted as quoted
// strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return []byte(v.str), nil
	case KindInt:
		return []byte(v.str), nil
	case KindFloat:
		if strings.Contains(v.str, "Inf") || v.str == "NaN" {
			return json.Marshal(v.str)
		}
		return []byte(v.str), nil
	default:
		return json.Marshal(v.str)
	}
}

func appendQuoted(dst []byte, s string) []byte {
	quoted, err := json.Marshal(s)
	if err != nil {
		// Marshal of a string cannot fail; keep the fallback total anyway.
		return strconv.AppendQuote(dst, s)
	}
	return append(dst, quoted...)
}

// isGUIDShaped reports whether s is exactly 32 hex characters, or exactly 36
// characters hyphenated in the canonical 8-4-4-4-12 grouping.
func isGUIDShaped(s string) bool {
	switch len(s) {
	case 32:
		for i := 0; i < len(s); i++ {
			if !isHexDigit(s[i]) {
				return false
			}
		}
		return true
	case 36:
		for i := 0; i < len(s); i++ {
			if i == 8 || i == 13 || i == 18 || i == 23 {
				if s[i] != '-' {
					return false
				}
				continue
			}
			if !isHexDigit(s[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isHexASCII(b []byte) bool {
	for _, c := range b {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
