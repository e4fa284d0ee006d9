package core

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind enumerates the closed set of Value variants.
type Kind int

const (
	// KindNull is the absent / missing value variant.
	KindNull Kind = iota
	// KindBool is the boolean variant.
	KindBool
	// KindNumber is the float64-backed numeric variant.
	KindNumber
	// KindString is the UTF-8 string variant.
	KindString
	// KindArray is the ordered list variant.
	KindArray
	// KindObject is the string-keyed map variant.
	KindObject
)

// String returns the lower-case variant name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the schema-less datum flowing between workflow nodes: node
// arguments, node outputs, context entries and expression results are all
// Values. It is a closed tagged variant (null, bool, number, string, array,
// object) with explicit coercion helpers at evaluation boundaries, avoiding
// runtime reflection on arbitrary Go types.
//
// The zero Value is null. Values are immutable by convention: helpers that
// "modify" return copies, and callers must not alias the slices/maps returned
// by Items/Fields for mutation.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	a    []Value
	o    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int wraps an integer as a numeric Value.
func Int(i int) Value { return Number(float64(i)) }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps an ordered list of Values.
func Array(items ...Value) Value {
	return Value{kind: KindArray, a: items}
}

// Object wraps a string-keyed map of Values. A nil map yields an empty object.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, o: fields}
}

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload; ok is false for non-bool variants.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload; ok is false for non-number variants.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload; ok is false for non-string variants.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Items returns the array payload; ok is false for non-array variants.
func (v Value) Items() ([]Value, bool) { return v.a, v.kind == KindArray }

// Fields returns the object payload; ok is false for non-object variants.
func (v Value) Fields() (map[string]Value, bool) { return v.o, v.kind == KindObject }

// Field returns the named object field, or null if v is not an object or the
// key is absent. Missing segments resolve to null rather than an error, per
// the variable-resolution contract.
func (v Value) Field(name string) Value {
	if v.kind != KindObject {
		return Null()
	}
	return v.o[name]
}

// Index returns the i-th array element, or null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.a) {
		return Null()
	}
	return v.a[i]
}

// Len returns the element/field/rune count for arrays, objects and strings,
// and zero for every other variant.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.a)
	case KindObject:
		return len(v.o)
	case KindString:
		return len([]rune(v.s))
	default:
		return 0
	}
}

// Truthy coerces v to a boolean: false for null, false, 0, "" and empty
// collections; true otherwise. Used by edge conditions that evaluate to a
// non-boolean value.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindString:
		return v.s != ""
	case KindArray:
		return len(v.a) > 0
	case KindObject:
		return len(v.o) > 0
	default:
		return false
	}
}

// Text coerces v to a display string: the raw string for string variants,
// compact JSON for everything else, and "" for null.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Equal reports deep equality of two Values. Numbers compare by float64
// equality; objects compare per key ignoring order.
func (v Value) Equal(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == w.b
	case KindNumber:
		return v.n == w.n
	case KindString:
		return v.s == w.s
	case KindArray:
		if len(v.a) != len(w.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(w.a[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.o) != len(w.o) {
			return false
		}
		for k, ve := range v.o {
			we, ok := w.o[k]
			if !ok || !ve.Equal(we) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromAny converts a JSON-shaped Go value (nil, bool, numeric types, string,
// []any, map[string]any, plus their Value forms) into a Value. Unrecognized
// types fall back to their fmt representation as a string.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case string:
		return String(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return Array(items...)
	case []Value:
		return Array(t...)
	case []string:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = String(e)
		}
		return Array(items...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = FromAny(e)
		}
		return Object(fields)
	case map[string]Value:
		return Object(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToAny converts v into the equivalent JSON-shaped Go value (nil, bool,
// float64, string, []any, map[string]any). Useful at collaborator boundaries
// (expression environments, JSON encoding, tool arguments).
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.a))
		for i, e := range v.a {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.o))
		for k, e := range v.o {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// ParseJSON decodes a JSON document into a Value.
func ParseJSON(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Null(), err
	}
	return v, nil
}

// String implements fmt.Stringer with a stable, human-oriented rendering.
// Object keys are emitted in sorted order so log lines are deterministic.
func (v Value) String() string {
	switch v.kind {
	case KindObject:
		keys := make([]string, 0, len(v.o))
		for k := range v.o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %s", k, v.o[k].String())
		}
		sb.WriteByte('}')
		return sb.String()
	case KindArray:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.a {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(']')
		return sb.String()
	case KindString:
		return strconv.Quote(v.s)
	default:
		return v.Text()
	}
}
