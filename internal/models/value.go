package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMapping:
		return "mapping"
	default:
		return "null"
	}
}

// Value is the structured, schema-free document used for summaries, event data,
// preferences and every other free-form field. The zero Value is null.
// Values are treated as immutable; With and Merge return copies.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float. NaN and infinities collapse to null since JSON cannot carry them.
func Number(n float64) Value {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, n: n}
}

// Int wraps an integer as a number.
func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List builds a list value.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

// Mapping builds a mapping value from m. A nil map yields an empty mapping.
func Mapping(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return Value{kind: KindMapping, m: out}
}

// EmptyMapping returns {}.
func EmptyMapping() Value { return Value{kind: KindMapping, m: map[string]Value{}} }

// FromAny converts the output of encoding/json (or plain Go scalars, slices and maps)
// into a Value.
func FromAny(v interface{}) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(t), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			iv, err := FromAny(e)
			if err != nil {
				return Null(), err
			}
			items[i] = iv
		}
		return Value{kind: KindList, list: items}, nil
	case []Value:
		return List(t...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			iv, err := FromAny(e)
			if err != nil {
				return Null(), err
			}
			m[k] = iv
		}
		return Value{kind: KindMapping, m: m}, nil
	case map[string]Value:
		return Mapping(t), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", v)
	}
}

// MustFromAny is FromAny for literals known to be valid.
func MustFromAny(v interface{}) Value {
	out, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return out
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns a copy of the items and whether v is a list.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out, true
}

// Keys returns the mapping keys in sorted order (nil for non-mappings).
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of list items or mapping entries.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMapping:
		return len(v.m)
	}
	return 0
}

// Get returns the entry for key, or null when v is not a mapping or the key is missing.
func (v Value) Get(key string) Value {
	if v.kind != KindMapping {
		return Null()
	}
	return v.m[key]
}

// Has reports whether a mapping carries key.
func (v Value) Has(key string) bool {
	if v.kind != KindMapping {
		return false
	}
	_, ok := v.m[key]
	return ok
}

// Index returns the i-th list item, or null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Null()
	}
	return v.list[i]
}

// With returns a copy of the mapping with key set. A non-mapping receiver is treated as {}.
func (v Value) With(key string, val Value) Value {
	m := make(map[string]Value, v.Len()+1)
	if v.kind == KindMapping {
		for k, e := range v.m {
			m[k] = e
		}
	}
	m[key] = val
	return Value{kind: KindMapping, m: m}
}

// Append returns a copy of the list with items appended. A null receiver is treated as [].
func (v Value) Append(items ...Value) Value {
	var base []Value
	if v.kind == KindList {
		base = v.list
	}
	out := make([]Value, 0, len(base)+len(items))
	out = append(out, base...)
	out = append(out, items...)
	return Value{kind: KindList, list: out}
}

// Merge shallow-merges other over v. Keys in other win; if other is not a mapping it
// replaces v entirely unless it is null.
func (v Value) Merge(other Value) Value {
	if other.kind == KindNull {
		return v
	}
	if other.kind != KindMapping || v.kind != KindMapping {
		return other
	}
	m := make(map[string]Value, len(v.m)+len(other.m))
	for k, e := range v.m {
		m[k] = e
	}
	for k, e := range other.m {
		m[k] = e
	}
	return Value{kind: KindMapping, m: m}
}

// Interface converts v back to plain Go values (nil, bool, float64, string,
// []interface{}, map[string]interface{}).
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	}
	return nil
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, e := range v.m {
			oe, ok := o.m[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

// Text flattens strings found anywhere in v, used for free-text matching.
func (v Value) Text() string {
	var buf bytes.Buffer
	v.appendText(&buf)
	return buf.String()
}

func (v Value) appendText(buf *bytes.Buffer) {
	switch v.kind {
	case KindString:
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(v.s)
	case KindList:
		for _, e := range v.list {
			e.appendText(buf)
		}
	case KindMapping:
		for _, k := range v.Keys() {
			v.m[k].appendText(buf)
		}
	}
}

// MarshalJSON encodes v; mapping keys come out sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
