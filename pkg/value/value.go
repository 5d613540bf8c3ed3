// Package value implements Strata's canonical Value type: an eight-variant
// tagged union used by every primitive as its stored payload.
package value

import (
	"math"
	"sort"
)

// Kind identifies which of the eight Value variants is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
)

// Value is the canonical Strata value. Exactly one of the typed fields is
// meaningful, selected by Kind. The zero Value is Null.
//
// Equality is strict: no cross-type coercion. Int(1) != Float(1.0);
// String("ab") != Bytes([]byte("ab")). Floats follow IEEE-754: NaN != NaN,
// +0.0 == -0.0.
type Value struct {
	kind   Kind
	bool_  bool
	int_   int64
	float_ float64
	str    string
	bytes  []byte
	array  []Value
	// object keys are kept sorted so wire encoding and iteration are
	// deterministic without a second sort pass.
	object []ObjectField
}

// ObjectField is one key/value pair of an Object value.
type ObjectField struct {
	Key   string
	Value Value
}

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, bool_: b} }

func Int(i int64) Value { return Value{kind: KindInt, int_: i} }

func Float(f float64) Value { return Value{kind: KindFloat, float_: f} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytes: cp}
}

func Array(vs []Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindArray, array: cp}
}

// Object builds an Object value from fields, sorting and de-duplicating by
// key (last write wins), matching the spec's "no duplicate keys" invariant.
func Object(fields []ObjectField) Value {
	byKey := make(map[string]Value, len(fields))
	order := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, seen := byKey[f.Key]; !seen {
			order = append(order, f.Key)
		}
		byKey[f.Key] = f.Value
	}
	sort.Strings(order)
	out := make([]ObjectField, len(order))
	for i, k := range order {
		out[i] = ObjectField{Key: k, Value: byKey[k]}
	}
	return Value{kind: KindObject, object: out}
}

func (v Value) Kind() Kind { return v.kind }

// TypeName returns the variant name, for error messages and introspection.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	case KindArray:
		return "Array"
	case KindObject:
		return "Object"
	default:
		return "Unknown"
	}
}

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.bool_, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.int_, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.float_, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.array, true
}

func (v Value) AsObject() ([]ObjectField, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.object, true
}

// ObjectGet looks up a field by key in an Object value.
func (v Value) ObjectGet(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	// object is sorted by key, but fields are few in practice; linear scan
	// is simpler than a binary search and the fields are already ordered
	// for wire determinism, not for lookup speed.
	for _, f := range v.object {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// IsSpecialFloat reports whether this Float needs the $f64 wire wrapper:
// NaN, +Inf, -Inf, or -0.0.
func (v Value) IsSpecialFloat() bool {
	if v.kind != KindFloat {
		return false
	}
	f := v.float_
	return math.IsNaN(f) || math.IsInf(f, 0) || (f == 0 && math.Signbit(f))
}

// Equal implements the spec's strict equality: no cross-type coercion, and
// IEEE-754 float semantics (NaN != NaN, +0.0 == -0.0).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.bool_ == b.bool_
	case KindInt:
		return a.int_ == b.int_
	case KindFloat:
		return a.float_ == b.float_ // Go's == already gives NaN!=NaN, +0==-0
	case KindString:
		return a.str == b.str
	case KindBytes:
		return bytesEqual(a.bytes, b.bytes)
	case KindArray:
		if len(a.array) != len(b.array) {
			return false
		}
		for i := range a.array {
			if !Equal(a.array[i], b.array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.object) != len(b.object) {
			return false
		}
		for i := range a.object {
			if a.object[i].Key != b.object[i].Key || !Equal(a.object[i].Value, b.object[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
