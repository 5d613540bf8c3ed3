package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// Absent is the sentinel CAS comparand meaning "the key must not exist".
// It encodes to {"$absent": true} and is distinct from Null.
var Absent = Value{kind: kindAbsent}

// kindAbsent is an internal marker kind, not one of the eight public
// variants -- it only ever appears as a CAS expected-value comparand, never
// as a stored value, so it lives outside the Kind enum consumers switch on.
const kindAbsent Kind = 255

func (v Value) IsAbsent() bool { return v.kind == kindAbsent }

// MarshalJSON implements the wire codec of spec section 6.1: Bytes, special
// floats, and the CAS-absent marker are encoded via dedicated single-key
// wrapper objects; everything else maps to plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindAbsent:
		return []byte(`{"$absent":true}`), nil
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.bool_ {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInt:
		return json.Marshal(v.int_)
	case KindFloat:
		if v.IsSpecialFloat() {
			return json.Marshal(map[string]string{"$f64": specialFloatString(v.float_)})
		}
		return json.Marshal(v.float_)
	case KindString:
		return json.Marshal(v.str)
	case KindBytes:
		return json.Marshal(map[string]string{"$bytes": base64.StdEncoding.EncodeToString(v.bytes)})
	case KindArray:
		out := make([]json.RawMessage, len(v.array))
		for i, e := range v.array {
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return json.Marshal(out)
	case KindObject:
		// fields are already key-sorted (Object() enforces this), and
		// Go's json.Marshal on a map would re-sort anyway -- building the
		// raw object by hand avoids allocating an intermediate map.
		buf := []byte{'{'}
		for i, f := range v.object {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, err := json.Marshal(f.Key)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			valJSON, err := f.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, valJSON...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return nil, fmt.Errorf("value: cannot marshal unknown kind %d", v.kind)
	}
}

func specialFloatString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	default:
		return "-0.0"
	}
}

func specialFloatFromString(s string) (float64, bool) {
	switch s {
	case "NaN":
		return math.NaN(), true
	case "+Inf":
		return math.Inf(1), true
	case "-Inf":
		return math.Inf(-1), true
	case "-0.0":
		return math.Copysign(0, -1), true
	default:
		return 0, false
	}
}

// UnmarshalJSON implements the wire codec's decode half. A single-key
// object whose key is "$bytes", "$f64", or "$absent" and whose value has
// the right shape decodes to the wrapped value; any other object --
// including one with those keys but the wrong shape, or extra keys --
// decodes as a plain Object.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := decodeJSONValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func decodeJSONValue(data json.RawMessage) (Value, error) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		return Value{}, fmt.Errorf("value: empty JSON")
	}

	switch trimmed[0] {
	case 'n':
		return Null(), nil
	case 't':
		return Bool(true), nil
	case 'f':
		return Bool(false), nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Value{}, err
		}
		return String(s), nil
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return Value{}, err
		}
		elems := make([]Value, len(raws))
		for i, r := range raws {
			elem, err := decodeJSONValue(r)
			if err != nil {
				return Value{}, err
			}
			elems[i] = elem
		}
		return Array(elems), nil
	case '{':
		return decodeJSONObject(data)
	default:
		return decodeJSONNumber(data)
	}
}

func decodeJSONNumber(data json.RawMessage) (Value, error) {
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return Value{}, err
	}
	// Int decoding prefers i64, parsed directly from the decimal text so a
	// large integer never loses precision through an intermediate float64.
	if i, err := num.Int64(); err == nil {
		return Int(i), nil
	}
	f, err := num.Float64()
	if err != nil {
		return Value{}, err
	}
	return Float(f), nil
}

func decodeJSONObject(data json.RawMessage) (Value, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}

	if len(raw) == 1 {
		if b, ok := raw["$bytes"]; ok {
			var s string
			if err := json.Unmarshal(b, &s); err == nil {
				decoded, err := base64.StdEncoding.DecodeString(s)
				if err == nil {
					return Bytes(decoded), nil
				}
			}
		}
		if f, ok := raw["$f64"]; ok {
			var s string
			if err := json.Unmarshal(f, &s); err == nil {
				if fv, ok := specialFloatFromString(s); ok {
					return Float(fv), nil
				}
			}
		}
		if a, ok := raw["$absent"]; ok {
			var b bool
			if err := json.Unmarshal(a, &b); err == nil && b {
				return Absent, nil
			}
		}
	}

	fields := make([]ObjectField, 0, len(raw))
	for k, r := range raw {
		fv, err := decodeJSONValue(r)
		if err != nil {
			return Value{}, err
		}
		fields = append(fields, ObjectField{Key: k, Value: fv})
	}
	return Object(fields), nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
