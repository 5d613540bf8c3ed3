package value

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary field numbers. There is no generated .proto for this message (the
// substrate has no .proto/.pb.go anywhere in reach), so the wire shape is
// hand-written directly against protowire's tag/varint/bytes primitives --
// the same framing discipline protoc would generate, without the codegen
// step.
const (
	fieldKind   protowire.Number = 1
	fieldBool   protowire.Number = 2
	fieldInt    protowire.Number = 3
	fieldFloat  protowire.Number = 4
	fieldString protowire.Number = 5
	fieldBytes  protowire.Number = 6
	fieldArray  protowire.Number = 7 // repeated, one tag per element
	fieldObject protowire.Number = 8 // repeated, one tag per field
)

// objField sub-message field numbers, nested inside fieldObject entries.
const (
	fieldObjKey protowire.Number = 1
	fieldObjVal protowire.Number = 2
)

// EncodeBinary serializes v into the WAL's record-payload wire format.
func EncodeBinary(v Value) []byte {
	var buf []byte
	buf = appendValue(buf, v)
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(v.kind))

	switch v.kind {
	case KindNull:
		// no payload beyond the kind tag
	case KindBool:
		buf = protowire.AppendTag(buf, fieldBool, protowire.VarintType)
		b := uint64(0)
		if v.bool_ {
			b = 1
		}
		buf = protowire.AppendVarint(buf, b)
	case KindInt:
		buf = protowire.AppendTag(buf, fieldInt, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(v.int_))
	case KindFloat:
		buf = protowire.AppendTag(buf, fieldFloat, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, math.Float64bits(v.float_))
	case KindString:
		buf = protowire.AppendTag(buf, fieldString, protowire.BytesType)
		buf = protowire.AppendString(buf, v.str)
	case KindBytes:
		buf = protowire.AppendTag(buf, fieldBytes, protowire.BytesType)
		buf = protowire.AppendBytes(buf, v.bytes)
	case KindArray:
		for _, elem := range v.array {
			var elemBuf []byte
			elemBuf = appendValue(elemBuf, elem)
			buf = protowire.AppendTag(buf, fieldArray, protowire.BytesType)
			buf = protowire.AppendBytes(buf, elemBuf)
		}
	case KindObject:
		for _, f := range v.object {
			var fieldBuf []byte
			fieldBuf = protowire.AppendTag(fieldBuf, fieldObjKey, protowire.BytesType)
			fieldBuf = protowire.AppendString(fieldBuf, f.Key)
			var valBuf []byte
			valBuf = appendValue(valBuf, f.Value)
			fieldBuf = protowire.AppendTag(fieldBuf, fieldObjVal, protowire.BytesType)
			fieldBuf = protowire.AppendBytes(fieldBuf, valBuf)

			buf = protowire.AppendTag(buf, fieldObject, protowire.BytesType)
			buf = protowire.AppendBytes(buf, fieldBuf)
		}
	}
	return buf
}

// DecodeBinary parses the wire format produced by EncodeBinary.
func DecodeBinary(buf []byte) (Value, error) {
	v, n, err := consumeValue(buf)
	if err != nil {
		return Value{}, err
	}
	if n != len(buf) {
		return Value{}, fmt.Errorf("value: %d trailing bytes after decode", len(buf)-n)
	}
	return v, nil
}

func consumeValue(buf []byte) (Value, int, error) {
	var v Value
	haveKind := false
	var array []Value
	var object []ObjectField

	off := 0
	for off < len(buf) {
		num, typ, n := protowire.ConsumeTag(buf[off:])
		if n < 0 {
			return Value{}, 0, fmt.Errorf("value: bad tag at offset %d", off)
		}
		off += n

		switch num {
		case fieldKind:
			k, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad kind varint")
			}
			off += m
			v.kind = Kind(k)
			haveKind = true
		case fieldBool:
			b, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad bool varint")
			}
			off += m
			v.bool_ = b != 0
		case fieldInt:
			zz, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad int varint")
			}
			off += m
			v.int_ = protowire.DecodeZigZag(zz)
		case fieldFloat:
			bits, m := protowire.ConsumeFixed64(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad float fixed64")
			}
			off += m
			v.float_ = math.Float64frombits(bits)
		case fieldString:
			s, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad string bytes")
			}
			off += m
			v.str = string(s)
		case fieldBytes:
			b, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad bytes field")
			}
			off += m
			v.bytes = append([]byte(nil), b...)
		case fieldArray:
			elemBuf, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad array element")
			}
			off += m
			elem, _, err := consumeValue(elemBuf)
			if err != nil {
				return Value{}, 0, err
			}
			array = append(array, elem)
		case fieldObject:
			fieldBuf, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: bad object field")
			}
			off += m
			f, err := consumeObjectField(fieldBuf)
			if err != nil {
				return Value{}, 0, err
			}
			object = append(object, f)
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf[off:])
			if m < 0 {
				return Value{}, 0, fmt.Errorf("value: unknown field %d", num)
			}
			off += m
		}
	}

	if !haveKind {
		return Value{}, 0, fmt.Errorf("value: missing kind field")
	}
	if v.kind == KindArray {
		v.array = array
	}
	if v.kind == KindObject {
		v.object = object
	}
	return v, off, nil
}

func consumeObjectField(buf []byte) (ObjectField, error) {
	var f ObjectField
	off := 0
	for off < len(buf) {
		num, typ, n := protowire.ConsumeTag(buf[off:])
		if n < 0 {
			return ObjectField{}, fmt.Errorf("value: bad object field tag")
		}
		off += n

		switch num {
		case fieldObjKey:
			k, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return ObjectField{}, fmt.Errorf("value: bad object key bytes")
			}
			off += m
			f.Key = string(k)
		case fieldObjVal:
			valBuf, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return ObjectField{}, fmt.Errorf("value: bad object value bytes")
			}
			off += m
			val, _, err := consumeValue(valBuf)
			if err != nil {
				return ObjectField{}, err
			}
			f.Value = val
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf[off:])
			if m < 0 {
				return ObjectField{}, fmt.Errorf("value: unknown object field %d", num)
			}
			off += m
		}
	}
	return f, nil
}
