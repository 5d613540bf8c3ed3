package jsondoc

import (
	"fmt"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/value"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Document bodies are stored canonically as BSON bytes (a value.Bytes
// payload), not as a structured Value tree -- the same JsonToBson/
// MarshalBson/BsonToJson round trip the teacher's storage layer used for
// its own document store (pkg/storage/bson.go), adapted here to convert
// to and from this substrate's Value tree instead of a raw JSON string.
// encodeDocument/decodeDocument sit at the Get/Set/Delete/Merge boundary:
// everything in between (path navigation, merge patch) still operates on
// a plain, structured value.Value.

// encodeDocument marshals a document's Object root to its canonical BSON
// encoding, returned as a value.Bytes payload ready to hand to the
// substrate.
func encodeDocument(v value.Value) (value.Value, error) {
	doc, err := valueToBSONDocument(v)
	if err != nil {
		return value.Value{}, err
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return value.Value{}, &errors.SerializationError{Message: "bson marshal: " + err.Error()}
	}
	return value.Bytes(data), nil
}

// decodeDocument reverses encodeDocument: stored must be the value.Bytes
// payload a prior encodeDocument produced.
func decodeDocument(stored value.Value) (value.Value, error) {
	data, ok := stored.AsBytes()
	if !ok {
		return value.Value{}, &errors.Internal{Message: "stored json document body was not BSON-encoded bytes"}
	}
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return value.Value{}, &errors.SerializationError{Message: "bson unmarshal: " + err.Error()}
	}
	return bsonDocumentToValue(doc)
}

func valueToBSONDocument(v value.Value) (bson.D, error) {
	fields, ok := v.AsObject()
	if !ok {
		return nil, &errors.ConstraintViolation{Reason: "json document root must be an Object"}
	}
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		bv, err := valueToBSON(f.Value)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: f.Key, Value: bv})
	}
	return doc, nil
}

func valueToBSON(v value.Value) (any, error) {
	switch v.Kind() {
	case value.KindNull:
		return nil, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return b, nil
	case value.KindInt:
		i, _ := v.AsInt()
		return i, nil
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f, nil
	case value.KindString:
		s, _ := v.AsString()
		return s, nil
	case value.KindArray:
		items, _ := v.AsArray()
		arr := make(bson.A, 0, len(items))
		for _, item := range items {
			bv, err := valueToBSON(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, bv)
		}
		return arr, nil
	case value.KindObject:
		return valueToBSONDocument(v)
	default:
		// KindBytes has no JSON representation and so no place in a json
		// document body; every other Kind is handled above.
		return nil, &errors.ConstraintViolation{Reason: fmt.Sprintf("json documents cannot hold a %s value", v.TypeName())}
	}
}

func bsonDocumentToValue(doc bson.D) (value.Value, error) {
	fields := make([]value.ObjectField, 0, len(doc))
	for _, e := range doc {
		fv, err := bsonToValue(e.Value)
		if err != nil {
			return value.Value{}, err
		}
		fields = append(fields, value.ObjectField{Key: e.Key, Value: fv})
	}
	return value.Object(fields), nil
}

func bsonToValue(v any) (value.Value, error) {
	switch x := v.(type) {
	case nil:
		return value.Null(), nil
	case bool:
		return value.Bool(x), nil
	case int32:
		return value.Int(int64(x)), nil
	case int64:
		return value.Int(x), nil
	case float64:
		return value.Float(x), nil
	case string:
		return value.String(x), nil
	case bson.A:
		items := make([]value.Value, 0, len(x))
		for _, item := range x {
			iv, err := bsonToValue(item)
			if err != nil {
				return value.Value{}, err
			}
			items = append(items, iv)
		}
		return value.Array(items), nil
	case bson.D:
		return bsonDocumentToValue(x)
	default:
		return value.Value{}, &errors.SerializationError{Message: fmt.Sprintf("unsupported BSON value type %T decoding json document", v)}
	}
}
