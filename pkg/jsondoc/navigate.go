package jsondoc

import (
	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/value"
)

// get walks segs from root and returns the value found there, or ok=false if
// the path is absent (a missing field, an out-of-range index, or navigating
// through a non-container).
func get(root value.Value, segs []segment) (value.Value, bool) {
	cur := root
	for _, seg := range segs {
		switch seg.kind {
		case segField:
			if cur.Kind() != value.KindObject {
				return value.Value{}, false
			}
			v, found := cur.ObjectGet(seg.field)
			if !found {
				return value.Value{}, false
			}
			cur = v
		case segIndex:
			arr, ok := cur.AsArray()
			if !ok || seg.index >= len(arr) {
				return value.Value{}, false
			}
			cur = arr[seg.index]
		case segAppend:
			// append is write-only; absent on read.
			return value.Value{}, false
		}
	}
	return cur, true
}

// set returns a new document with target placed at the path described by
// segs, auto-creating intermediate Objects/Arrays as needed. root must
// itself be an Object when segs is empty (whole-document replace) -- that
// check is the caller's responsibility (json_set("$", ...)).
func set(root value.Value, segs []segment, target value.Value) (value.Value, error) {
	if len(segs) == 0 {
		return target, nil
	}
	return setAt(root, segs, target)
}

func setAt(cur value.Value, segs []segment, target value.Value) (value.Value, error) {
	seg := segs[0]
	rest := segs[1:]

	switch seg.kind {
	case segField:
		var fields []value.ObjectField
		if cur.Kind() == value.KindObject {
			existing, _ := cur.AsObject()
			fields = append(fields, existing...)
		} else if !cur.IsNull() {
			return value.Value{}, &errors.InvalidPath{Reason: "cannot set a field on a non-Object, non-absent value"}
		}

		child := value.Null()
		for _, f := range fields {
			if f.Key == seg.field {
				child = f.Value
				break
			}
		}

		var newChild value.Value
		var err error
		if len(rest) == 0 {
			newChild = target
		} else {
			newChild, err = setAt(child, rest, target)
			if err != nil {
				return value.Value{}, err
			}
		}

		replaced := false
		for i, f := range fields {
			if f.Key == seg.field {
				fields[i] = value.ObjectField{Key: seg.field, Value: newChild}
				replaced = true
				break
			}
		}
		if !replaced {
			fields = append(fields, value.ObjectField{Key: seg.field, Value: newChild})
		}
		return value.Object(fields), nil

	case segIndex, segAppend:
		var arr []value.Value
		if cur.Kind() == value.KindArray {
			existing, _ := cur.AsArray()
			arr = append(arr, existing...)
		} else if !cur.IsNull() {
			return value.Value{}, &errors.InvalidPath{Reason: "cannot set an array index on a non-Array, non-absent value"}
		}

		if seg.kind == segAppend {
			if len(rest) != 0 {
				return value.Value{}, &errors.InvalidPath{Reason: "'[-]' must be the final path segment"}
			}
			arr = append(arr, target)
			return value.Array(arr), nil
		}

		if seg.index > len(arr) {
			return value.Value{}, &errors.InvalidPath{Reason: "array index out of range"}
		}

		var newElem value.Value
		var err error
		if seg.index == len(arr) {
			if len(rest) == 0 {
				newElem = target
			} else {
				newElem, err = setAt(value.Null(), rest, target)
				if err != nil {
					return value.Value{}, err
				}
			}
			arr = append(arr, newElem)
			return value.Array(arr), nil
		}

		if len(rest) == 0 {
			newElem = target
		} else {
			newElem, err = setAt(arr[seg.index], rest, target)
			if err != nil {
				return value.Value{}, err
			}
		}
		arr[seg.index] = newElem
		return value.Array(arr), nil
	}
	return value.Value{}, &errors.Internal{Message: "unreachable path segment kind"}
}

// deleteAt returns a new document with the value at segs removed, and a count
// of how many entries were removed (0 if the path was already absent). segs
// must be non-empty -- deleting "$" is rejected by the caller.
func deleteAt(root value.Value, segs []segment) (value.Value, int, error) {
	if len(segs) == 0 {
		return value.Value{}, 0, &errors.Internal{Message: "deleteAt requires a non-empty path"}
	}
	return deleteRec(root, segs)
}

func deleteRec(cur value.Value, segs []segment) (value.Value, int, error) {
	seg := segs[0]
	rest := segs[1:]

	switch seg.kind {
	case segField:
		fields, ok := cur.AsObject()
		if !ok {
			return cur, 0, nil
		}
		idx := -1
		for i, f := range fields {
			if f.Key == seg.field {
				idx = i
				break
			}
		}
		if idx < 0 {
			return cur, 0, nil
		}
		if len(rest) == 0 {
			out := make([]value.ObjectField, 0, len(fields)-1)
			out = append(out, fields[:idx]...)
			out = append(out, fields[idx+1:]...)
			return value.Object(out), 1, nil
		}
		newChild, count, err := deleteRec(fields[idx].Value, rest)
		if err != nil {
			return value.Value{}, 0, err
		}
		if count == 0 {
			return cur, 0, nil
		}
		out := append([]value.ObjectField(nil), fields...)
		out[idx] = value.ObjectField{Key: seg.field, Value: newChild}
		return value.Object(out), count, nil

	case segIndex:
		arr, ok := cur.AsArray()
		if !ok || seg.index >= len(arr) {
			return cur, 0, nil
		}
		if len(rest) == 0 {
			out := make([]value.Value, 0, len(arr)-1)
			out = append(out, arr[:seg.index]...)
			out = append(out, arr[seg.index+1:]...)
			return value.Array(out), 1, nil
		}
		newChild, count, err := deleteRec(arr[seg.index], rest)
		if err != nil {
			return value.Value{}, 0, err
		}
		if count == 0 {
			return cur, 0, nil
		}
		out := append([]value.Value(nil), arr...)
		out[seg.index] = newChild
		return value.Array(out), count, nil

	case segAppend:
		return value.Value{}, 0, &errors.InvalidPath{Reason: "'[-]' is not a valid delete target"}
	}
	return cur, 0, nil
}

// mergePatch implements RFC 7396 JSON Merge Patch over target: recursive for
// Objects, Null in patch deletes the field, arrays and scalars replace
// wholesale.
func mergePatch(target, patch value.Value) value.Value {
	if patch.Kind() != value.KindObject {
		return patch
	}
	targetFields, targetIsObject := target.AsObject()
	if !targetIsObject {
		targetFields = nil
	}

	byKey := make(map[string]value.Value, len(targetFields))
	order := make([]string, 0, len(targetFields))
	for _, f := range targetFields {
		byKey[f.Key] = f.Value
		order = append(order, f.Key)
	}

	patchFields, _ := patch.AsObject()
	for _, f := range patchFields {
		if f.Value.Kind() == value.KindNull {
			delete(byKey, f.Key)
			continue
		}
		if _, existed := byKey[f.Key]; !existed {
			order = append(order, f.Key)
		}
		byKey[f.Key] = mergePatch(byKey[f.Key], f.Value)
	}

	out := make([]value.ObjectField, 0, len(order))
	for _, k := range order {
		if v, ok := byKey[k]; ok {
			out = append(out, value.ObjectField{Key: k, Value: v})
		}
	}
	return value.Object(out)
}
