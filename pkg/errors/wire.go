package errors

import "github.com/stratadb/strata/pkg/value"

// Wire is the canonical {"code", "message", "details"?} encoding every
// Strata error maps to for cross-process/cross-language consumers.
type Wire struct {
	Code    string
	Message string
	Details *value.Value
}

// MarshalJSON renders Wire as {"code":...,"message":...,"details":...}.
func (w Wire) MarshalJSON() ([]byte, error) {
	fields := []value.ObjectField{
		{Key: "code", Value: value.String(w.Code)},
		{Key: "message", Value: value.String(w.Message)},
	}
	if w.Details != nil {
		fields = append(fields, value.ObjectField{Key: "details", Value: *w.Details})
	}
	return value.Object(fields).MarshalJSON()
}

func obj(fields ...value.ObjectField) *value.Value {
	v := value.Object(fields)
	return &v
}

// ToWire converts any error from this package's taxonomy into its Wire
// form. Errors outside the taxonomy (a raw I/O error wrapped by a caller,
// for instance) map to Internal with the original message -- the boundary
// that owns the wire format decides that, this package only renders what
// it recognizes.
func ToWire(err error) Wire {
	switch e := err.(type) {
	case *NotFound:
		return Wire{"NotFound", e.Error(), obj(value.ObjectField{Key: "key", Value: value.String(e.Key)})}
	case *WrongType:
		return Wire{"WrongType", e.Error(), obj(
			value.ObjectField{Key: "expected", Value: value.String(e.Expected)},
			value.ObjectField{Key: "actual", Value: value.String(e.Actual)},
		)}
	case *InvalidKey:
		return Wire{"InvalidKey", e.Error(), obj(
			value.ObjectField{Key: "key", Value: value.String(e.Key)},
			value.ObjectField{Key: "reason", Value: value.String(e.Reason)},
		)}
	case *InvalidPath:
		return Wire{"InvalidPath", e.Error(), obj(
			value.ObjectField{Key: "path", Value: value.String(e.Path)},
			value.ObjectField{Key: "reason", Value: value.String(e.Reason)},
		)}
	case *HistoryTrimmed:
		return Wire{"HistoryTrimmed", e.Error(), obj(
			value.ObjectField{Key: "requested", Value: value.Int(int64(e.Requested))},
			value.ObjectField{Key: "earliest_retained", Value: value.Int(int64(e.EarliestRetained))},
		)}
	case *ConstraintViolation:
		fields := []value.ObjectField{{Key: "reason", Value: value.String(e.Reason)}}
		if e.Extra != nil {
			fields = append(fields, value.ObjectField{Key: "extra", Value: *e.Extra})
		}
		return Wire{"ConstraintViolation", e.Error(), obj(fields...)}
	case *Conflict:
		return Wire{"Conflict", e.Error(), obj(
			value.ObjectField{Key: "key", Value: value.String(e.Key)},
			value.ObjectField{Key: "expected", Value: e.Expected},
			value.ObjectField{Key: "actual", Value: e.Actual},
		)}
	case *Overflow:
		return Wire{"Overflow", e.Error(), obj(value.ObjectField{Key: "key", Value: value.String(e.Key)})}
	case *RunNotFound:
		return Wire{"RunNotFound", e.Error(), obj(value.ObjectField{Key: "run_id", Value: value.String(e.RunID)})}
	case *RunClosed:
		return Wire{"RunClosed", e.Error(), obj(
			value.ObjectField{Key: "run_id", Value: value.String(e.RunID)},
			value.ObjectField{Key: "state", Value: value.String(e.State)},
		)}
	case *RunExists:
		return Wire{"RunExists", e.Error(), obj(value.ObjectField{Key: "run_id", Value: value.String(e.RunID)})}
	case *SerializationError:
		return Wire{"SerializationError", e.Error(), obj(value.ObjectField{Key: "message", Value: value.String(e.Message)})}
	case *StorageError:
		return Wire{"StorageError", e.Error(), obj(value.ObjectField{Key: "message", Value: value.String(e.Message)})}
	case *Internal:
		return Wire{"Internal", e.Error(), obj(value.ObjectField{Key: "message", Value: value.String(e.Message)})}
	default:
		return Wire{"Internal", err.Error(), nil}
	}
}
