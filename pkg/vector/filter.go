package vector

import "github.com/stratadb/strata/pkg/value"

// FilterKind identifies which metadata filter predicate a Filter holds.
type FilterKind uint8

const (
	FilterEquals FilterKind = iota
	FilterPrefix
	FilterRange
	FilterAnd
	FilterOr
	FilterNot
)

// Filter is the metadata filter language from spec §4.10: Equals, Prefix,
// Range, And, Or, Not, applied post-ANN (after candidates are fetched, not
// pushed into the index itself).
type Filter struct {
	Kind     FilterKind
	Field    string
	Scalar   value.Value // FilterEquals
	Prefix   string      // FilterPrefix
	Min, Max value.Value // FilterRange
	Operands []Filter    // FilterAnd, FilterOr
	Operand  *Filter     // FilterNot
}

func Equals(field string, scalar value.Value) Filter {
	return Filter{Kind: FilterEquals, Field: field, Scalar: scalar}
}

func Prefix(field, prefix string) Filter {
	return Filter{Kind: FilterPrefix, Field: field, Prefix: prefix}
}

func Range(field string, min, max value.Value) Filter {
	return Filter{Kind: FilterRange, Field: field, Min: min, Max: max}
}

func And(operands []Filter) Filter {
	return Filter{Kind: FilterAnd, Operands: operands}
}

func Or(operands []Filter) Filter {
	return Filter{Kind: FilterOr, Operands: operands}
}

func Not(operand Filter) Filter {
	return Filter{Kind: FilterNot, Operand: &operand}
}

// matches reports whether metadata (an Object value, or Null if the vector
// carries none) satisfies f.
func (f Filter) matches(metadata value.Value) bool {
	switch f.Kind {
	case FilterEquals:
		v, ok := metadata.ObjectGet(f.Field)
		return ok && value.Equal(v, f.Scalar)
	case FilterPrefix:
		v, ok := metadata.ObjectGet(f.Field)
		if !ok {
			return false
		}
		s, ok := v.AsString()
		if !ok {
			return false
		}
		return len(s) >= len(f.Prefix) && s[:len(f.Prefix)] == f.Prefix
	case FilterRange:
		v, ok := metadata.ObjectGet(f.Field)
		if !ok {
			return false
		}
		return scalarInRange(v, f.Min, f.Max)
	case FilterAnd:
		for _, op := range f.Operands {
			if !op.matches(metadata) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, op := range f.Operands {
			if op.matches(metadata) {
				return true
			}
		}
		return false
	case FilterNot:
		return f.Operand == nil || !f.Operand.matches(metadata)
	default:
		return false
	}
}

func scalarInRange(v, min, max value.Value) bool {
	toFloat := func(x value.Value) (float64, bool) {
		if i, ok := x.AsInt(); ok {
			return float64(i), true
		}
		if f, ok := x.AsFloat(); ok {
			return f, true
		}
		return 0, false
	}
	vf, ok := toFloat(v)
	if !ok {
		return false
	}
	if !min.IsNull() {
		minf, ok := toFloat(min)
		if ok && vf < minf {
			return false
		}
	}
	if !max.IsNull() {
		maxf, ok := toFloat(max)
		if ok && vf > maxf {
			return false
		}
	}
	return true
}
