package jsondoc

import (
	"strconv"
	"strings"

	"github.com/stratadb/strata/pkg/errors"
)

// segmentKind distinguishes a path segment's addressing mode.
type segmentKind uint8

const (
	segField segmentKind = iota
	segIndex
	segAppend
)

type segment struct {
	kind  segmentKind
	field string
	index int
}

// parsePath parses JSONPath-style syntax ($, .field, [n], [-]) into an
// ordered list of segments. "$" alone parses to an empty segment list
// (root). No package in the example corpus implements this narrow a path
// grammar; it is hand-written against spec §4.7's syntax description.
func parsePath(path string) ([]segment, error) {
	if !strings.HasPrefix(path, "$") {
		return nil, &errors.InvalidPath{Path: path, Reason: "path must start with $"}
	}
	rest := path[1:]
	var segs []segment

	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := 0
			for end < len(rest) && rest[end] != '.' && rest[end] != '[' {
				end++
			}
			if end == 0 {
				return nil, &errors.InvalidPath{Path: path, Reason: "empty field name after '.'"}
			}
			segs = append(segs, segment{kind: segField, field: rest[:end]})
			rest = rest[end:]
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return nil, &errors.InvalidPath{Path: path, Reason: "unterminated '['"}
			}
			inner := rest[1:close]
			rest = rest[close+1:]
			if inner == "-" {
				segs = append(segs, segment{kind: segAppend})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil || n < 0 {
				return nil, &errors.InvalidPath{Path: path, Reason: "array index must be a non-negative integer or '-'"}
			}
			segs = append(segs, segment{kind: segIndex, index: n})
		default:
			return nil, &errors.InvalidPath{Path: path, Reason: "expected '.' or '[' after a path segment"}
		}
	}
	return segs, nil
}
